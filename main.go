package main

import (
	"os"

	"coldstore/cmd"
)

func main() {
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "status")
	}
	cmd.Execute()
}
