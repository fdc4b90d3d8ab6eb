package cmd

import (
	"fmt"

	"coldstore/internal/logger"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset [destination]",
	Short: "Clear all job state for a destination",
	Long: `Clear all job rows for a destination, terminal and unfinished alike.
The destination itself, including its last-backup time, is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()

		if err := newManager().Reset(args[0]); err != nil {
			return err
		}

		fmt.Printf("jobs for %q cleared\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
