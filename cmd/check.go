package cmd

import (
	"fmt"

	"coldstore/internal/logger"
	"coldstore/internal/rclone"
	"coldstore/internal/repository"
	"coldstore/internal/secrets"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [destination]",
	Short: "Check prerequisites and, optionally, one destination",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()
		ctx := cmd.Context()

		provider := secrets.NewProvider()
		engine := rclone.NewEngine(cfg.BufferSize)

		ok := true
		ok = report("rclone on PATH", engine.CheckAvailable()) && ok
		ok = report("op on PATH", provider.CheckAvailable()) && ok
		ok = report("op signed in", provider.CheckAuthenticated(ctx)) && ok

		if len(args) == 1 {
			rec, err := repository.NewDestinationRepository().GetByName(args[0])
			if err != nil {
				return fmt.Errorf("unknown destination %q", args[0])
			}

			dest := destinationFactory(provider, engine)(rec)
			ok = report("destination "+rec.Name, dest.Validate(ctx)) && ok
		}

		if !ok {
			return fmt.Errorf("checks failed")
		}

		fmt.Println("all checks passed")
		return nil
	},
}

func report(what string, err error) bool {
	if err != nil {
		fmt.Printf("FAIL  %s: %v\n", what, err)
		return false
	}
	fmt.Printf("ok    %s\n", what)
	return true
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
