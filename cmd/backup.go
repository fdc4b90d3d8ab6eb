package cmd

import (
	"errors"
	"fmt"
	"time"

	"coldstore/internal/logger"
	"coldstore/internal/manager"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	backupDryRun bool
	backupForce  bool
)

var backupCmd = &cobra.Command{
	Use:   "backup [destination]",
	Short: "Run a backup of all configured sources to a destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()

		summary, err := newManager().RunBackup(cmd.Context(), args[0], backupDryRun, backupForce)
		if err != nil {
			var staleErr *manager.StaleJobError
			if errors.As(err, &staleErr) {
				fmt.Println(staleErr.Error())
				return errors.New("run blocked by unfinished jobs")
			}
			return err
		}

		printSummary(summary)
		return nil
	},
}

func printSummary(s *manager.RunSummary) {
	if s.DryRun {
		fmt.Printf("dry run of %q — no state was changed\n", s.Destination)
	}

	fmt.Printf("%-40s %-12s %-22s %-12s %-8s %s\n",
		"SOURCE", "STATUS", "BYTES", "FILES", "RETRIES", "ERROR")

	for _, j := range s.Jobs {
		bytes := fmt.Sprintf("%s / %s",
			humanize.IBytes(uint64(j.BytesTransferred)),
			humanize.IBytes(uint64(j.BytesTotal)))
		files := fmt.Sprintf("%d / %d", j.FilesTransferred, j.FilesTotal)

		fmt.Printf("%-40s %-12s %-22s %-12s %-8d %s\n",
			j.SourcePath, j.Status, bytes, files, j.RetryCount, j.Error)
	}

	fmt.Printf("run %s: %d completed, %d failed, %d pending (took %s)\n",
		s.RunID,
		s.Count(manager.StatusCompleted),
		s.Count(manager.StatusFailed),
		s.Count(manager.StatusPending),
		s.FinishedAt.Sub(s.StartedAt).Round(time.Second))

	logger.Log.Debug("run summary printed", zap.String("run", s.RunID))
}

func init() {
	backupCmd.Flags().BoolVar(&backupDryRun, "dry-run", false, "Preview the run without touching any state")
	backupCmd.Flags().BoolVar(&backupForce, "force", false, "Run even when unfinished jobs exist, resuming interrupted ones")
	rootCmd.AddCommand(backupCmd)
}
