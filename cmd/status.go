package cmd

import (
	"fmt"

	"coldstore/internal/logger"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [destination]",
	Short: "Show per-job backup state for a destination",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()
		m := newManager()

		if len(args) == 0 {
			dests, err := m.Destinations()
			if err != nil {
				return err
			}
			if len(dests) == 0 {
				fmt.Println("no destinations configured, run setup first")
				return nil
			}

			fmt.Printf("%-20s %-10s %-20s %-20s %s\n",
				"NAME", "TYPE", "BUCKET", "PATH", "LAST BACKUP")
			for _, d := range dests {
				last := "never"
				if d.LastBackupAt != nil {
					last = humanize.Time(*d.LastBackupAt)
				}
				fmt.Printf("%-20s %-10s %-20s %-20s %s\n",
					d.Name, d.Type, d.Bucket, d.RemotePath, last)
			}
			return nil
		}

		dest, jobs, err := m.Status(args[0])
		if err != nil {
			return err
		}

		last := "never"
		if dest.LastBackupAt != nil {
			last = humanize.Time(*dest.LastBackupAt)
		}
		fmt.Printf("destination %q (%s), last full backup: %s\n", dest.Name, dest.Type, last)

		if len(jobs) == 0 {
			fmt.Println("no jobs recorded")
			return nil
		}

		fmt.Printf("%-40s %-12s %-22s %-12s %-10s %s\n",
			"SOURCE", "STATUS", "BYTES", "FILES", "SPEED", "RETRIES")
		for _, j := range jobs {
			bytes := fmt.Sprintf("%s / %s",
				humanize.IBytes(uint64(j.BytesTransferred)),
				humanize.IBytes(uint64(j.BytesTotal)))
			files := fmt.Sprintf("%d / %d", j.FilesTransferred, j.FilesTotal)

			speed := humanize.IBytes(uint64(j.Speed)) + "/s"
			fmt.Printf("%-40s %-12s %-22s %-12s %-10s %d\n",
				j.SourcePath, j.Status, bytes, files, speed, j.RetryCount)
			if j.Error != "" {
				fmt.Printf("    last error: %s\n", j.Error)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
