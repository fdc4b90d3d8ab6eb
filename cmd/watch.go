package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coldstore/internal/logger"
	"coldstore/internal/manager"
	"coldstore/internal/watcher"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [destination]",
	Short: "Watch the configured sources and back up after changes settle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()
		destName := args[0]
		m := newManager()

		trigger := func() {
			summary, err := m.RunBackup(context.Background(), destName, false, false)
			if err != nil {
				var staleErr *manager.StaleJobError
				if errors.As(err, &staleErr) {
					logger.Log.Warn("triggered run blocked by unfinished jobs",
						zap.String("destination", destName),
						zap.Error(err))
					return
				}
				logger.Log.Error("triggered run failed",
					zap.String("destination", destName),
					zap.Error(err))
				return
			}
			logger.Log.Info("triggered run finished",
				zap.String("run", summary.RunID),
				zap.Int("completed", summary.Count(manager.StatusCompleted)),
				zap.Int("failed", summary.Count(manager.StatusFailed)))
		}

		w, err := watcher.New(watchDebounce, trigger)
		if err != nil {
			return err
		}

		dirs := make([]string, 0, len(cfg.Sources))
		for _, s := range cfg.SortedSources() {
			dirs = append(dirs, s.Path)
		}
		if err := w.Watch(dirs); err != nil {
			return err
		}
		defer w.Stop()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 5*time.Minute, "Quiet period after the last change before a run starts")
	rootCmd.AddCommand(watchCmd)
}
