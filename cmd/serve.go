package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coldstore/internal/logger"
	"coldstore/internal/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve backup status and controls over local HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()

		srv := server.New(newManager(), cfg.ServePort)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-sigCh:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
