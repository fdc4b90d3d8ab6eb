package cmd

import (
	"context"
	"os"

	"coldstore/internal/config"
	"coldstore/internal/db"
	"coldstore/internal/destination"
	"coldstore/internal/logger"
	"coldstore/internal/manager"
	"coldstore/internal/model"
	"coldstore/internal/rclone"
	"coldstore/internal/secrets"

	"github.com/spf13/cobra"
)

var (
	cfg   *config.Config
	debug bool
)

var rootCmd = &cobra.Command{
	Use:   "coldstore",
	Short: "Resumable encrypted backups to remote object storage",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		logger.Init(debug)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		return db.Init(cfg.DBPath)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newManager() *manager.Manager {
	provider := secrets.NewProvider()
	engine := rclone.NewEngine(cfg.BufferSize)

	return manager.New(cfg, destinationFactory(provider, engine), func(ctx context.Context) error {
		if err := engine.CheckAvailable(); err != nil {
			return err
		}
		if err := provider.CheckAvailable(); err != nil {
			return err
		}
		return provider.CheckAuthenticated(ctx)
	})
}

func destinationFactory(provider *secrets.Provider, engine *rclone.Engine) manager.DestinationFactory {
	return func(rec model.Destination) destination.Destination {
		return destination.NewB2Crypt(rec, provider, engine, destination.Options{
			Vault:         cfg.OpVault,
			S3Endpoint:    cfg.S3Endpoint,
			S3Region:      cfg.S3Region,
			StatsInterval: cfg.StatsInterval(),
		})
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
}
