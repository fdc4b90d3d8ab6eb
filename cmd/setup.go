package cmd

import (
	"errors"
	"fmt"

	"coldstore/internal/db"
	"coldstore/internal/logger"
	"coldstore/internal/model"
	"coldstore/internal/rclone"
	"coldstore/internal/repository"
	"coldstore/internal/secrets"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	setupBucket string
	setupPath   string
)

var setupCmd = &cobra.Command{
	Use:   "setup [name]",
	Short: "Create and configure an encrypted destination",
	Long: `Create a destination, write its rclone remotes, validate credentials
and connectivity, and round-trip a test file through the crypt overlay.

Credentials are read from the 1Password item named after the destination;
they are never stored by coldstore.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()
		name := args[0]

		repo := repository.NewDestinationRepository()
		if _, err := repo.GetByName(name); err == nil {
			return fmt.Errorf("destination %q already exists", name)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check destination: %w", err)
		}

		rec, err := repo.Create(name, model.DestinationB2Crypt, setupBucket, setupPath)
		if err != nil {
			return fmt.Errorf("failed to create destination: %w", err)
		}

		provider := secrets.NewProvider()
		engine := rclone.NewEngine(cfg.BufferSize)
		dest := destinationFactory(provider, engine)(rec)

		fmt.Println("configuring rclone remotes...")
		if err := dest.Configure(cmd.Context()); err != nil {
			rollback(rec)
			return err
		}

		fmt.Println("validating credentials and connectivity...")
		if err := dest.Validate(cmd.Context()); err != nil {
			rollback(rec)
			return err
		}

		fmt.Println("testing encrypted write...")
		if err := dest.TestWrite(cmd.Context()); err != nil {
			rollback(rec)
			return err
		}

		fmt.Printf("destination %q is ready\n", name)
		return nil
	},
}

// rollback removes a half-configured destination so setup can be rerun.
func rollback(rec model.Destination) {
	if err := db.DB.Unscoped().Delete(&rec).Error; err != nil {
		logger.Log.Warn("failed to roll back destination",
			zap.String("name", rec.Name),
			zap.Error(err))
	}
}

func init() {
	setupCmd.Flags().StringVar(&setupBucket, "bucket", "", "Object-store bucket name (informational, the credential item is authoritative)")
	setupCmd.Flags().StringVar(&setupPath, "path", "backups", "Path inside the bucket under which everything is stored")
	rootCmd.AddCommand(setupCmd)
}
