package db

import (
	"fmt"

	"coldstore/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init(dbPath string) error {
	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}

	// AutoMigrate is idempotent, safe on fresh and existing stores.
	if err := DB.AutoMigrate(&model.Destination{}, &model.BackupJob{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	return nil
}
