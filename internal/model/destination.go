package model

import (
	"time"

	"gorm.io/gorm"
)

type DestinationType string

const (
	DestinationB2Crypt DestinationType = "b2-crypt"
)

// Destination is a configured, credentialed remote target. LastBackupAt
// moves only after a run completes every configured source.
type Destination struct {
	gorm.Model
	Name         string          `gorm:"not null;uniqueIndex"`
	Type         DestinationType `gorm:"not null"`
	Bucket       string          `gorm:"not null"`
	RemotePath   string          `gorm:"not null"`
	LastBackupAt *time.Time
}
