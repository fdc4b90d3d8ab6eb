package model

import (
	"time"

	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusPending     JobStatus = "PENDING"
	JobStatusRunning     JobStatus = "RUNNING"
	JobStatusInterrupted JobStatus = "INTERRUPTED"
	JobStatusCompleted   JobStatus = "COMPLETED"
	JobStatusFailed      JobStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions
// except an explicit reset.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// BackupJob is one attempt to synchronize one source directory to one
// destination. At most one non-terminal job exists per
// (destination, source path) pair.
type BackupJob struct {
	gorm.Model
	DestinationID    uint      `gorm:"not null;index"`
	SourcePath       string    `gorm:"not null"`
	Status           JobStatus `gorm:"not null;default:'PENDING';index"`
	BytesTotal       int64
	BytesTransferred int64
	FilesTotal       int64
	FilesTransferred int64
	TransferSpeed    float64
	StartedAt        *time.Time
	CompletedAt      *time.Time
	LastUpdate       time.Time
	ErrorMessage     string
	RetryCount       int
	Priority         int `gorm:"not null;default:0"`
}
