package repository

import (
	"time"

	"coldstore/internal/db"
	"coldstore/internal/model"

	"gorm.io/gorm"
)

var nonTerminal = []model.JobStatus{
	model.JobStatusPending,
	model.JobStatusRunning,
	model.JobStatusInterrupted,
}

type JobRepository struct{}

func NewJobRepository() *JobRepository {
	return &JobRepository{}
}

// FindOrCreate returns the non-terminal job for the (destination, source)
// pair, creating a PENDING one when none exists. The priority is written
// through so config changes take effect on the next run.
func (r *JobRepository) FindOrCreate(destID uint, sourcePath string, priority int) (model.BackupJob, error) {
	var job model.BackupJob
	err := db.DB.
		Where("destination_id = ? AND source_path = ? AND status IN ?", destID, sourcePath, nonTerminal).
		First(&job).Error
	if err == nil {
		if job.Priority != priority {
			job.Priority = priority
			err = db.DB.Model(&job).Update("priority", priority).Error
		}
		return job, err
	}

	job = model.BackupJob{
		DestinationID: destID,
		SourcePath:    sourcePath,
		Status:        model.JobStatusPending,
		Priority:      priority,
		LastUpdate:    time.Now(),
	}
	return job, db.DB.Create(&job).Error
}

func (r *JobRepository) GetByID(id uint) (model.BackupJob, error) {
	var job model.BackupJob
	return job, db.DB.First(&job, id).Error
}

func (r *JobRepository) GetByDestination(destID uint) ([]model.BackupJob, error) {
	var jobs []model.BackupJob
	return jobs, db.DB.
		Where("destination_id = ?", destID).
		Order("priority asc, id asc").
		Find(&jobs).Error
}

// GetActive returns every non-terminal job for the destination.
func (r *JobRepository) GetActive(destID uint) ([]model.BackupJob, error) {
	var jobs []model.BackupJob
	return jobs, db.DB.
		Where("destination_id = ? AND status IN ?", destID, nonTerminal).
		Order("priority asc, id asc").
		Find(&jobs).Error
}

// FindStale returns RUNNING jobs whose last update is older than the
// threshold, across all destinations.
func (r *JobRepository) FindStale(threshold time.Duration) ([]model.BackupJob, error) {
	var jobs []model.BackupJob
	cutoff := time.Now().Add(-threshold)
	return jobs, db.DB.
		Where("status = ? AND last_update < ?", model.JobStatusRunning, cutoff).
		Find(&jobs).Error
}

func (r *JobRepository) MarkRunning(id uint) error {
	now := time.Now()
	return db.DB.Model(&model.BackupJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        model.JobStatusRunning,
			"started_at":    &now,
			"last_update":   now,
			"error_message": "",
		}).Error
}

type Progress struct {
	BytesTransferred int64
	BytesTotal       int64
	FilesTransferred int64
	FilesTotal       int64
	Speed            float64
}

func (r *JobRepository) UpdateProgress(id uint, p Progress) error {
	return db.DB.Model(&model.BackupJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"bytes_transferred": p.BytesTransferred,
			"bytes_total":       p.BytesTotal,
			"files_transferred": p.FilesTransferred,
			"files_total":       p.FilesTotal,
			"transfer_speed":    p.Speed,
			"last_update":       time.Now(),
		}).Error
}

func (r *JobRepository) MarkCompleted(id uint) error {
	now := time.Now()
	return db.DB.Model(&model.BackupJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       model.JobStatusCompleted,
			"completed_at": &now,
			"last_update":  now,
		}).Error
}

// MarkFailed records a failed attempt that exhausted the retry budget.
// The job is terminal until an explicit reset.
func (r *JobRepository) MarkFailed(id uint, errMsg string) error {
	return db.DB.Model(&model.BackupJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        model.JobStatusFailed,
			"error_message": errMsg,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_update":   time.Now(),
		}).Error
}

// Requeue records a failed attempt that is still below the retry limit.
// The job goes back to PENDING and is retried on the next invocation.
func (r *JobRepository) Requeue(id uint, errMsg string) error {
	return db.DB.Model(&model.BackupJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        model.JobStatusPending,
			"error_message": errMsg,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_update":   time.Now(),
		}).Error
}

func (r *JobRepository) MarkInterrupted(id uint) error {
	return db.DB.Model(&model.BackupJob{}).
		Where("id = ?", id).
		Update("status", model.JobStatusInterrupted).Error
}

// Reset removes every job row for the destination. The destination row
// itself is untouched.
func (r *JobRepository) Reset(destID uint) error {
	return db.DB.
		Where("destination_id = ?", destID).
		Delete(&model.BackupJob{}).Error
}
