// Package manager orchestrates backup runs: it owns the job state
// machine, the staleness scan, the retry budget and the advisory run
// lock. Jobs for one destination always execute strictly sequentially.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coldstore/internal/config"
	"coldstore/internal/destination"
	"coldstore/internal/logger"
	"coldstore/internal/model"
	"coldstore/internal/rclone"
	"coldstore/internal/repository"
	"coldstore/internal/secrets"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// DestinationFactory builds the capability object for a stored
// destination row.
type DestinationFactory func(rec model.Destination) destination.Destination

type Manager struct {
	cfg     *config.Config
	dests   *repository.DestinationRepository
	jobs    *repository.JobRepository
	newDest DestinationFactory
	prereq  func(ctx context.Context) error
}

func New(cfg *config.Config, newDest DestinationFactory, prereq func(ctx context.Context) error) *Manager {
	return &Manager{
		cfg:     cfg,
		dests:   repository.NewDestinationRepository(),
		jobs:    repository.NewJobRepository(),
		newDest: newDest,
		prereq:  prereq,
	}
}

func (m *Manager) lookup(destName string) (model.Destination, error) {
	rec, err := m.dests.GetByName(destName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, &ConfigurationError{Err: fmt.Errorf("unknown destination %q", destName)}
	}
	return rec, err
}

// RunBackup executes one run against the named destination. It always
// returns a summary when jobs were touched; fatal precondition failures
// return before any job row exists.
func (m *Manager) RunBackup(ctx context.Context, destName string, dryRun, force bool) (*RunSummary, error) {
	rec, err := m.lookup(destName)
	if err != nil {
		return nil, err
	}

	if err := m.cfg.ValidateSources(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	if m.prereq != nil {
		if err := m.prereq(ctx); err != nil {
			return nil, &PrerequisiteError{Err: err}
		}
	}

	dest := m.newDest(rec)
	if err := dest.Validate(ctx); err != nil {
		return nil, classifyValidation(err)
	}

	if dryRun {
		return m.runDry(ctx, rec, dest)
	}

	lock, err := acquireLock(m.cfg.LockDir, rec.Name)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	// Reclassify abandoned RUNNING jobs before the non-terminal scan so
	// a forced run resumes them instead of racing a dead owner.
	stale, err := m.jobs.FindStale(m.cfg.StaleThreshold())
	if err != nil {
		return nil, err
	}

	active, err := m.jobs.GetActive(rec.ID)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		if !force {
			return nil, &StaleJobError{Jobs: active}
		}
		for _, j := range stale {
			if j.DestinationID != rec.ID {
				continue
			}
			if err := m.jobs.MarkInterrupted(j.ID); err != nil {
				return nil, err
			}
			logger.Log.Warn("reclassified stale job as interrupted",
				zap.Uint("job", j.ID),
				zap.String("source", j.SourcePath),
				zap.Time("last_update", j.LastUpdate))
		}
	}

	return m.runReal(ctx, rec, dest)
}

func (m *Manager) runReal(ctx context.Context, rec model.Destination, dest destination.Destination) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:       uuid.NewString(),
		Destination: rec.Name,
		StartedAt:   time.Now(),
	}

	rlog, err := openRunLog(m.cfg.LogDir, rec.Name)
	if err != nil {
		return nil, err
	}
	defer rlog.close()
	rlog.start(summary.RunID, rec.Name, false)

	allCompleted := true
	for _, src := range m.cfg.SortedSources() {
		job, err := m.jobs.FindOrCreate(rec.ID, src.Path, src.Priority)
		if err != nil {
			return nil, err
		}

		result := m.executeJob(ctx, dest, job, rlog)
		summary.Jobs = append(summary.Jobs, result)
		if result.Status != StatusCompleted {
			allCompleted = false
		}
	}

	if allCompleted && len(summary.Jobs) > 0 {
		if err := m.dests.TouchLastBackup(rec.ID); err != nil {
			logger.Log.Warn("failed to update last backup time", zap.Error(err))
		}
	}

	summary.FinishedAt = time.Now()
	rlog.summary(summary)

	logger.Log.Info("run finished",
		zap.String("run", summary.RunID),
		zap.String("destination", rec.Name),
		zap.Int("completed", summary.Count(StatusCompleted)),
		zap.Int("failed", summary.Count(StatusFailed)),
		zap.Int("pending", summary.Count(StatusPending)))

	return summary, nil
}

// executeJob runs one job to a terminal or requeued state. A single
// job's failure never aborts its siblings.
func (m *Manager) executeJob(ctx context.Context, dest destination.Destination, job model.BackupJob, rlog *runLog) JobResult {
	if err := m.jobs.MarkRunning(job.ID); err != nil {
		return JobResult{JobID: job.ID, SourcePath: job.SourcePath, Status: string(job.Status), Error: err.Error()}
	}

	rlog.jobStart(job.SourcePath)
	logger.Log.Info("job started",
		zap.Uint("job", job.ID),
		zap.String("source", job.SourcePath),
		zap.Int("priority", job.Priority),
		zap.Int("retries", job.RetryCount))

	// Coalesce persisted progress to one write per stats interval; the
	// final snapshot is always written after the stream ends.
	limiter := rate.NewLimiter(rate.Every(m.cfg.StatsInterval()), 1)
	var last *rclone.Progress

	syncErr := dest.Backup(ctx, job.SourcePath, false, func(p rclone.Progress) {
		last = &p
		rlog.progress(job.SourcePath, p)
		if limiter.Allow() {
			if err := m.jobs.UpdateProgress(job.ID, toProgress(p)); err != nil {
				logger.Log.Warn("failed to persist progress",
					zap.Uint("job", job.ID),
					zap.Error(err))
			}
		}
	})

	if last != nil {
		if err := m.jobs.UpdateProgress(job.ID, toProgress(*last)); err != nil {
			logger.Log.Warn("failed to persist final progress",
				zap.Uint("job", job.ID),
				zap.Error(err))
		}
	}

	if syncErr == nil {
		if err := m.jobs.MarkCompleted(job.ID); err != nil {
			logger.Log.Error("failed to mark job completed", zap.Uint("job", job.ID), zap.Error(err))
		}
		rlog.jobDone(job.SourcePath, StatusCompleted)
		logger.Log.Info("job completed", zap.Uint("job", job.ID), zap.String("source", job.SourcePath))
	} else {
		rlog.jobError(job.SourcePath, syncErr)
		attempts := job.RetryCount + 1
		if attempts >= m.cfg.MaxRetries {
			if err := m.jobs.MarkFailed(job.ID, syncErr.Error()); err != nil {
				logger.Log.Error("failed to mark job failed", zap.Uint("job", job.ID), zap.Error(err))
			}
			rlog.jobDone(job.SourcePath, StatusFailed)
			logger.Log.Error("job failed permanently",
				zap.Uint("job", job.ID),
				zap.String("source", job.SourcePath),
				zap.Int("attempts", attempts),
				zap.Error(syncErr))
		} else {
			if err := m.jobs.Requeue(job.ID, syncErr.Error()); err != nil {
				logger.Log.Error("failed to requeue job", zap.Uint("job", job.ID), zap.Error(err))
			}
			rlog.jobDone(job.SourcePath, StatusPending)
			logger.Log.Warn("job failed, requeued for next invocation",
				zap.Uint("job", job.ID),
				zap.String("source", job.SourcePath),
				zap.Int("attempts", attempts),
				zap.Error(syncErr))
		}
	}

	final, err := m.jobs.GetByID(job.ID)
	if err != nil {
		return JobResult{JobID: job.ID, SourcePath: job.SourcePath, Status: StatusFailed, Error: err.Error()}
	}
	return toResult(final)
}

// runDry previews every source without creating or mutating any row.
func (m *Manager) runDry(ctx context.Context, rec model.Destination, dest destination.Destination) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:       uuid.NewString(),
		Destination: rec.Name,
		DryRun:      true,
		StartedAt:   time.Now(),
	}

	rlog, err := openRunLog(m.cfg.LogDir, rec.Name)
	if err != nil {
		return nil, err
	}
	defer rlog.close()
	rlog.start(summary.RunID, rec.Name, true)

	for _, src := range m.cfg.SortedSources() {
		result := JobResult{SourcePath: src.Path, Status: StatusPreview}

		err := dest.Backup(ctx, src.Path, true, func(p rclone.Progress) {
			result.BytesTransferred = p.BytesTransferred
			result.BytesTotal = p.BytesTotal
			result.FilesTransferred = p.FilesTransferred
			result.FilesTotal = p.FilesTotal
			rlog.progress(src.Path, p)
		})
		if err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
			rlog.jobError(src.Path, err)
		}

		summary.Jobs = append(summary.Jobs, result)
	}

	summary.FinishedAt = time.Now()
	rlog.summary(summary)
	return summary, nil
}

// Status returns per-job summaries for the destination. Like a run
// start, it reclassifies RUNNING jobs whose owner is presumed dead.
func (m *Manager) Status(destName string) (model.Destination, []JobResult, error) {
	rec, err := m.lookup(destName)
	if err != nil {
		return rec, nil, err
	}

	stale, err := m.jobs.FindStale(m.cfg.StaleThreshold())
	if err != nil {
		return rec, nil, err
	}
	for _, j := range stale {
		if j.DestinationID != rec.ID {
			continue
		}
		if err := m.jobs.MarkInterrupted(j.ID); err != nil {
			return rec, nil, err
		}
	}

	jobs, err := m.jobs.GetByDestination(rec.ID)
	if err != nil {
		return rec, nil, err
	}

	results := make([]JobResult, 0, len(jobs))
	for _, j := range jobs {
		results = append(results, toResult(j))
	}
	return rec, results, nil
}

// Reset clears every job row for the destination. The destination row,
// including lastBackupAt, is left untouched.
func (m *Manager) Reset(destName string) error {
	rec, err := m.lookup(destName)
	if err != nil {
		return err
	}
	return m.jobs.Reset(rec.ID)
}

// Destinations lists all configured destinations.
func (m *Manager) Destinations() ([]model.Destination, error) {
	return m.dests.GetAll()
}

func classifyValidation(err error) error {
	var fieldErr *secrets.FieldMissingError
	switch {
	case errors.Is(err, secrets.ErrNotFound),
		errors.Is(err, secrets.ErrNotAuthenticated),
		errors.As(err, &fieldErr):
		return &CredentialError{Err: err}
	default:
		return fmt.Errorf("destination validation failed: %w", err)
	}
}

func toProgress(p rclone.Progress) repository.Progress {
	return repository.Progress{
		BytesTransferred: p.BytesTransferred,
		BytesTotal:       p.BytesTotal,
		FilesTransferred: p.FilesTransferred,
		FilesTotal:       p.FilesTotal,
		Speed:            p.Speed,
	}
}

func toResult(job model.BackupJob) JobResult {
	return JobResult{
		JobID:            job.ID,
		SourcePath:       job.SourcePath,
		Status:           string(job.Status),
		BytesTransferred: job.BytesTransferred,
		BytesTotal:       job.BytesTotal,
		FilesTransferred: job.FilesTransferred,
		FilesTotal:       job.FilesTotal,
		Speed:            job.TransferSpeed,
		RetryCount:       job.RetryCount,
		Error:            job.ErrorMessage,
	}
}
