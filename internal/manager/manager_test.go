package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coldstore/internal/config"
	"coldstore/internal/db"
	"coldstore/internal/destination"
	"coldstore/internal/model"
	"coldstore/internal/rclone"
	"coldstore/internal/repository"
	"coldstore/internal/secrets"
)

type fakeDest struct {
	rec      model.Destination
	validate func(ctx context.Context) error
	backup   func(source string, dryRun bool, onProgress func(rclone.Progress)) error
}

func (f *fakeDest) Name() string                        { return f.rec.Name }
func (f *fakeDest) Type() string                        { return "fake" }
func (f *fakeDest) Configure(ctx context.Context) error { return nil }
func (f *fakeDest) TestWrite(ctx context.Context) error { return nil }

func (f *fakeDest) Validate(ctx context.Context) error {
	if f.validate != nil {
		return f.validate(ctx)
	}
	return nil
}

func (f *fakeDest) Backup(ctx context.Context, source string, dryRun bool, onProgress func(rclone.Progress)) error {
	return f.backup(source, dryRun, onProgress)
}

type fixture struct {
	m    *Manager
	rec  model.Destination
	fake *fakeDest
	jobs *repository.JobRepository
}

func setup(t *testing.T, sources []config.Source) *fixture {
	t.Helper()

	if err := db.Init(":memory:"); err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	rec, err := repository.NewDestinationRepository().Create("offsite", model.DestinationB2Crypt, "bucket", "backups")
	if err != nil {
		t.Fatalf("failed to create destination: %v", err)
	}

	cfg := &config.Config{
		LogDir:            t.TempDir(),
		LockDir:           t.TempDir(),
		StatsIntervalSecs: 30,
		StalenessFactor:   3,
		MaxRetries:        3,
		Sources:           sources,
	}

	fake := &fakeDest{rec: rec}
	m := New(cfg, func(rec model.Destination) destination.Destination { return fake }, nil)

	return &fixture{m: m, rec: rec, fake: fake, jobs: repository.NewJobRepository()}
}

func succeed(bytes int64) func(string, bool, func(rclone.Progress)) error {
	return func(source string, dryRun bool, onProgress func(rclone.Progress)) error {
		onProgress(rclone.Progress{BytesTransferred: bytes, BytesTotal: bytes, FilesTransferred: 1, FilesTotal: 1})
		return nil
	}
}

func countJobs(t *testing.T, fx *fixture) int {
	t.Helper()

	jobs, err := fx.jobs.GetByDestination(fx.rec.ID)
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	return len(jobs)
}

func TestRunBlockedByNonTerminalJob(t *testing.T) {
	fx := setup(t, []config.Source{{Path: "/data/a", Priority: 1}})

	if _, err := fx.jobs.FindOrCreate(fx.rec.ID, "/data/a", 1); err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}

	_, err := fx.m.RunBackup(context.Background(), "offsite", false, false)

	var staleErr *StaleJobError
	if !errors.As(err, &staleErr) {
		t.Fatalf("expected StaleJobError, got %v", err)
	}
	if len(staleErr.Jobs) != 1 {
		t.Errorf("expected 1 blocking job, got %d", len(staleErr.Jobs))
	}
	if n := countJobs(t, fx); n != 1 {
		t.Errorf("blocked run must create zero new rows, have %d", n)
	}
}

func TestStaleJobReclassifiedOnForce(t *testing.T) {
	fx := setup(t, []config.Source{{Path: "/data/a", Priority: 1}})
	fx.fake.backup = succeed(100)

	job, _ := fx.jobs.FindOrCreate(fx.rec.ID, "/data/a", 1)
	old := time.Now().Add(-5 * time.Minute) // 3x the 30s stats interval and then some
	if err := db.DB.Model(&model.BackupJob{}).Where("id = ?", job.ID).
		Updates(map[string]any{"status": model.JobStatusRunning, "last_update": old}).Error; err != nil {
		t.Fatalf("failed to age job: %v", err)
	}

	// Without force the abandoned job blocks the run.
	_, err := fx.m.RunBackup(context.Background(), "offsite", false, false)
	var staleErr *StaleJobError
	if !errors.As(err, &staleErr) {
		t.Fatalf("expected StaleJobError, got %v", err)
	}

	// With force it is reclassified and resumed to completion.
	summary, err := fx.m.RunBackup(context.Background(), "offsite", false, true)
	if err != nil {
		t.Fatalf("forced run failed: %v", err)
	}
	if n := summary.Count(StatusCompleted); n != 1 {
		t.Errorf("completed = %d, want 1", n)
	}

	got, _ := fx.jobs.GetByID(job.ID)
	if got.Status != model.JobStatusCompleted {
		t.Errorf("job status = %s, want COMPLETED", got.Status)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	fx := setup(t, []config.Source{
		{Path: "/data/a", Priority: 1},
		{Path: "/data/b", Priority: 2},
	})

	// Third and final attempt for /data/a fails, /data/b succeeds.
	job, _ := fx.jobs.FindOrCreate(fx.rec.ID, "/data/a", 1)
	if err := db.DB.Model(&model.BackupJob{}).Where("id = ?", job.ID).
		Update("retry_count", 2).Error; err != nil {
		t.Fatalf("failed to seed retries: %v", err)
	}

	fx.fake.backup = func(source string, dryRun bool, onProgress func(rclone.Progress)) error {
		if source == "/data/a" {
			return fmt.Errorf("connection reset")
		}
		return succeed(50)(source, dryRun, onProgress)
	}

	summary, err := fx.m.RunBackup(context.Background(), "offsite", false, true)
	if err != nil {
		t.Fatalf("run must return normally despite a failed job: %v", err)
	}

	if n := summary.Count(StatusFailed); n != 1 {
		t.Errorf("failed = %d, want 1", n)
	}
	if n := summary.Count(StatusCompleted); n != 1 {
		t.Errorf("completed = %d, want 1", n)
	}
	if summary.Jobs[0].SourcePath != "/data/a" {
		t.Errorf("jobs must run in ascending priority order, first was %s", summary.Jobs[0].SourcePath)
	}

	got, _ := fx.jobs.GetByID(job.ID)
	if got.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", got.RetryCount)
	}
	if got.Status != model.JobStatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
}

func TestFailureBelowLimitRequeues(t *testing.T) {
	fx := setup(t, []config.Source{{Path: "/data/a", Priority: 1}})
	fx.fake.backup = func(source string, dryRun bool, onProgress func(rclone.Progress)) error {
		return fmt.Errorf("timeout")
	}

	summary, err := fx.m.RunBackup(context.Background(), "offsite", false, false)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if n := summary.Count(StatusPending); n != 1 {
		t.Errorf("pending = %d, want 1 (retry on next invocation)", n)
	}

	jobs, _ := fx.jobs.GetByDestination(fx.rec.ID)
	if jobs[0].RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", jobs[0].RetryCount)
	}
	if jobs[0].Status != model.JobStatusPending {
		t.Errorf("status = %s, want PENDING", jobs[0].Status)
	}

	// The destination never counts a partial run as a backup.
	rec, _ := repository.NewDestinationRepository().GetByName("offsite")
	if rec.LastBackupAt != nil {
		t.Error("last backup time must not move on a failed run")
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	fx := setup(t, []config.Source{{Path: "/data/a", Priority: 1}})

	var sawDryRun bool
	fx.fake.backup = func(source string, dryRun bool, onProgress func(rclone.Progress)) error {
		sawDryRun = dryRun
		onProgress(rclone.Progress{BytesTransferred: 0, BytesTotal: 1234, FilesTotal: 7})
		return nil
	}

	summary, err := fx.m.RunBackup(context.Background(), "offsite", true, false)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !sawDryRun {
		t.Error("backup must be invoked in dry-run mode")
	}
	if !summary.DryRun {
		t.Error("summary must be marked as a dry run")
	}
	if summary.Jobs[0].Status != StatusPreview {
		t.Errorf("dry-run job status = %s, want PREVIEW", summary.Jobs[0].Status)
	}
	if n := countJobs(t, fx); n != 0 {
		t.Errorf("dry run created %d job rows, want 0", n)
	}

	// A subsequent real run behaves as if no dry run happened.
	fx.fake.backup = succeed(1234)
	real, err := fx.m.RunBackup(context.Background(), "offsite", false, false)
	if err != nil {
		t.Fatalf("real run after dry run failed: %v", err)
	}
	if n := real.Count(StatusCompleted); n != 1 {
		t.Errorf("completed = %d, want 1", n)
	}
}

func TestFinalProgressAlwaysPersisted(t *testing.T) {
	fx := setup(t, []config.Source{{Path: "/data/a", Priority: 1}})

	// Emit snapshots far faster than the stats interval; coalescing may
	// drop intermediates but never the last value.
	fx.fake.backup = func(source string, dryRun bool, onProgress func(rclone.Progress)) error {
		for i := int64(1); i <= 10; i++ {
			onProgress(rclone.Progress{BytesTransferred: i * 10, BytesTotal: 100, FilesTransferred: i, FilesTotal: 10})
		}
		return nil
	}

	if _, err := fx.m.RunBackup(context.Background(), "offsite", false, false); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	jobs, _ := fx.jobs.GetByDestination(fx.rec.ID)
	if jobs[0].BytesTransferred != 100 {
		t.Errorf("persisted bytes = %d, want the final 100", jobs[0].BytesTransferred)
	}
	if jobs[0].FilesTransferred != 10 {
		t.Errorf("persisted files = %d, want 10", jobs[0].FilesTransferred)
	}
}

func TestLastBackupSetAfterFullSuccess(t *testing.T) {
	fx := setup(t, []config.Source{
		{Path: "/data/a", Priority: 1},
		{Path: "/data/b", Priority: 2},
	})
	fx.fake.backup = succeed(10)

	if _, err := fx.m.RunBackup(context.Background(), "offsite", false, false); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	rec, _ := repository.NewDestinationRepository().GetByName("offsite")
	if rec.LastBackupAt == nil {
		t.Error("last backup time should be set after every source completed")
	}
}

func TestStatusReclassifiesStaleJobs(t *testing.T) {
	fx := setup(t, []config.Source{{Path: "/data/a", Priority: 1}})

	job, _ := fx.jobs.FindOrCreate(fx.rec.ID, "/data/a", 1)
	old := time.Now().Add(-5 * time.Minute)
	if err := db.DB.Model(&model.BackupJob{}).Where("id = ?", job.ID).
		Updates(map[string]any{"status": model.JobStatusRunning, "last_update": old}).Error; err != nil {
		t.Fatalf("failed to age job: %v", err)
	}

	_, jobs, err := fx.m.Status("offsite")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if jobs[0].Status != StatusInterrupted {
		t.Errorf("status = %s, want INTERRUPTED", jobs[0].Status)
	}
}

func TestCredentialFailureAbortsBeforeJobs(t *testing.T) {
	fx := setup(t, []config.Source{{Path: "/data/a", Priority: 1}})
	fx.fake.validate = func(ctx context.Context) error {
		return fmt.Errorf("checking vault: %w", secrets.ErrNotFound)
	}

	_, err := fx.m.RunBackup(context.Background(), "offsite", false, false)

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
	if n := countJobs(t, fx); n != 0 {
		t.Errorf("aborted run created %d job rows, want 0", n)
	}
}

func TestUnknownDestination(t *testing.T) {
	fx := setup(t, []config.Source{{Path: "/data/a", Priority: 1}})

	_, err := fx.m.RunBackup(context.Background(), "nowhere", false, false)

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if n := countJobs(t, fx); n != 0 {
		t.Errorf("unknown destination created %d job rows", n)
	}
}

func TestNoSourcesConfigured(t *testing.T) {
	fx := setup(t, nil)

	_, err := fx.m.RunBackup(context.Background(), "offsite", false, false)

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestRunLock(t *testing.T) {
	t.Run("SecondAcquireBlocked", func(t *testing.T) {
		dir := t.TempDir()

		lock, err := acquireLock(dir, "offsite")
		if err != nil {
			t.Fatalf("first acquire failed: %v", err)
		}

		_, err = acquireLock(dir, "offsite")
		var heldErr *LockHeldError
		if !errors.As(err, &heldErr) {
			t.Fatalf("expected LockHeldError, got %v", err)
		}

		lock.release()
		if _, err := acquireLock(dir, "offsite"); err != nil {
			t.Fatalf("acquire after release failed: %v", err)
		}
	})

	t.Run("StaleLockCleared", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "offsite.lock")
		if err := os.WriteFile(path, []byte("0\n"), 0644); err != nil {
			t.Fatalf("failed to plant stale lock: %v", err)
		}

		if _, err := acquireLock(dir, "offsite"); err != nil {
			t.Fatalf("acquire over dead holder failed: %v", err)
		}
	})
}
