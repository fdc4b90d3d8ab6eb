package manager

import (
	"time"
)

const (
	StatusPending     = "PENDING"
	StatusRunning     = "RUNNING"
	StatusInterrupted = "INTERRUPTED"
	StatusCompleted   = "COMPLETED"
	StatusFailed      = "FAILED"
	StatusPreview     = "PREVIEW"
)

// JobResult is the final state and counters of one job touched by a run.
type JobResult struct {
	JobID            uint    `json:"job_id,omitempty"`
	SourcePath       string  `json:"source_path"`
	Status           string  `json:"status"`
	BytesTransferred int64   `json:"bytes_transferred"`
	BytesTotal       int64   `json:"bytes_total"`
	FilesTransferred int64   `json:"files_transferred"`
	FilesTotal       int64   `json:"files_total"`
	Speed            float64 `json:"speed"`
	RetryCount       int     `json:"retry_count"`
	Error            string  `json:"error,omitempty"`
}

// RunSummary is always returned from a run, including when individual
// jobs ended FAILED.
type RunSummary struct {
	RunID       string      `json:"run_id"`
	Destination string      `json:"destination"`
	DryRun      bool        `json:"dry_run"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Jobs        []JobResult `json:"jobs"`
}

func (s *RunSummary) Count(status string) int {
	n := 0
	for _, j := range s.Jobs {
		if j.Status == status {
			n++
		}
	}
	return n
}
