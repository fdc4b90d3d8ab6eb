package manager

import (
	"fmt"
	"strings"

	"coldstore/internal/model"
)

// ConfigurationError aborts a run before any job is created.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// PrerequisiteError means an external tool (rclone, op) is missing or
// not signed in. Fatal, reported before scheduling begins.
type PrerequisiteError struct {
	Err error
}

func (e *PrerequisiteError) Error() string { return "prerequisite failed: " + e.Err.Error() }
func (e *PrerequisiteError) Unwrap() error { return e.Err }

// CredentialError wraps a secret-retrieval failure during validation.
// Fatal, no jobs are created.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string { return "credential error: " + e.Err.Error() }
func (e *CredentialError) Unwrap() error { return e.Err }

// StaleJobError is a precondition signal, not a failure: non-terminal
// jobs exist for the destination and the run was not forced. The
// operator must pass --force or reset.
type StaleJobError struct {
	Jobs []model.BackupJob
}

func (e *StaleJobError) Error() string {
	parts := make([]string, 0, len(e.Jobs))
	for _, j := range e.Jobs {
		parts = append(parts, fmt.Sprintf("%s (%s)", j.SourcePath, j.Status))
	}
	return fmt.Sprintf("%d unfinished job(s) block this run: %s; use --force or reset",
		len(e.Jobs), strings.Join(parts, ", "))
}

// LockHeldError means another invocation holds the destination's run
// lock right now.
type LockHeldError struct {
	Path string
	PID  int
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("run lock %s held by pid %d", e.Path, e.PID)
}
