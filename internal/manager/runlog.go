package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"coldstore/internal/rclone"
)

// runLog is the per-run operator artifact: one plain-text file per
// destination, truncated at every run, never read back by coldstore.
type runLog struct {
	f *os.File
}

func openRunLog(logDir, destName string) (*runLog, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	f, err := os.Create(filepath.Join(logDir, destName+".log"))
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	return &runLog{f: f}, nil
}

func (l *runLog) line(format string, args ...any) {
	if l == nil || l.f == nil {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(l.f, "[%s] %s\n", ts, fmt.Sprintf(format, args...))
}

func (l *runLog) start(runID, dest string, dryRun bool) {
	mode := "backup"
	if dryRun {
		mode = "dry run"
	}
	l.line("run %s: %s of destination %q started", runID, mode, dest)
}

func (l *runLog) jobStart(source string) {
	l.line("source %s: starting", source)
}

func (l *runLog) progress(source string, p rclone.Progress) {
	l.line("source %s: %s of %s, %d/%d files, %s/s",
		source,
		humanize.IBytes(uint64(p.BytesTransferred)),
		humanize.IBytes(uint64(p.BytesTotal)),
		p.FilesTransferred, p.FilesTotal,
		humanize.IBytes(uint64(p.Speed)))
}

func (l *runLog) jobError(source string, err error) {
	l.line("source %s: ERROR: %v", source, err)
}

func (l *runLog) jobDone(source, status string) {
	l.line("source %s: %s", source, status)
}

func (l *runLog) summary(s *RunSummary) {
	l.line("run %s finished in %s: %d completed, %d failed, %d pending",
		s.RunID,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Second),
		s.Count(StatusCompleted),
		s.Count(StatusFailed),
		s.Count(StatusPending))
}

func (l *runLog) close() {
	if l != nil && l.f != nil {
		_ = l.f.Close()
	}
}
