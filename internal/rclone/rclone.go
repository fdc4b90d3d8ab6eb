// Package rclone wraps the external rclone binary. All byte-level
// transfer and the crypt overlay live in rclone; this package only
// starts it, streams its progress and reports its exit.
package rclone

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"coldstore/internal/logger"

	"go.uber.org/zap"
)

const diagnosticTail = 50

type Engine struct {
	bin        string
	bufferSize int
}

func NewEngine(bufferSize int) *Engine {
	return &Engine{bin: "rclone", bufferSize: bufferSize}
}

func (e *Engine) CheckAvailable() error {
	if _, err := exec.LookPath(e.bin); err != nil {
		return errors.New("rclone not found on PATH")
	}
	return nil
}

// ConfigureRemote writes a remote into rclone's own config file, outside
// coldstore's persisted state. Keys listed in obscure are password
// parameters rclone must store obscured.
func (e *Engine) ConfigureRemote(ctx context.Context, name, kind string, params map[string]string, obscure []string) error {
	args := []string{"config", "create", name, kind, "--non-interactive"}

	obscured := make(map[string]bool, len(obscure))
	for _, k := range obscure {
		obscured[k] = true
	}
	if len(obscured) > 0 {
		args = append(args, "--obscure")
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, params[k])
	}

	out, err := exec.CommandContext(ctx, e.bin, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("rclone config create %s failed: %w: %s", name, err, tail(out))
	}

	logger.Log.Info("rclone remote configured",
		zap.String("remote", name),
		zap.String("kind", kind))
	return nil
}

func (e *Engine) TestConnection(ctx context.Context, remote string) error {
	out, err := exec.CommandContext(ctx, e.bin, "lsd", remote, "--max-depth", "1").CombinedOutput()
	if err != nil {
		return fmt.Errorf("remote %s unreachable: %w: %s", remote, err, tail(out))
	}
	return nil
}

func (e *Engine) CopyTo(ctx context.Context, localPath, remotePath string) error {
	out, err := exec.CommandContext(ctx, e.bin, "copyto", localPath, remotePath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("copyto %s failed: %w: %s", remotePath, err, tail(out))
	}
	return nil
}

func (e *Engine) CatFile(ctx context.Context, remotePath string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.bin, "cat", remotePath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("cat %s failed: %w: %s", remotePath, err, tail(stderr.Bytes()))
	}
	return out, nil
}

func (e *Engine) DeleteFile(ctx context.Context, remotePath string) error {
	out, err := exec.CommandContext(ctx, e.bin, "deletefile", remotePath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("deletefile %s failed: %w: %s", remotePath, err, tail(out))
	}
	return nil
}

type SyncOptions struct {
	DryRun        bool
	StatsInterval time.Duration
}

// Sync starts `rclone sync source remote` and returns a handle streaming
// its progress. The Progress channel is bounded; a background goroutine
// parses rclone's JSON log stream so the caller is never blocked purely
// on subprocess output. The channel closes when the process exits; Wait
// then reports the outcome.
func (e *Engine) Sync(ctx context.Context, source, remote string, opts SyncOptions) (*SyncRun, error) {
	interval := opts.StatsInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	args := []string{
		"sync", source, remote,
		"--use-json-log",
		"-v",
		"--stats", interval.String(),
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}

	cmd := exec.CommandContext(ctx, e.bin, args...)

	// rclone writes both its log and stats lines to stderr.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open rclone output: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start rclone: %w", err)
	}

	logger.Log.Info("rclone sync started",
		zap.String("source", source),
		zap.String("remote", remote),
		zap.Bool("dry_run", opts.DryRun))

	run := &SyncRun{
		progress: make(chan Progress, e.bufferSize),
		done:     make(chan struct{}),
	}

	go func() {
		defer close(run.done)
		defer close(run.progress)

		var lines []string
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			lines = append(lines, line)
			if len(lines) > diagnosticTail {
				lines = lines[1:]
			}

			p, ok := ParseStatsLine([]byte(line))
			if !ok {
				continue
			}
			run.progress <- p
		}

		if err := cmd.Wait(); err != nil {
			code := -1
			if exitErr, ok := errors.AsType[*exec.ExitError](err); ok {
				code = exitErr.ExitCode()
			}
			run.err = &TransferError{
				ExitCode: code,
				Output:   strings.Join(lines, "\n"),
			}
		}
	}()

	return run, nil
}

type SyncRun struct {
	progress chan Progress
	done     chan struct{}
	err      error
}

// Progress yields snapshots in the order rclone emitted them. The channel
// closes when the subprocess exits.
func (r *SyncRun) Progress() <-chan Progress {
	return r.progress
}

// Wait blocks until the subprocess has exited and all progress has been
// delivered, then returns nil or a *TransferError.
func (r *SyncRun) Wait() error {
	<-r.done
	return r.err
}

type TransferError struct {
	ExitCode int
	Output   string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("rclone exited with code %d", e.ExitCode)
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	lines := strings.Split(s, "\n")
	if len(lines) > diagnosticTail {
		lines = lines[len(lines)-diagnosticTail:]
	}
	return strings.Join(lines, "\n")
}
