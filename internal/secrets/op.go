// Package secrets retrieves destination credentials from the 1Password
// CLI at run time. Nothing here is ever written to disk.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	ErrNotAvailable     = errors.New("op CLI not found on PATH")
	ErrNotAuthenticated = errors.New("op CLI is not signed in")
	ErrNotFound         = errors.New("item not found in vault")
)

// FieldMissingError reports a required credential field absent from the
// retrieved item.
type FieldMissingError struct {
	Field string
}

func (e *FieldMissingError) Error() string {
	return fmt.Sprintf("credential field %q missing from item", e.Field)
}

// Field labels expected on the destination's vault item.
const (
	FieldKeyID      = "key id"
	FieldKeySecret  = "key secret"
	FieldBucket     = "bucket"
	FieldPassphrase = "passphrase"
)

func RequiredFields() []string {
	return []string{FieldKeyID, FieldKeySecret, FieldBucket, FieldPassphrase}
}

// runFunc executes the op binary; swapped out in tests.
type runFunc func(ctx context.Context, args ...string) ([]byte, []byte, error)

type Provider struct {
	run runFunc
}

func NewProvider() *Provider {
	return &Provider{run: runOp}
}

func runOp(ctx context.Context, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "op", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	return out, []byte(stderr.String()), err
}

func (p *Provider) CheckAvailable() error {
	if _, err := exec.LookPath("op"); err != nil {
		return ErrNotAvailable
	}
	return nil
}

func (p *Provider) CheckAuthenticated(ctx context.Context) error {
	if _, _, err := p.run(ctx, "whoami"); err != nil {
		return ErrNotAuthenticated
	}
	return nil
}

type opItem struct {
	Fields []struct {
		Label string `json:"label"`
		Value string `json:"value"`
	} `json:"fields"`
}

// GetSecret fetches the named item from the vault and flattens its fields
// into a label -> value map.
func (p *Provider) GetSecret(ctx context.Context, vault, item string) (map[string]string, error) {
	out, stderr, err := p.run(ctx,
		"item", "get", item,
		"--vault", vault,
		"--format", "json",
		"--reveal")
	if err != nil {
		return nil, classifyOpError(string(stderr), err)
	}

	var parsed opItem
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse op output: %w", err)
	}

	fields := make(map[string]string, len(parsed.Fields))
	for _, f := range parsed.Fields {
		if f.Label == "" {
			continue
		}
		fields[strings.ToLower(f.Label)] = f.Value
	}

	return fields, nil
}

// GetRequired fetches the item and checks every field a destination
// needs, returning a typed error naming the first absent one.
func (p *Provider) GetRequired(ctx context.Context, vault, item string) (map[string]string, error) {
	fields, err := p.GetSecret(ctx, vault, item)
	if err != nil {
		return nil, err
	}

	for _, name := range RequiredFields() {
		if fields[name] == "" {
			return nil, &FieldMissingError{Field: name}
		}
	}

	return fields, nil
}

func classifyOpError(stderr string, err error) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "isn't an item"), strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(stderr))
	case strings.Contains(msg, "signed in"), strings.Contains(msg, "session expired"), strings.Contains(msg, "authorization"):
		return fmt.Errorf("%w: %s", ErrNotAuthenticated, strings.TrimSpace(stderr))
	default:
		return fmt.Errorf("op item get failed: %w: %s", err, strings.TrimSpace(stderr))
	}
}
