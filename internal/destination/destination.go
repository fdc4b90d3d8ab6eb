package destination

import (
	"context"

	"coldstore/internal/rclone"
)

// Destination is a configured, credentialed remote target. backup derives
// a deterministic remote location from the source directory so repeated
// invocations resume instead of starting over.
type Destination interface {
	Name() string
	Type() string
	Configure(ctx context.Context) error
	Validate(ctx context.Context) error
	TestWrite(ctx context.Context) error
	Backup(ctx context.Context, sourcePath string, dryRun bool, onProgress func(rclone.Progress)) error
}

// CredentialSource is the slice of the secrets provider a destination
// consumes.
type CredentialSource interface {
	GetRequired(ctx context.Context, vault, item string) (map[string]string, error)
}

// TransferEngine is the slice of the rclone wrapper a destination
// consumes.
type TransferEngine interface {
	ConfigureRemote(ctx context.Context, name, kind string, params map[string]string, obscure []string) error
	TestConnection(ctx context.Context, remote string) error
	CopyTo(ctx context.Context, localPath, remotePath string) error
	CatFile(ctx context.Context, remotePath string) ([]byte, error)
	DeleteFile(ctx context.Context, remotePath string) error
	Sync(ctx context.Context, source, remote string, opts rclone.SyncOptions) (*rclone.SyncRun, error)
}
