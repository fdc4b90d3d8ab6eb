package destination

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"coldstore/internal/logger"
	"coldstore/internal/model"
	"coldstore/internal/rclone"
	"coldstore/internal/secrets"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	Vault         string
	S3Endpoint    string
	S3Region      string
	StatsInterval time.Duration
}

// B2Crypt backs up to a Backblaze B2 bucket behind an rclone crypt
// overlay. Credentials come from the vault item named after the
// destination; nothing secret touches coldstore's own state.
type B2Crypt struct {
	rec      model.Destination
	creds    CredentialSource
	engine   TransferEngine
	opts     Options
	headFunc func(ctx context.Context, keyID, keySecret, bucket string) error
}

func NewB2Crypt(rec model.Destination, creds CredentialSource, engine TransferEngine, opts Options) *B2Crypt {
	d := &B2Crypt{rec: rec, creds: creds, engine: engine, opts: opts}
	d.headFunc = d.headBucket
	return d
}

func (d *B2Crypt) Name() string { return d.rec.Name }
func (d *B2Crypt) Type() string { return string(model.DestinationB2Crypt) }

func (d *B2Crypt) baseRemote() string  { return d.rec.Name + "-b2" }
func (d *B2Crypt) cryptRemote() string { return d.rec.Name + "-crypt" }

// RemoteTarget maps a source directory to its fixed location under the
// crypt remote. The mapping must be stable across invocations, it is
// what makes resume work.
func RemoteTarget(cryptRemote, sourcePath string) string {
	return fmt.Sprintf("%s:%s", cryptRemote, filepath.Base(filepath.Clean(sourcePath)))
}

// Configure writes the base b2 remote and the crypt overlay into
// rclone's config. The passphrase is handed to rclone obscured and never
// stored by coldstore.
func (d *B2Crypt) Configure(ctx context.Context) error {
	fields, err := d.creds.GetRequired(ctx, d.opts.Vault, d.rec.Name)
	if err != nil {
		return err
	}

	if err := d.engine.ConfigureRemote(ctx, d.baseRemote(), "b2", map[string]string{
		"account": fields[secrets.FieldKeyID],
		"key":     fields[secrets.FieldKeySecret],
	}, nil); err != nil {
		return err
	}

	root := fmt.Sprintf("%s:%s/%s", d.baseRemote(), fields[secrets.FieldBucket], d.rec.RemotePath)
	return d.engine.ConfigureRemote(ctx, d.cryptRemote(), "crypt", map[string]string{
		"remote":                    root,
		"password":                  fields[secrets.FieldPassphrase],
		"filename_encryption":       "standard",
		"directory_name_encryption": "true",
	}, []string{"password"})
}

// Validate checks the credential fields, that the bucket answers on B2's
// S3-compatible API, and that the crypt remote lists.
func (d *B2Crypt) Validate(ctx context.Context) error {
	fields, err := d.creds.GetRequired(ctx, d.opts.Vault, d.rec.Name)
	if err != nil {
		return err
	}

	if err := d.headFunc(ctx, fields[secrets.FieldKeyID], fields[secrets.FieldKeySecret], fields[secrets.FieldBucket]); err != nil {
		return fmt.Errorf("bucket %s not reachable: %w", fields[secrets.FieldBucket], err)
	}

	return d.engine.TestConnection(ctx, d.cryptRemote()+":")
}

func (d *B2Crypt) headBucket(ctx context.Context, keyID, keySecret, bucket string) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(d.opts.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(keyID, keySecret, "")))
	if err != nil {
		return fmt.Errorf("failed to build s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(d.opts.S3Endpoint)
	})

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	return err
}

// TestWrite round-trips a small file through the crypt overlay to prove
// encryption is functioning before any real transfer.
func (d *B2Crypt) TestWrite(ctx context.Context) error {
	payload := []byte("coldstore write check " + uuid.NewString())

	tmp, err := os.CreateTemp("", "coldstore-check-*")
	if err != nil {
		return fmt.Errorf("failed to create check file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write check file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	remote := fmt.Sprintf("%s:.write-check/%s", d.cryptRemote(), uuid.NewString())
	if err := d.engine.CopyTo(ctx, tmp.Name(), remote); err != nil {
		return err
	}

	got, err := d.engine.CatFile(ctx, remote)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, payload) {
		return fmt.Errorf("write check mismatch: crypt overlay returned %d bytes, want %d", len(got), len(payload))
	}

	if err := d.engine.DeleteFile(ctx, remote); err != nil {
		logger.Log.Warn("failed to remove write-check file",
			zap.String("remote", remote),
			zap.Error(err))
	}

	logger.Log.Info("write check passed",
		zap.String("destination", d.rec.Name))
	return nil
}

// Backup syncs the source directory to its fixed crypt target, forwarding
// progress snapshots unchanged.
func (d *B2Crypt) Backup(ctx context.Context, sourcePath string, dryRun bool, onProgress func(rclone.Progress)) error {
	target := RemoteTarget(d.cryptRemote(), sourcePath)

	run, err := d.engine.Sync(ctx, sourcePath, target, rclone.SyncOptions{
		DryRun:        dryRun,
		StatsInterval: d.opts.StatsInterval,
	})
	if err != nil {
		return err
	}

	for p := range run.Progress() {
		if onProgress != nil {
			onProgress(p)
		}
	}

	return run.Wait()
}
