package destination

import (
	"context"
	"os"
	"testing"

	"coldstore/internal/model"
	"coldstore/internal/rclone"
)

type fakeCreds struct {
	fields map[string]string
	err    error
}

func (f *fakeCreds) GetRequired(ctx context.Context, vault, item string) (map[string]string, error) {
	return f.fields, f.err
}

type fakeEngine struct {
	remotes map[string]map[string]string
	files   map[string][]byte
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		remotes: make(map[string]map[string]string),
		files:   make(map[string][]byte),
	}
}

func (f *fakeEngine) ConfigureRemote(ctx context.Context, name, kind string, params map[string]string, obscure []string) error {
	cfg := map[string]string{"type": kind}
	for k, v := range params {
		cfg[k] = v
	}
	f.remotes[name] = cfg
	return nil
}

func (f *fakeEngine) TestConnection(ctx context.Context, remote string) error { return nil }

func (f *fakeEngine) CopyTo(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.files[remotePath] = data
	return nil
}

func (f *fakeEngine) CatFile(ctx context.Context, remotePath string) ([]byte, error) {
	return f.files[remotePath], nil
}

func (f *fakeEngine) DeleteFile(ctx context.Context, remotePath string) error {
	delete(f.files, remotePath)
	return nil
}

func (f *fakeEngine) Sync(ctx context.Context, source, remote string, opts rclone.SyncOptions) (*rclone.SyncRun, error) {
	return nil, nil
}

func testCreds() *fakeCreds {
	return &fakeCreds{fields: map[string]string{
		"key id":     "0041234abcd",
		"key secret": "K004xyz",
		"bucket":     "family-backups",
		"passphrase": "correct horse",
	}}
}

func TestRemoteTarget(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		a := RemoteTarget("offsite-crypt", "/mnt/media/photos")
		b := RemoteTarget("offsite-crypt", "/mnt/media/photos")
		if a != b {
			t.Errorf("target must be stable: %q != %q", a, b)
		}
		if a != "offsite-crypt:photos" {
			t.Errorf("target = %q", a)
		}
	})

	t.Run("TrailingSlash", func(t *testing.T) {
		if got := RemoteTarget("offsite-crypt", "/mnt/media/photos/"); got != "offsite-crypt:photos" {
			t.Errorf("target = %q", got)
		}
	})
}

func TestConfigure(t *testing.T) {
	engine := newFakeEngine()
	rec := model.Destination{Name: "offsite", Type: model.DestinationB2Crypt, RemotePath: "backups"}
	d := NewB2Crypt(rec, testCreds(), engine, Options{Vault: "Private"})

	if err := d.Configure(context.Background()); err != nil {
		t.Fatalf("configure failed: %v", err)
	}

	base, ok := engine.remotes["offsite-b2"]
	if !ok {
		t.Fatal("base b2 remote was not written")
	}
	if base["account"] != "0041234abcd" || base["key"] != "K004xyz" {
		t.Errorf("base remote credentials wrong: %v", base)
	}

	crypt, ok := engine.remotes["offsite-crypt"]
	if !ok {
		t.Fatal("crypt overlay remote was not written")
	}
	if crypt["remote"] != "offsite-b2:family-backups/backups" {
		t.Errorf("crypt wraps %q", crypt["remote"])
	}
	if crypt["password"] != "correct horse" {
		t.Errorf("crypt passphrase not forwarded")
	}
}

func TestTestWrite(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		engine := newFakeEngine()
		rec := model.Destination{Name: "offsite", RemotePath: "backups"}
		d := NewB2Crypt(rec, testCreds(), engine, Options{Vault: "Private"})

		if err := d.TestWrite(context.Background()); err != nil {
			t.Fatalf("write check failed: %v", err)
		}
		if len(engine.files) != 0 {
			t.Errorf("check file was not cleaned up: %v", engine.files)
		}
	})

	t.Run("CorruptedReadback", func(t *testing.T) {
		engine := newFakeEngine()
		corrupting := &corruptEngine{fakeEngine: engine}
		rec := model.Destination{Name: "offsite", RemotePath: "backups"}
		d := NewB2Crypt(rec, testCreds(), corrupting, Options{Vault: "Private"})

		if err := d.TestWrite(context.Background()); err == nil {
			t.Error("a corrupted round-trip must fail the check")
		}
	})
}

type corruptEngine struct {
	*fakeEngine
}

func (c *corruptEngine) CatFile(ctx context.Context, remotePath string) ([]byte, error) {
	return []byte("garbled"), nil
}
