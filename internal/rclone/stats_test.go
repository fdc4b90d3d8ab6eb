package rclone

import (
	"testing"
	"time"
)

func TestParseStatsLine(t *testing.T) {
	t.Run("StatsLine", func(t *testing.T) {
		line := `{"level":"info","msg":"...","stats":{"bytes":1048576,"totalBytes":10485760,"transfers":3,"totalTransfers":42,"speed":524288.5,"eta":120},"time":"2026-08-30T10:00:00Z"}`

		p, ok := ParseStatsLine([]byte(line))
		if !ok {
			t.Fatal("expected a progress snapshot")
		}
		if p.BytesTransferred != 1048576 {
			t.Errorf("bytes = %d", p.BytesTransferred)
		}
		if p.BytesTotal != 10485760 {
			t.Errorf("total bytes = %d", p.BytesTotal)
		}
		if p.FilesTransferred != 3 || p.FilesTotal != 42 {
			t.Errorf("files = %d/%d", p.FilesTransferred, p.FilesTotal)
		}
		if p.Speed != 524288.5 {
			t.Errorf("speed = %f", p.Speed)
		}
		if p.ETA != 2*time.Minute {
			t.Errorf("eta = %s", p.ETA)
		}
	})

	t.Run("NullETA", func(t *testing.T) {
		line := `{"level":"info","msg":"...","stats":{"bytes":5,"totalBytes":10,"transfers":0,"totalTransfers":1,"speed":0,"eta":null}}`

		p, ok := ParseStatsLine([]byte(line))
		if !ok {
			t.Fatal("expected a progress snapshot")
		}
		if p.ETA != 0 {
			t.Errorf("eta = %s, want zero", p.ETA)
		}
	})

	t.Run("LogLineWithoutStats", func(t *testing.T) {
		line := `{"level":"info","msg":"Copied (new)","object":"photos/img.jpg","time":"2026-08-30T10:00:00Z"}`

		if _, ok := ParseStatsLine([]byte(line)); ok {
			t.Error("plain log lines carry no progress")
		}
	})

	t.Run("MalformedLine", func(t *testing.T) {
		if _, ok := ParseStatsLine([]byte("Transferred: 12.5 MiB / 100 MiB")); ok {
			t.Error("non-JSON output must be skipped, not parsed")
		}
	})

	t.Run("EmptyLine", func(t *testing.T) {
		if _, ok := ParseStatsLine(nil); ok {
			t.Error("empty line must be skipped")
		}
	})
}
