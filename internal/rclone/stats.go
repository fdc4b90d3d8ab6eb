package rclone

import (
	"encoding/json"
	"time"
)

// Progress is one snapshot parsed from rclone's periodic stats output.
// On a resumed sync the totals cover only the remaining diff, not
// cumulative history.
type Progress struct {
	BytesTransferred int64
	BytesTotal       int64
	FilesTransferred int64
	FilesTotal       int64
	Speed            float64
	ETA              time.Duration
}

type statsPayload struct {
	Bytes          int64    `json:"bytes"`
	TotalBytes     int64    `json:"totalBytes"`
	Transfers      int64    `json:"transfers"`
	TotalTransfers int64    `json:"totalTransfers"`
	Speed          float64  `json:"speed"`
	ETA            *float64 `json:"eta"`
}

type logLine struct {
	Level string        `json:"level"`
	Msg   string        `json:"msg"`
	Stats *statsPayload `json:"stats"`
}

// ParseStatsLine extracts a progress snapshot from one line of rclone's
// --use-json-log output. Lines that are not valid JSON or carry no stats
// object are skipped, never fatal.
func ParseStatsLine(line []byte) (Progress, bool) {
	var parsed logLine
	if err := json.Unmarshal(line, &parsed); err != nil {
		return Progress{}, false
	}
	if parsed.Stats == nil {
		return Progress{}, false
	}

	p := Progress{
		BytesTransferred: parsed.Stats.Bytes,
		BytesTotal:       parsed.Stats.TotalBytes,
		FilesTransferred: parsed.Stats.Transfers,
		FilesTotal:       parsed.Stats.TotalTransfers,
		Speed:            parsed.Stats.Speed,
	}
	if parsed.Stats.ETA != nil {
		p.ETA = time.Duration(*parsed.Stats.ETA * float64(time.Second))
	}

	return p, true
}
