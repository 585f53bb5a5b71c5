// Package models defines the core data types for viewcount, a local viewer
// for a daily-refreshed snapshot of YouTube view-count history.
package models

import (
	"encoding/json"
	"time"
)

// Metadata describes the snapshot currently held in the cache.
type Metadata struct {
	// DataDate is the freshness marker of the cached snapshot, exactly as the
	// server published it (e.g. "2025-11-29 08:02:42").
	DataDate string `json:"dataDate"`

	// LastDownloadedAt is when the snapshot was downloaded or, for a snapshot
	// loaded from the cache, when it was loaded.
	LastDownloadedAt time.Time `json:"lastDownloadedAt"`
}

// Phase identifies the stage a download is in when progress is reported.
type Phase string

const (
	PhaseDownloading   Phase = "downloading"
	PhaseDecompressing Phase = "decompressing"
)

// Progress is reported by the remote source while a snapshot is fetched.
type Progress struct {
	DownloadedBytes int64 `json:"downloadedBytes"`

	// TotalBytes is nil when the server did not report a content length.
	TotalBytes *int64 `json:"totalBytes"`

	Phase Phase `json:"phase"`
}

// Percent returns the download progress in the range 0-100, or 0 when the
// total size is unknown.
func (p Progress) Percent() int {
	if p.TotalBytes == nil || *p.TotalBytes <= 0 {
		return 0
	}

	return int(float64(p.DownloadedBytes)/float64(*p.TotalBytes)*100 + 0.5)
}

// Snapshot is a decompressed snapshot together with the marker fetched
// alongside it.
type Snapshot struct {
	Data     []byte
	DataDate string
}

// QueryResult is an eagerly materialized query result. Columns keeps the
// order reported by the engine; every row holds a value for every column.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// GroupInfo is one entry of the __source__ table.
type GroupInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// GroupStats summarises a single group table.
type GroupStats struct {
	TotalDataPoints int64  `json:"totalDataPoints"`
	LatestDate      string `json:"latestDate,omitempty"`
}

// DBStatus is the lifecycle state of the query engine. DBInitialized means
// the engine instance is live with no snapshot open.
type DBStatus string

const (
	DBUninitialized DBStatus = "uninitialized"
	DBInitializing  DBStatus = "initializing"
	DBInitialized   DBStatus = "initialized"
	DBReady         DBStatus = "ready"
	DBError         DBStatus = "error"
)

// DBState is the query engine state exposed to the presentation layer.
type DBState struct {
	Status DBStatus `json:"status"`
	Error  string   `json:"error,omitempty"`
}

// statusEnvelope is the wire form shared by every DataState variant.
type statusEnvelope struct {
	Status DataStatus `json:"status"`
}

// MarshalState renders any DataState as a JSON object carrying a "status"
// discriminator next to the variant's own fields.
func MarshalState(s DataState) ([]byte, error) {
	if s == nil {
		s = Idle{}
	}

	fields, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	head, err := json.Marshal(statusEnvelope{Status: s.Status()})
	if err != nil {
		return nil, err
	}

	if string(fields) == "{}" {
		return head, nil
	}

	out := make([]byte, 0, len(head)+len(fields))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, fields[1:]...)

	return out, nil
}
