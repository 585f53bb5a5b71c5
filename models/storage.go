package models

import (
	"context"
	"io"
	"os"
)

// CacheStore is the durable local cache holding the snapshot blob and its
// freshness marker as two independent entries.
//
// Available must be checked before any other method; the remaining methods
// assume the capability exists.
//
// The two entries are conceptually a pair but may exist independently. A
// missing marker means "unknown freshness", not "no data".
type CacheStore interface {
	// Available reports whether the store can be used in this environment.
	Available() bool

	// HasBlob reports whether a snapshot blob is stored. It never fails;
	// any problem is reported as false.
	HasBlob() bool

	// HasMarker reports whether a freshness marker is stored.
	HasMarker() bool

	// ReadMarker returns the trimmed marker, or ok=false when absent.
	ReadMarker() (marker string, ok bool, err error)

	// WriteMarker replaces the marker. Readers never observe a partially
	// written marker.
	WriteMarker(marker string) error

	// ReadBlobHandle opens the stored blob for reading. It returns nil and
	// no error when the blob is absent. The caller closes the handle.
	ReadBlobHandle() (*os.File, error)

	// BlobPath is the location of the blob, valid when HasBlob is true.
	BlobPath() string

	// WriteBlobFromStream consumes r and replaces the blob only once r has
	// been read to completion and the data is durable. On error the
	// previous blob, if any, is left untouched.
	WriteBlobFromStream(ctx context.Context, r io.Reader) (int64, error)

	// WriteSnapshot replaces the blob and the marker as a pair. On error
	// the previous blob and marker are left in place.
	WriteSnapshot(ctx context.Context, r io.Reader, marker string) (int64, error)

	// Clear removes both entries. Missing entries are not an error.
	Clear() error
}

// Source fetches the marker and snapshot from the remote origin.
type Source interface {
	// FetchMarker returns the trimmed server marker.
	FetchMarker(ctx context.Context) (string, error)

	// DownloadAndDecompress downloads and decompresses the snapshot,
	// reporting progress after every chunk and once when decompression
	// starts. The returned DataDate is the marker fetched alongside.
	DownloadAndDecompress(ctx context.Context, onProgress func(Progress)) (*Snapshot, error)
}

// QueryExecutor runs SQL against the open snapshot.
type QueryExecutor interface {
	Query(ctx context.Context, sql string) (*QueryResult, error)
}

// ThumbnailStore persists resolved thumbnail URLs by video ID.
type ThumbnailStore interface {
	GetThumbnail(videoID string) (url string, ok bool)
	PutThumbnail(videoID, url string) error
}
