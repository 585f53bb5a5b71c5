// Package cache implements the durable local cache for the snapshot blob and
// its freshness marker.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/inconshreveable/log15"
	"github.com/orian/viewcount/models"
)

const (
	BlobName   = "data.duckdb"
	MarkerName = "date.txt"
	FormatName = "format"

	// FormatVersion is bumped whenever the cached layout or snapshot format
	// changes incompatibly. A cache written with another version is treated
	// as empty.
	FormatVersion = 1

	tmpDirName = "tmp"
	dirPerms   = 0o750
	filePerms  = 0o640
	copyBuffer = 256 * 1024
)

// Store is a directory-backed models.CacheStore. Entries are replaced by
// writing a temporary file and renaming it into place.
type Store struct {
	dir    string
	logger log15.Logger
}

// New returns a Store rooted at dir. The directory is created lazily by
// Available.
func New(dir string, logger log15.Logger) *Store {
	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}

	return &Store{dir: dir, logger: logger.New("cache", dir)}
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Available creates the cache directory if needed and checks that it is
// writable.
func (s *Store) Available() bool {
	if s.dir == "" {
		return false
	}

	if err := os.MkdirAll(filepath.Join(s.dir, tmpDirName), dirPerms); err != nil {
		s.logger.Warn("cache directory not usable", "err", err)

		return false
	}

	probe, err := os.CreateTemp(filepath.Join(s.dir, tmpDirName), "probe-*")
	if err != nil {
		s.logger.Warn("cache directory not writable", "err", err)

		return false
	}

	probe.Close()
	os.Remove(probe.Name())

	return true
}

// Check is Available as an error, for callers that want the reason.
func (s *Store) Check() error {
	if s.Available() {
		return nil
	}

	return &models.CapabilityError{Reason: "cache directory " + strconv.Quote(s.dir) + " is not writable"}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) entryExists(name string) bool {
	st, err := os.Stat(s.path(name))

	return err == nil && st.Mode().IsRegular()
}

// HasBlob reports whether a blob written by this cache format is present.
func (s *Store) HasBlob() bool {
	return s.entryExists(BlobName) && s.formatMatches()
}

// HasMarker reports whether a marker is present.
func (s *Store) HasMarker() bool {
	return s.entryExists(MarkerName) && s.formatMatches()
}

// formatMatches treats a missing format entry as the current version so that
// caches created before the entry existed stay readable.
func (s *Store) formatMatches() bool {
	b, err := os.ReadFile(s.path(FormatName))
	if errors.Is(err, fs.ErrNotExist) {
		return true
	} else if err != nil {
		return false
	}

	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || v != FormatVersion {
		s.logger.Warn("ignoring cache with unexpected format", "format", strings.TrimSpace(string(b)))

		return false
	}

	return true
}

// ReadMarker returns the trimmed marker text.
func (s *Store) ReadMarker() (string, bool, error) {
	if !s.formatMatches() {
		return "", false, nil
	}

	b, err := os.ReadFile(s.path(MarkerName))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("failed to read marker: %w", err)
	}

	return strings.TrimSpace(string(b)), true, nil
}

// WriteMarker replaces the marker atomically.
func (s *Store) WriteMarker(marker string) error {
	if err := s.writeSmall(MarkerName, marker); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}

	return nil
}

func (s *Store) writeSmall(name, content string) error {
	_, err := s.commit(context.Background(), name, strings.NewReader(content))

	return err
}

// ReadBlobHandle opens the blob, or returns nil when it is absent.
func (s *Store) ReadBlobHandle() (*os.File, error) {
	if !s.HasBlob() {
		return nil, nil
	}

	f, err := os.Open(s.path(BlobName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	return f, nil
}

// BlobPath returns the path of the blob.
func (s *Store) BlobPath() string {
	return s.path(BlobName)
}

// WriteBlobFromStream replaces the blob with the contents of r. The blob is
// only replaced after r is fully consumed and synced to disk.
func (s *Store) WriteBlobFromStream(ctx context.Context, r io.Reader) (int64, error) {
	n, err := s.commit(ctx, BlobName, r)
	if err != nil {
		return n, fmt.Errorf("failed to write blob: %w", err)
	}

	if err := s.writeSmall(FormatName, strconv.Itoa(FormatVersion)); err != nil {
		return n, fmt.Errorf("failed to write format: %w", err)
	}

	s.logger.Info("stored snapshot", "bytes", n)

	return n, nil
}

// renameFile is os.Rename; tests replace it to fail individual steps.
var renameFile = os.Rename

// stage streams r into a uuid-named temp file and syncs it. The caller
// renames or removes the returned path.
func (s *Store) stage(ctx context.Context, name string, r io.Reader) (string, int64, error) {
	tmpDir := filepath.Join(s.dir, tmpDirName)
	if err := os.MkdirAll(tmpDir, dirPerms); err != nil {
		return "", 0, err
	}

	tmpPath := filepath.Join(tmpDir, uuid.New().String()+"."+name)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerms)
	if err != nil {
		return "", 0, err
	}

	n, err := copyWithContext(ctx, f, r)
	if err == nil {
		err = f.Sync()
	}

	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		os.Remove(tmpPath)
		return "", n, err
	}

	return tmpPath, n, nil
}

// commit streams r into a temp file then renames it over name.
func (s *Store) commit(ctx context.Context, name string, r io.Reader) (int64, error) {
	tmpPath, n, err := s.stage(ctx, name, r)
	if err != nil {
		return n, err
	}

	if err := renameFile(tmpPath, s.path(name)); err != nil {
		os.Remove(tmpPath)
		return n, err
	}

	return n, nil
}

// WriteSnapshot replaces the blob and the marker together. Both are staged
// before either is installed, and a failed marker install puts the previous
// blob back, so on error the cache holds the old pair.
func (s *Store) WriteSnapshot(ctx context.Context, r io.Reader, marker string) (int64, error) {
	blobTmp, n, err := s.stage(ctx, BlobName, r)
	if err != nil {
		return n, fmt.Errorf("failed to write blob: %w", err)
	}
	defer os.Remove(blobTmp)

	markerTmp, _, err := s.stage(ctx, MarkerName, strings.NewReader(marker))
	if err != nil {
		return n, fmt.Errorf("failed to write marker: %w", err)
	}
	defer os.Remove(markerTmp)

	backup := filepath.Join(s.dir, tmpDirName, uuid.New().String()+".previous."+BlobName)

	hadBlob := s.entryExists(BlobName)
	if hadBlob {
		if err := renameFile(s.path(BlobName), backup); err != nil {
			return n, fmt.Errorf("failed to set aside blob: %w", err)
		}
	}

	restore := func() {
		var rerr error
		if hadBlob {
			rerr = renameFile(backup, s.path(BlobName))
		} else {
			rerr = os.Remove(s.path(BlobName))
		}

		if rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			s.logger.Error("failed to restore previous blob", "err", rerr)
		}
	}

	if err := renameFile(blobTmp, s.path(BlobName)); err != nil {
		restore()
		return n, fmt.Errorf("failed to install blob: %w", err)
	}

	if err := renameFile(markerTmp, s.path(MarkerName)); err != nil {
		restore()
		return n, fmt.Errorf("failed to install marker: %w", err)
	}

	if hadBlob {
		os.Remove(backup)
	}

	if err := s.writeSmall(FormatName, strconv.Itoa(FormatVersion)); err != nil {
		s.logger.Warn("failed to write format", "err", err)
	}

	s.logger.Info("stored snapshot", "bytes", n, "marker", marker)

	return n, nil
}

func copyWithContext(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, copyBuffer)

	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := r.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)

			if werr != nil {
				return written, werr
			}
		}

		if errors.Is(rerr, io.EOF) {
			return written, nil
		} else if rerr != nil {
			return written, rerr
		}
	}
}

// Clear removes the blob, marker and format entries.
func (s *Store) Clear() error {
	for _, name := range []string{BlobName, MarkerName, FormatName} {
		if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	s.logger.Info("cache cleared")

	return nil
}

// Usage returns the number of bytes held by the cache entries.
func (s *Store) Usage() int64 {
	var total int64

	for _, name := range []string{BlobName, MarkerName, FormatName} {
		if st, err := os.Stat(s.path(name)); err == nil {
			total += st.Size()
		}
	}

	return total
}
