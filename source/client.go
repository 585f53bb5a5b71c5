// Package source downloads the freshness marker and the compressed snapshot
// from the remote origin.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/inconshreveable/log15"
	"github.com/orian/viewcount/models"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSnapshotURL = "https://media.githubusercontent.com/media/yayoimizuha/youtube-viewcount-logger-rust/refs/heads/master/data.duckdb.zst"
	DefaultMarkerURL   = "https://raw.githubusercontent.com/yayoimizuha/youtube-viewcount-logger-rust/refs/heads/master/date.txt"

	chunkSize      = 64 * 1024
	maxMarkerBytes = 4096
)

// UpdateInfo is the outcome of comparing the cached marker with the server.
type UpdateInfo struct {
	HasUpdate      bool
	ServerDataDate string
}

// Client fetches from the fixed marker and snapshot locations.
type Client struct {
	MarkerURL   string
	SnapshotURL string
	Fetcher     Fetcher
	Logger      log15.Logger
}

// New returns a Client using fetcher for both resources.
func New(markerURL, snapshotURL string, fetcher Fetcher, logger log15.Logger) *Client {
	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}

	return &Client{
		MarkerURL:   markerURL,
		SnapshotURL: snapshotURL,
		Fetcher:     fetcher,
		Logger:      logger.New("component", "source"),
	}
}

// FetchMarker returns the trimmed marker text.
func (c *Client) FetchMarker(ctx context.Context) (string, error) {
	body, _, err := c.Fetcher.Open(ctx, c.MarkerURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	b, err := io.ReadAll(io.LimitReader(body, maxMarkerBytes))
	if err != nil {
		return "", &models.NetworkError{URL: c.MarkerURL, Err: err}
	}

	return strings.TrimSpace(string(b)), nil
}

// CheckForUpdate compares cached with the server marker. An empty cached
// marker always counts as an update. Any difference counts, including a
// marker that sorts earlier.
func (c *Client) CheckForUpdate(ctx context.Context, cached string) (UpdateInfo, error) {
	server, err := c.FetchMarker(ctx)
	if err != nil {
		return UpdateInfo{}, err
	}

	return UpdateInfo{HasUpdate: cached == "" || server != cached, ServerDataDate: server}, nil
}

// DownloadAndDecompress fetches the marker and the snapshot concurrently,
// reports progress per chunk, decompresses the snapshot and returns it with
// the marker.
func (c *Client) DownloadAndDecompress(ctx context.Context, onProgress func(models.Progress)) (*models.Snapshot, error) {
	if onProgress == nil {
		onProgress = func(models.Progress) {}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		g      errgroup.Group
		marker string
	)

	g.Go(func() error {
		var err error
		marker, err = c.FetchMarker(ctx)

		return err
	})

	compressed, err := c.downloadSnapshot(ctx, onProgress)
	if err != nil {
		cancel()
		g.Wait() //nolint:errcheck

		return nil, err
	}

	data, err := Decompress(compressed)
	if err != nil {
		cancel()
		g.Wait() //nolint:errcheck

		return nil, err
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.Logger.Info("snapshot downloaded", "compressed", len(compressed), "size", len(data), "marker", marker)

	return &models.Snapshot{Data: data, DataDate: marker}, nil
}

func (c *Client) downloadSnapshot(ctx context.Context, onProgress func(models.Progress)) ([]byte, error) {
	body, size, err := c.Fetcher.Open(ctx, c.SnapshotURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var total *int64
	if size >= 0 {
		total = &size
	}

	c.Logger.Debug("downloading snapshot", "url", c.SnapshotURL, "size", size)

	var (
		chunks     [][]byte
		downloaded int64
		buf        = make([]byte, chunkSize)
	)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunks = append(chunks, chunk)
			downloaded += int64(n)

			onProgress(models.Progress{DownloadedBytes: downloaded, TotalBytes: total, Phase: models.PhaseDownloading})
		}

		if errors.Is(rerr, io.EOF) {
			break
		} else if rerr != nil {
			return nil, &models.NetworkError{URL: c.SnapshotURL, Err: fmt.Errorf("reading body: %w", rerr)}
		}
	}

	compressed := make([]byte, 0, downloaded)
	for _, chunk := range chunks {
		compressed = append(compressed, chunk...)
	}

	onProgress(models.Progress{DownloadedBytes: downloaded, TotalBytes: total, Phase: models.PhaseDecompressing})

	return compressed, nil
}

// FormatFileSize renders n bytes for display.
func FormatFileSize(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)

	switch {
	case n < kb:
		return fmt.Sprintf("%d B", n)
	case n < mb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	case n < gb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/gb)
	}
}
