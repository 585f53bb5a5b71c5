// Package manager owns the data acquisition state: whether a snapshot is
// cached, whether the server has a newer one, and download progress.
package manager

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/inconshreveable/log15"
	"github.com/orian/viewcount/models"
	"golang.org/x/sync/singleflight"
)

// Manager drives the cache and the remote source and publishes every state
// transition. Its operations report failure through the state and a false
// result rather than an error.
type Manager struct {
	store  models.CacheStore
	source models.Source
	logger log15.Logger

	// OnReady runs after a successful download, once the new snapshot is
	// in the cache.
	OnReady func(ctx context.Context, md models.Metadata) error

	now       func() time.Time
	downloads singleflight.Group

	// notifyMu orders deliveries so subscribers see transitions in the
	// order they happened.
	notifyMu sync.Mutex

	mu       sync.Mutex
	state    models.DataState
	metadata *models.Metadata
	subs     map[uint64]func(models.DataState)
	nextSub  uint64
}

// New creates a Manager in the idle state.
func New(store models.CacheStore, source models.Source, logger log15.Logger) *Manager {
	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}

	return &Manager{
		store:  store,
		source: source,
		logger: logger.New("component", "manager"),
		now:    time.Now,
		state:  models.Idle{},
		subs:   make(map[uint64]func(models.DataState)),
	}
}

// State returns the current state.
func (m *Manager) State() models.DataState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Metadata returns the metadata of the cached snapshot, or nil when none
// is known.
func (m *Manager) Metadata() *models.Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.metadata == nil {
		return nil
	}

	md := *m.metadata

	return &md
}

// Subscribe registers fn for every future transition. The returned func
// removes the subscription.
func (m *Manager) Subscribe(fn func(models.DataState)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) setState(s models.DataState) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.state = s
	subs := make([]func(models.DataState), 0, len(m.subs))

	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Debug("state", "status", s.Status())

	for _, fn := range subs {
		fn(s)
	}
}

func (m *Manager) setMetadata(md *models.Metadata) {
	m.mu.Lock()
	m.metadata = md
	m.mu.Unlock()
}

func (m *Manager) fail(kind models.ErrorKind, msg string, err error) {
	if err != nil {
		m.logger.Error(msg, "err", err)
	}

	m.setState(models.Failed{Kind: kind, Message: msg})
}

// LoadCachedData reports whether a usable snapshot is cached. Both the blob
// and the marker must be present.
func (m *Manager) LoadCachedData(_ context.Context) bool {
	if !m.store.Available() {
		m.fail(models.KindCapability, models.MsgCapability, nil)
		return false
	}

	marker, ok, err := m.store.ReadMarker()
	if err != nil {
		m.fail(models.KindOf(err), models.MsgCacheLoadFailed, err)
		return false
	}

	if !m.store.HasBlob() || !ok || marker == "" {
		m.setState(models.Idle{})
		return false
	}

	m.setMetadata(&models.Metadata{DataDate: marker, LastDownloadedAt: m.now()})
	m.setState(models.Ready{})
	m.logger.Info("cached snapshot found", "marker", marker)

	return true
}

// CheckForUpdates compares the server marker with the cached one. It
// returns true when an update is available. The cache is not modified.
func (m *Manager) CheckForUpdates(ctx context.Context) bool {
	m.setState(models.Checking{Message: models.MsgChecking})

	var cached string
	if md := m.Metadata(); md != nil {
		cached = md.DataDate
	}

	server, err := m.source.FetchMarker(ctx)
	if err != nil {
		m.fail(models.KindOf(err), models.MsgCheckFailed, err)
		return false
	}

	if cached == "" || server != cached {
		m.logger.Info("update available", "cached", cached, "server", server)
		m.setState(models.UpdateAvailable{
			ServerDataDate: server,
			Message:        fmt.Sprintf(models.MsgUpdateAvailable, server),
		})

		return true
	}

	m.setState(models.Ready{Message: models.MsgUpToDate})

	return false
}

// DownloadData fetches, decompresses and caches the snapshot. On failure
// the cache is left as it was. Concurrent calls share one download.
func (m *Manager) DownloadData(ctx context.Context) bool {
	v, _, _ := m.downloads.Do("download", func() (any, error) {
		return m.download(ctx), nil
	})

	return v.(bool)
}

func (m *Manager) download(ctx context.Context) bool {
	if !m.store.Available() {
		m.fail(models.KindCapability, models.MsgCapability, nil)
		return false
	}

	start := m.now()

	m.setState(models.Downloading{Message: models.MsgDownloading})

	snap, err := m.source.DownloadAndDecompress(ctx, func(p models.Progress) {
		if p.Phase == models.PhaseDecompressing {
			m.setState(models.Decompressing{Message: models.MsgDecompressing})
			return
		}

		m.setState(models.Downloading{
			Progress:        p.Percent(),
			DownloadedBytes: p.DownloadedBytes,
			TotalBytes:      p.TotalBytes,
			Message:         models.MsgDownloading,
		})
	})
	if err != nil {
		m.fail(models.KindOf(err), models.MsgDownloadFailed, err)
		return false
	}

	m.setState(models.Decompressing{Message: models.MsgSaving})

	n, err := m.store.WriteSnapshot(ctx, bytes.NewReader(snap.Data), snap.DataDate)
	if err != nil {
		m.fail(models.KindOf(err), models.MsgDownloadFailed, err)
		return false
	}

	md := models.Metadata{DataDate: snap.DataDate, LastDownloadedAt: m.now()}
	m.setMetadata(&md)

	m.logger.Info("snapshot cached", "marker", snap.DataDate, "size", humanize.Bytes(uint64(n)), "took", m.now().Sub(start))

	m.setState(models.Ready{Message: models.MsgDownloadComplete})

	if m.OnReady != nil {
		if err := m.OnReady(ctx, md); err != nil {
			m.logger.Warn("reload after download failed", "err", err)
		}
	}

	return true
}

// Clear removes the cached snapshot and returns to idle.
func (m *Manager) Clear(_ context.Context) bool {
	if !m.store.Available() {
		m.fail(models.KindCapability, models.MsgCapability, nil)
		return false
	}

	if err := m.store.Clear(); err != nil {
		m.fail(models.KindOf(err), models.MsgCacheLoadFailed, err)
		return false
	}

	m.setMetadata(nil)
	m.setState(models.Idle{})

	return true
}
