package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/inconshreveable/log15"
	"github.com/orian/viewcount/cache"
	"github.com/orian/viewcount/chart"
	"github.com/orian/viewcount/engine"
	"github.com/orian/viewcount/manager"
	"github.com/orian/viewcount/models"
	"github.com/orian/viewcount/source"
)

// App wires the cache, remote source, manager, engine and chart loader.
type App struct {
	cfg    *Config
	logger log15.Logger

	store      *cache.Store
	thumbStore *cache.ThumbnailStore
	source     *source.Client
	manager    *manager.Manager
	engine     *engine.Engine
	loader     *chart.Loader
	thumbs     *chart.Resolver
	charts     *chartCache

	// loadMu is held for writing while the engine switches snapshots and
	// for reading while it is queried.
	loadMu sync.RWMutex

	bg     context.Context
	cancel context.CancelFunc
}

// NewApp builds an App from cfg. Nothing touches the network or the
// engine until used.
func NewApp(cfg *Config, logger log15.Logger) (*App, error) {
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	fetcher := &source.MultiFetcher{HTTP: &source.HTTPFetcher{Client: client}}
	if cfg.S3.Endpoint != "" {
		s3, err := source.NewS3Fetcher(cfg.S3)
		if err != nil {
			return nil, err
		}

		fetcher.S3 = s3
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  cache.New(cfg.CacheDir, logger),
		source: source.New(cfg.MarkerURL, cfg.SnapshotURL, fetcher, logger),
		engine: engine.New(engine.Options{
			ScratchDir:         cfg.Engine.ScratchDir,
			CastBigIntToDouble: cfg.Engine.CastBigIntToDouble,
			Logger:             logger,
		}),
		charts: newChartCache(),
	}

	a.bg, a.cancel = context.WithCancel(context.Background())

	a.manager = manager.New(a.store, a.source, logger)
	a.manager.OnReady = func(ctx context.Context, _ models.Metadata) error {
		return a.LoadSnapshot(ctx)
	}

	a.loader = chart.NewLoader(a.engine, logger)

	opts := chart.ResolverOptions{
		BaseURL:   cfg.Thumbnail.BaseURL,
		Qualities: cfg.Thumbnail.Qualities,
		Logger:    logger,
	}

	if cfg.Thumbnail.Persist && a.store.Available() {
		ts, err := a.store.OpenThumbnailStore()
		if err != nil {
			logger.Warn("thumbnail cache disabled", "err", err)
		} else {
			a.thumbStore = ts
			opts.Store = ts
		}
	}

	a.thumbs = chart.NewResolver(opts)

	return a, nil
}

// Start loads the cached snapshot, if any, into the engine.
func (a *App) Start(ctx context.Context) bool {
	if !a.manager.LoadCachedData(ctx) {
		return false
	}

	if err := a.LoadSnapshot(ctx); err != nil {
		a.logger.Error("failed to open cached snapshot", "err", err)
		return false
	}

	return true
}

// LoadSnapshot (re)opens the cached blob in the engine.
func (a *App) LoadSnapshot(ctx context.Context) error {
	a.loadMu.Lock()
	defer a.loadMu.Unlock()

	if !a.store.HasBlob() {
		return &models.StateError{Op: "load snapshot", Need: models.MsgDBFileMissing}
	}

	if err := a.engine.Initialize(ctx); err != nil {
		return fmt.Errorf("%s: %w", models.MsgDBInitFailed, err)
	}

	if err := a.engine.Close(); err != nil {
		a.logger.Warn("failed to close previous snapshot", "err", err)
	}

	if err := a.engine.RegisterSnapshot(a.store.BlobPath()); err != nil {
		return err
	}

	if err := a.engine.Open(ctx); err != nil {
		return fmt.Errorf("%s: %w", models.MsgDBInitFailed, err)
	}

	a.charts.reset()

	if err := a.engine.CheckSchema(ctx); err != nil {
		a.logger.Warn("snapshot schema incomplete", "err", err)
	}

	return nil
}

// ensureSnapshot opens the cached snapshot unless one is already open. The
// manager state is only touched when no metadata has been loaded yet.
func (a *App) ensureSnapshot(ctx context.Context) error {
	if a.engine.State().Status == models.DBReady {
		return nil
	}

	if !a.store.HasBlob() || !a.store.HasMarker() {
		return &models.StateError{Op: "query", Need: models.MsgNoData}
	}

	if a.manager.Metadata() == nil && !a.manager.LoadCachedData(ctx) {
		return &models.StateError{Op: "query", Need: models.MsgNoData}
	}

	return a.LoadSnapshot(ctx)
}

// withSnapshot runs fn against an open snapshot. A reload waits for fn.
func (a *App) withSnapshot(ctx context.Context, fn func() error) error {
	if err := a.ensureSnapshot(ctx); err != nil {
		return err
	}

	a.loadMu.RLock()
	defer a.loadMu.RUnlock()

	return fn()
}

// DownloadInBackground starts a download that is cancelled by Close.
func (a *App) DownloadInBackground() {
	go a.manager.DownloadData(a.bg)
}

// Clear closes the snapshot and wipes the cache.
func (a *App) Clear(ctx context.Context) bool {
	a.loadMu.Lock()
	defer a.loadMu.Unlock()

	if err := a.engine.Close(); err != nil {
		a.logger.Warn("failed to close snapshot", "err", err)
	}

	a.charts.reset()

	return a.manager.Clear(ctx)
}

// Chart returns the chart of group for the current snapshot, building it
// on first use.
func (a *App) Chart(ctx context.Context, group string) (*chart.Model, error) {
	marker := ""
	if md := a.manager.Metadata(); md != nil {
		marker = md.DataDate
	}

	if m, ok := a.charts.get(marker, group); ok {
		return m, nil
	}

	m, err := a.loader.Load(ctx, group)
	if err != nil {
		return nil, err
	}

	a.charts.put(marker, group, m)

	return m, nil
}

// Close stops background work and releases the engine and thumbnail store.
func (a *App) Close() error {
	a.cancel()

	err := a.engine.Shutdown()

	if a.thumbStore != nil {
		err = errors.Join(err, a.thumbStore.Close())
	}

	return err
}
