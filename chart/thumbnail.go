package chart

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/orian/viewcount/models"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultThumbnailBase = "https://img.youtube.com/vi"
	fallbackQuality      = "default"
	probeTimeout         = 30 * time.Second
)

// DefaultQualities is the probe order, best first.
var DefaultQualities = []string{"maxresdefault", "sddefault", "hqdefault", "mqdefault", "default"}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	BaseURL   string
	Qualities []string
	Client    *http.Client

	// Store persists resolved URLs across runs. Optional.
	Store models.ThumbnailStore

	Logger log15.Logger
}

// Resolver finds the best available thumbnail for a video by probing
// quality variants in order. Results are cached per video and concurrent
// probes for the same video share one attempt.
type Resolver struct {
	base      string
	qualities []string
	client    *http.Client
	store     models.ThumbnailStore
	logger    log15.Logger
	probes    singleflight.Group

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver returns a Resolver with defaults filled in.
func NewResolver(opts ResolverOptions) *Resolver {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultThumbnailBase
	}

	if len(opts.Qualities) == 0 {
		opts.Qualities = DefaultQualities
	}

	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}

	return &Resolver{
		base:      strings.TrimSuffix(opts.BaseURL, "/"),
		qualities: opts.Qualities,
		client:    opts.Client,
		store:     opts.Store,
		logger:    logger.New("component", "thumbnails"),
		cache:     make(map[string]string),
	}
}

// URL returns the thumbnail URL of one quality variant.
func (r *Resolver) URL(videoID, quality string) string {
	return fmt.Sprintf("%s/%s/%s.jpg", r.base, videoID, quality)
}

// DefaultURL is the variant used until a probe completes or when every
// probe fails.
func (r *Resolver) DefaultURL(videoID string) string {
	return r.URL(videoID, fallbackQuality)
}

// Cached returns the resolved URL if videoID has been resolved.
func (r *Resolver) Cached(videoID string) (string, bool) {
	r.mu.Lock()
	url, ok := r.cache[videoID]
	r.mu.Unlock()

	if ok {
		return url, true
	}

	if r.store == nil {
		return "", false
	}

	url, ok = r.store.GetThumbnail(videoID)
	if ok {
		r.remember(videoID, url)
	}

	return url, ok
}

// Resolve returns the best available thumbnail URL, probing if needed. The
// probe is shared by concurrent callers and is not cancelled with ctx; a
// caller whose ctx ends early gets the default URL while the probe goes on.
func (r *Resolver) Resolve(ctx context.Context, videoID string) string {
	if url, ok := r.Cached(videoID); ok {
		return url
	}

	ch := r.probes.DoChan(videoID, func() (any, error) {
		if url, ok := r.Cached(videoID); ok {
			return url, nil
		}

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
		defer cancel()

		url, found, err := r.probe(pctx, videoID)

		switch {
		case err != nil && !found:
			// Nothing is known for sure, so the next call probes again.
			r.logger.Debug("thumbnail probe failed", "video", videoID, "err", err)

			return url, nil
		case found && err == nil:
			r.remember(videoID, url)

			if r.store != nil {
				if err := r.store.PutThumbnail(videoID, url); err != nil {
					r.logger.Warn("failed to persist thumbnail", "video", videoID, "err", err)
				}
			}
		default:
			// A better variant may have been missed or none exists; keep the
			// answer for this run only.
			r.remember(videoID, url)
		}

		return url, nil
	})

	select {
	case res := <-ch:
		return res.Val.(string)
	case <-ctx.Done():
		return r.DefaultURL(videoID)
	}
}

func (r *Resolver) remember(videoID, url string) {
	r.mu.Lock()
	r.cache[videoID] = url
	r.mu.Unlock()
}

// Lookup returns the cached URL, or the default URL while a background
// probe runs. It never blocks on the network.
func (r *Resolver) Lookup(videoID string) string {
	if url, ok := r.Cached(videoID); ok {
		return url
	}

	go r.resolveDetached(videoID)

	return r.DefaultURL(videoID)
}

func (r *Resolver) resolveDetached(videoID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	return r.Resolve(ctx, videoID)
}

// probe tries each quality in order. found reports a 2xx answer; err is the
// last transport error seen before that answer, if any.
func (r *Resolver) probe(ctx context.Context, videoID string) (url string, found bool, err error) {
	for _, quality := range r.qualities {
		url := r.URL(videoID, quality)

		ok, perr := r.exists(ctx, url)
		if perr != nil {
			err = perr
			continue
		}

		if ok {
			r.logger.Debug("thumbnail resolved", "video", videoID, "quality", quality)
			return url, true, err
		}
	}

	return r.DefaultURL(videoID), false, err
}

func (r *Resolver) exists(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}

	res, err := r.client.Do(req)
	if err != nil {
		return false, err
	}

	io.Copy(io.Discard, res.Body) //nolint:errcheck
	res.Body.Close()

	return res.StatusCode >= 200 && res.StatusCode <= 299, nil
}

// Session tracks the series currently hovered by one viewer. Only the most
// recent hover receives its probe result; earlier probes still fill the
// cache.
type Session struct {
	r *Resolver

	mu      sync.Mutex
	current uint64
	closed  bool
}

// NewSession starts a hover session.
func (r *Resolver) NewSession() *Session {
	return &Session{r: r}
}

// Hover marks videoID as hovered and returns the URL to show now. If the
// thumbnail is not resolved yet, fn is called with the resolved URL once
// the probe finishes, unless the hover has moved on or the session closed.
func (s *Session) Hover(videoID string, fn func(url string)) string {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return s.r.DefaultURL(videoID)
	}

	s.current++
	gen := s.current
	s.mu.Unlock()

	if url, ok := s.r.Cached(videoID); ok {
		return url
	}

	go func() {
		url := s.r.resolveDetached(videoID)

		s.mu.Lock()
		deliver := !s.closed && s.current == gen
		s.mu.Unlock()

		if deliver && fn != nil {
			fn(url)
		}
	}()

	return s.r.DefaultURL(videoID)
}

// Leave ends the current hover without starting another.
func (s *Session) Leave() {
	s.mu.Lock()
	s.current++
	s.mu.Unlock()
}

// Close ends the session. Pending callbacks are dropped. Safe to call more
// than once.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
