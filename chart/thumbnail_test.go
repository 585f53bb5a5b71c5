package chart

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// thumbServer answers HEAD probes; available lists "id/quality" pairs that
// exist. gate, when set, delays every probe until closed.
type thumbServer struct {
	mu        sync.Mutex
	probes    []string
	available map[string]bool
	gate      chan struct{}
}

func (s *thumbServer) start(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.gate != nil {
			<-s.gate
		}

		id, file := path.Split(strings.TrimPrefix(r.URL.Path, "/vi/"))
		key := strings.TrimSuffix(id, "/") + "/" + strings.TrimSuffix(file, ".jpg")

		s.mu.Lock()
		s.probes = append(s.probes, key)
		ok := s.available[key]
		s.mu.Unlock()

		if r.Method != http.MethodHead || !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func (s *thumbServer) probed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.probes...)
}

func (s *thumbServer) probeCount() int {
	return len(s.probed())
}

type memStore struct {
	mu   sync.Mutex
	urls map[string]string
}

func (m *memStore) GetThumbnail(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	url, ok := m.urls[id]

	return url, ok
}

func (m *memStore) PutThumbnail(id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.urls[id] = url

	return nil
}

func TestResolveFallsThroughQualities(t *testing.T) {
	ts := &thumbServer{available: map[string]bool{"vid/sddefault": true, "vid/default": true}}
	srv := ts.start(t)

	r := NewResolver(ResolverOptions{BaseURL: srv.URL + "/vi", Client: srv.Client()})

	url := r.Resolve(context.Background(), "vid")
	assert.Equal(t, srv.URL+"/vi/vid/sddefault.jpg", url)
	assert.Equal(t, []string{"vid/maxresdefault", "vid/sddefault"}, ts.probed())

	again := r.Resolve(context.Background(), "vid")
	assert.Equal(t, url, again)
	assert.Equal(t, 2, ts.probeCount(), "second resolve is cached")
}

func TestResolveAllFail(t *testing.T) {
	ts := &thumbServer{}
	srv := ts.start(t)

	r := NewResolver(ResolverOptions{BaseURL: srv.URL + "/vi", Client: srv.Client()})

	assert.Equal(t, srv.URL+"/vi/nope/default.jpg", r.Resolve(context.Background(), "nope"))
	assert.Equal(t, len(DefaultQualities), ts.probeCount())
}

func TestResolveConcurrentProbesShared(t *testing.T) {
	ts := &thumbServer{available: map[string]bool{"vid/maxresdefault": true}, gate: make(chan struct{})}
	srv := ts.start(t)

	r := NewResolver(ResolverOptions{BaseURL: srv.URL + "/vi", Client: srv.Client()})

	var wg sync.WaitGroup

	urls := make([]string, 5)
	for i := range urls {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			urls[i] = r.Resolve(context.Background(), "vid")
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(ts.gate)
	wg.Wait()

	for _, u := range urls {
		assert.Equal(t, srv.URL+"/vi/vid/maxresdefault.jpg", u)
	}

	assert.Equal(t, 1, ts.probeCount())
}

func TestResolvePersists(t *testing.T) {
	ts := &thumbServer{available: map[string]bool{"vid/hqdefault": true}}
	srv := ts.start(t)

	store := &memStore{urls: map[string]string{}}

	r := NewResolver(ResolverOptions{BaseURL: srv.URL + "/vi", Client: srv.Client(), Store: store})
	url := r.Resolve(context.Background(), "vid")

	got, ok := store.GetThumbnail("vid")
	require.True(t, ok)
	assert.Equal(t, url, got)

	fresh := NewResolver(ResolverOptions{BaseURL: srv.URL + "/vi", Client: srv.Client(), Store: store})
	before := ts.probeCount()
	assert.Equal(t, url, fresh.Resolve(context.Background(), "vid"))
	assert.Equal(t, before, ts.probeCount(), "persisted result is not re-probed")
}

func TestResolveCancelledCallerDoesNotDegradeCache(t *testing.T) {
	ts := &thumbServer{available: map[string]bool{"vid/sddefault": true}, gate: make(chan struct{})}
	srv := ts.start(t)

	store := &memStore{urls: map[string]string{}}
	r := NewResolver(ResolverOptions{BaseURL: srv.URL + "/vi", Client: srv.Client(), Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, srv.URL+"/vi/vid/default.jpg", r.Resolve(ctx, "vid"))

	_, ok := store.GetThumbnail("vid")
	assert.False(t, ok, "nothing persisted for a cancelled caller")

	close(ts.gate)

	assert.Equal(t, srv.URL+"/vi/vid/sddefault.jpg", r.Resolve(context.Background(), "vid"))

	got, ok := store.GetThumbnail("vid")
	require.True(t, ok)
	assert.Equal(t, srv.URL+"/vi/vid/sddefault.jpg", got)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestResolveTransportErrorsAreNotCached(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)

	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()

		return nil, errors.New("connection refused")
	})}

	store := &memStore{urls: map[string]string{}}
	r := NewResolver(ResolverOptions{BaseURL: "http://thumbs.invalid/vi", Client: client, Store: store})

	assert.Equal(t, "http://thumbs.invalid/vi/vid/default.jpg", r.Resolve(context.Background(), "vid"))

	_, ok := r.Cached("vid")
	assert.False(t, ok)

	r.Resolve(context.Background(), "vid")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2*len(DefaultQualities), calls, "a failed probe is retried")
}

func TestResolveMissingThumbnailIsNotPersisted(t *testing.T) {
	ts := &thumbServer{}
	srv := ts.start(t)

	store := &memStore{urls: map[string]string{}}
	r := NewResolver(ResolverOptions{BaseURL: srv.URL + "/vi", Client: srv.Client(), Store: store})

	assert.Equal(t, srv.URL+"/vi/vid/default.jpg", r.Resolve(context.Background(), "vid"))

	url, ok := r.Cached("vid")
	require.True(t, ok)
	assert.Equal(t, srv.URL+"/vi/vid/default.jpg", url)

	_, ok = store.GetThumbnail("vid")
	assert.False(t, ok)
}

func TestLookupDoesNotBlock(t *testing.T) {
	ts := &thumbServer{available: map[string]bool{"vid/maxresdefault": true}, gate: make(chan struct{})}
	srv := ts.start(t)

	r := NewResolver(ResolverOptions{BaseURL: srv.URL + "/vi", Client: srv.Client()})

	assert.Equal(t, srv.URL+"/vi/vid/default.jpg", r.Lookup("vid"))
	close(ts.gate)

	require.Eventually(t, func() bool {
		_, ok := r.Cached("vid")

		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, srv.URL+"/vi/vid/maxresdefault.jpg", r.Lookup("vid"))
}

func TestSessionDeliversOnlyLatestHover(t *testing.T) {
	ts := &thumbServer{available: map[string]bool{"a/maxresdefault": true, "b/maxresdefault": true}, gate: make(chan struct{})}
	srv := ts.start(t)

	r := NewResolver(ResolverOptions{BaseURL: srv.URL + "/vi", Client: srv.Client()})
	s := r.NewSession()

	delivered := make(chan string, 2)

	assert.Equal(t, srv.URL+"/vi/a/default.jpg", s.Hover("a", func(url string) { delivered <- url }))
	assert.Equal(t, srv.URL+"/vi/b/default.jpg", s.Hover("b", func(url string) { delivered <- url }))

	close(ts.gate)

	select {
	case url := <-delivered:
		assert.Equal(t, srv.URL+"/vi/b/maxresdefault.jpg", url)
	case <-time.After(time.Second):
		t.Fatal("no delivery for current hover")
	}

	require.Eventually(t, func() bool {
		_, ok := r.Cached("a")

		return ok
	}, time.Second, 5*time.Millisecond, "stale probe still fills the cache")

	select {
	case url := <-delivered:
		t.Fatalf("stale hover delivered %s", url)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, srv.URL+"/vi/a/maxresdefault.jpg", s.Hover("a", nil), "cached hover returns immediately")
}

func TestSessionClose(t *testing.T) {
	ts := &thumbServer{available: map[string]bool{"a/maxresdefault": true}, gate: make(chan struct{})}
	srv := ts.start(t)

	r := NewResolver(ResolverOptions{BaseURL: srv.URL + "/vi", Client: srv.Client()})
	s := r.NewSession()

	called := make(chan struct{}, 1)
	s.Hover("a", func(string) { called <- struct{}{} })

	s.Close()
	s.Close()
	close(ts.gate)

	require.Eventually(t, func() bool {
		_, ok := r.Cached("a")

		return ok
	}, time.Second, 5*time.Millisecond)

	select {
	case <-called:
		t.Fatal("closed session delivered")
	case <-time.After(50 * time.Millisecond):
	}
}
