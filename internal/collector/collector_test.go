package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"newsward/internal/config"
	"newsward/internal/fetch"
	"newsward/internal/news"
	"newsward/internal/storage"
	logx "newsward/pkg/logx"
)

const feedXML = `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>
<item><title>Новость номер один</title><link>https://example.com/1</link>
<description>Текст первой новости.</description></item>
</channel></rss>`

type memStore struct {
	mu     sync.Mutex
	states map[string]storage.SourceState
	events []string
	seen   map[string]bool
	streak int
}

func newMemStore() *memStore {
	return &memStore{states: map[string]storage.SourceState{}, seen: map[string]bool{}}
}

func (m *memStore) GetSourceState(_ context.Context, source string) (storage.SourceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[source]
	if !ok {
		st = storage.SourceState{Source: source}
	}
	return st, nil
}

func (m *memStore) PutSourceState(_ context.Context, st storage.SourceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.Source] = st
	return nil
}

func (m *memStore) RecordSourceEvent(_ context.Context, source, code string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, source+":"+code)
	return nil
}

func (m *memStore) CountSourceEvents(context.Context, string, time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streak, nil
}

func (m *memStore) SeenURLHash(_ context.Context, h string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[h], nil
}

func newTestCollector(t *testing.T, store Store) *Collector {
	t.Helper()
	client := fetch.New(fetch.Config{Timeout: 5 * time.Second, Retries: 1}, logx.Nop())
	return New(Config{Workers: 2, FetchTimeout: 5 * time.Second}, client, store, logx.Nop())
}

func feedSource(url string) config.SourceConfig {
	return config.SourceConfig{URL: url, Name: "lenta", Category: "russia", Type: "feed"}
}

func TestCollectFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	store := newMemStore()
	c := newTestCollector(t, store)

	results := c.Collect(context.Background(), []config.SourceConfig{feedSource(srv.URL)})
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	r := results[0]
	if r.Err != nil || r.Skipped || r.FromCache {
		t.Fatalf("result = %+v", r)
	}
	if len(r.Items) != 1 || r.Items[0].Category != news.CategoryRussia {
		t.Fatalf("items = %+v", r.Items)
	}
	if st := store.states["lenta"]; st.LastOKAt.IsZero() || !st.CooldownUntil.IsZero() {
		t.Errorf("state = %+v", st)
	}
}

func TestCollectFeedConditionalGet(t *testing.T) {
	t.Parallel()

	var sawValidator atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == "\"v1\"" {
			sawValidator.Store(true)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", "\"v1\"")
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	store := newMemStore()
	c := newTestCollector(t, store)
	src := []config.SourceConfig{feedSource(srv.URL)}

	// First cycle captures the response validators.
	results := c.Collect(context.Background(), src)
	if results[0].Err != nil || len(results[0].Items) != 1 {
		t.Fatalf("first cycle = %+v", results[0])
	}
	st := store.states["lenta"]
	if st.ETag != "\"v1\"" || st.LastModified == "" {
		t.Fatalf("validators not captured: %+v", st)
	}

	// Second cycle sends them, gets 304 and reuses the cached items.
	results = c.Collect(context.Background(), src)
	if !sawValidator.Load() {
		t.Fatal("second fetch carried no If-None-Match")
	}
	r := results[0]
	if r.Err != nil || len(r.Items) != 1 {
		t.Fatalf("not-modified cycle = %+v", r)
	}
	if st := store.states["lenta"]; st.ETag != "\"v1\"" {
		t.Fatalf("validator lost after 304: %+v", st)
	}
}

func TestCollectSkipsCooldown(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	store := newMemStore()
	store.states["lenta"] = storage.SourceState{
		Source:        "lenta",
		CooldownUntil: time.Now().Add(time.Hour),
	}
	c := newTestCollector(t, store)

	results := c.Collect(context.Background(), []config.SourceConfig{feedSource(srv.URL)})
	if !results[0].Skipped {
		t.Fatal("cooldown source was not skipped")
	}
	if hits.Load() != 0 {
		t.Fatalf("cooldown source was fetched %d times", hits.Load())
	}
}

func TestCollect404Cooldown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	store := newMemStore()
	c := newTestCollector(t, store)

	results := c.Collect(context.Background(), []config.SourceConfig{feedSource(srv.URL)})
	if results[0].Err == nil {
		t.Fatal("expected fetch error")
	}
	st := store.states["lenta"]
	if st.CooldownReason != "HTTP_404" {
		t.Errorf("cooldown reason = %q", st.CooldownReason)
	}
	until := time.Until(st.CooldownUntil)
	if until < 55*time.Minute || until > 65*time.Minute {
		t.Errorf("cooldown until = %v", until)
	}
	if len(store.events) != 1 || store.events[0] != "lenta:HTTP_404" {
		t.Errorf("events = %v", store.events)
	}
}

func TestCollectStreakCooldown(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.streak = 5
	c := newTestCollector(t, store)

	// Connection refused: nothing listens on this address.
	src := feedSource("http://127.0.0.1:1")
	results := c.Collect(context.Background(), []config.SourceConfig{src})
	if results[0].Err == nil {
		t.Fatal("expected connection error")
	}
	st := store.states["lenta"]
	if st.CooldownReason != "CONNECTION_ERROR" {
		t.Errorf("cooldown reason = %q", st.CooldownReason)
	}
	if st.CooldownUntil.IsZero() {
		t.Error("streak did not trigger cooldown")
	}
}

func TestCollectFlakyMirror(t *testing.T) {
	t.Parallel()

	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedXML))
	}))
	defer mirror.Close()
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	store := newMemStore()
	c := newTestCollector(t, store)

	src := feedSource(primary.URL)
	src.Flaky = true
	src.Mirrors = []string{mirror.URL}
	results := c.Collect(context.Background(), []config.SourceConfig{src})
	r := results[0]
	if r.Err != nil {
		t.Fatalf("mirror fallback failed: %v", r.Err)
	}
	if len(r.Items) != 1 {
		t.Fatalf("items = %+v", r.Items)
	}
}

func TestCollectCachedFallback(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	store := newMemStore()
	c := newTestCollector(t, store)
	src := feedSource(srv.URL)

	if r := c.Collect(context.Background(), []config.SourceConfig{src})[0]; r.Err != nil {
		t.Fatalf("warmup: %v", r.Err)
	}
	fail.Store(true)
	r := c.Collect(context.Background(), []config.SourceConfig{src})[0]
	if r.Err == nil || !r.FromCache {
		t.Fatalf("result = %+v", r)
	}
	if len(r.Items) != 1 || !strings.Contains(r.Items[0].Title, "Новость") {
		t.Fatalf("cached items = %+v", r.Items)
	}
}
