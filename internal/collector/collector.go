// Package collector runs the concurrent fetch+parse cycle across all
// configured sources and applies per-source cooldown scheduling.
package collector

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"newsward/internal/config"
	"newsward/internal/feed"
	"newsward/internal/fetch"
	"newsward/internal/news"
	"newsward/internal/quality"
	"newsward/internal/scrape"
	"newsward/internal/storage"
	logx "newsward/pkg/logx"
)

// Store is the slice of persistence the collector needs: fetch state
// plus the sliding error-streak window.
type Store interface {
	GetSourceState(ctx context.Context, source string) (storage.SourceState, error)
	PutSourceState(ctx context.Context, st storage.SourceState) error
	RecordSourceEvent(ctx context.Context, source, code string, at time.Time) error
	CountSourceEvents(ctx context.Context, source string, since time.Time) (int, error)
	SeenURLHash(ctx context.Context, urlHash string) (bool, error)
}

type Config struct {
	Workers      int           // default 6
	FetchTimeout time.Duration // per source, default 25s

	ErrorWindow    time.Duration // streak sliding window, default 10m
	ErrorLimit     int           // streak size that triggers cooldown, default 5
	StreakCooldown time.Duration // default 10m
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 6
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 25 * time.Second
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = 10 * time.Minute
	}
	if c.ErrorLimit <= 0 {
		c.ErrorLimit = 5
	}
	if c.StreakCooldown <= 0 {
		c.StreakCooldown = 10 * time.Minute
	}
	return c
}

// Cooldown spans per classified error. 429 sits at the short end of
// the rate-limit range, 403 at the long end.
const (
	cooldown403       = 30 * time.Minute
	cooldown429       = 15 * time.Minute
	cooldown404       = time.Hour
	cooldownFlaky503  = 5 * time.Minute
	maxScrapeArticles = 8
)

// Result is one source's contribution to a cycle.
type Result struct {
	Source    config.SourceConfig
	Items     []*news.Item
	FromCache bool
	Skipped   bool // cooldown hit, zero fetch attempts
	Err       error
}

// Collector fans sources out over a bounded worker pool and fans
// candidate items back in.
type Collector struct {
	cfg    Config
	client *fetch.Client
	feeds  *feed.Parser
	store  Store
	log    logx.Logger
	now    func() time.Time

	// cached holds each source's last successfully parsed candidates,
	// served when a fetch fails or only a 304 comes back.
	mu     sync.Mutex
	cached map[string][]*news.Item
}

func New(cfg Config, client *fetch.Client, store Store, log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Collector{
		cfg:    cfg.withDefaults(),
		client: client,
		feeds:  feed.NewParser(),
		store:  store,
		log:    log,
		now:    time.Now,
		cached: make(map[string][]*news.Item),
	}
}

// Collect fetches every due source concurrently and returns per-source
// results in no particular order. Per-source failures are reported in
// the Result, never as an error for the whole cycle.
func (c *Collector) Collect(ctx context.Context, sources []config.SourceConfig) []Result {
	jobs := make(chan config.SourceConfig)
	results := make(chan Result, len(sources))

	var wg sync.WaitGroup
	workers := c.cfg.Workers
	if workers > len(sources) {
		workers = len(sources)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range jobs {
				results <- c.collectOne(ctx, src)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, src := range sources {
			select {
			case <-ctx.Done():
				return
			case jobs <- src:
			}
		}
	}()

	wg.Wait()
	close(results)

	out := make([]Result, 0, len(sources))
	for r := range results {
		out = append(out, r)
	}
	return out
}

func (c *Collector) collectOne(ctx context.Context, src config.SourceConfig) Result {
	res := Result{Source: src}
	now := c.now()

	state, err := c.store.GetSourceState(ctx, src.Name)
	if err != nil {
		res.Err = err
		return res
	}
	if state.CooldownUntil.After(now) {
		c.log.Debug("source in cooldown, skipped",
			logx.String("source", src.Name),
			logx.String("reason", state.CooldownReason),
			logx.Time("until", state.CooldownUntil))
		res.Skipped = true
		return res
	}

	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	var items []*news.Item
	switch news.SourceType(src.Type) {
	case news.SourceScrape:
		items, err = c.collectScrape(fctx, src)
	default:
		items, err = c.collectFeed(fctx, src, &state)
	}
	if err != nil {
		res.Err = err
		res.Items, res.FromCache = c.cachedItems(src.Name)
		c.recordFailure(ctx, src, state, err)
		return res
	}

	state.LastOKAt = c.now()
	state.LastError = ""
	state.CooldownUntil = time.Time{}
	state.CooldownReason = ""
	if err := c.store.PutSourceState(ctx, state); err != nil {
		c.log.Warn("put source state", logx.String("source", src.Name), logx.Err(err))
	}

	c.mu.Lock()
	c.cached[src.Name] = items
	c.mu.Unlock()

	res.Items = items
	return res
}

func (c *Collector) collectFeed(ctx context.Context, src config.SourceConfig, state *storage.SourceState) ([]*news.Item, error) {
	res, err := c.fetchWithMirrors(ctx, src, conditionalHeaders(*state))
	if err != nil {
		return nil, err
	}
	if res.Status == http.StatusNotModified {
		c.log.Debug("feed not modified", logx.String("source", src.Name))
		items, _ := c.cachedItems(src.Name)
		return items, nil
	}
	if etag := res.Header.Get("ETag"); etag != "" {
		state.ETag = etag
	}
	if lm := res.Header.Get("Last-Modified"); lm != "" {
		state.LastModified = lm
	}

	items, err := c.feeds.Parse(res.Body, src.Name)
	if err != nil {
		return nil, &fetch.Error{Code: fetch.CodeParse, URL: src.URL, Err: err}
	}
	for _, it := range items {
		it.Category = news.Category(src.Category)
	}
	return items, nil
}

// conditionalHeaders turns the persisted validators into a conditional
// feed re-fetch.
func conditionalHeaders(state storage.SourceState) map[string]string {
	if state.ETag == "" && state.LastModified == "" {
		return nil
	}
	h := make(map[string]string, 2)
	if state.ETag != "" {
		h["If-None-Match"] = state.ETag
	}
	if state.LastModified != "" {
		h["If-Modified-Since"] = state.LastModified
	}
	return h
}

func (c *Collector) collectScrape(ctx context.Context, src config.SourceConfig) ([]*news.Item, error) {
	res, err := c.fetchWithMirrors(ctx, src, nil)
	if err != nil {
		return nil, err
	}
	links, err := scrape.Links(res.Body, src.URL)
	if err != nil {
		return nil, &fetch.Error{Code: fetch.CodeParse, URL: src.URL, Err: err}
	}

	now := c.now()
	var items []*news.Item
	for _, link := range links {
		if len(items) >= maxScrapeArticles {
			break
		}
		// Article pages are expensive; skip URLs the pipeline already
		// accepted before paying for the fetch.
		seen, err := c.store.SeenURLHash(ctx, quality.URLHash(quality.NormalizeURL(link.URL)))
		if err == nil && seen {
			continue
		}
		page, err := c.client.Get(ctx, link.URL, nil)
		if err != nil {
			c.log.Debug("article fetch failed",
				logx.String("source", src.Name), logx.String("url", link.URL), logx.Err(err))
			continue
		}
		art, err := scrape.Extract(page.Body, link.URL)
		if err != nil {
			continue
		}
		title := art.Title
		if title == "" {
			title = link.Title
		}
		items = append(items, &news.Item{
			URL:           link.URL,
			Title:         title,
			Source:        src.Name,
			SourceType:    news.SourceScrape,
			Category:      news.Category(src.Category),
			RawText:       art.Text,
			PublishedAt:   now,
			PublishedConf: news.ConfidenceSurrogate,
		})
	}
	return items, nil
}

// fetchWithMirrors fetches the primary URL; a 503 from a flaky source
// gets one shot per mirror before the failure surfaces. Validators
// belong to the primary endpoint, so mirrors are fetched without them.
func (c *Collector) fetchWithMirrors(ctx context.Context, src config.SourceConfig, headers map[string]string) (*fetch.Result, error) {
	res, err := c.client.Get(ctx, src.URL, headers)
	if err == nil {
		return res, nil
	}
	if !src.Flaky || fetchStatus(err) != 503 || len(src.Mirrors) == 0 {
		return nil, err
	}
	for _, mirror := range src.Mirrors {
		c.log.Info("trying mirror", logx.String("source", src.Name), logx.String("mirror", mirror))
		mres, merr := c.client.Get(ctx, mirror, nil)
		if merr == nil {
			return mres, nil
		}
	}
	return nil, err
}

// recordFailure classifies err, persists the event, and schedules the
// cooldown the classification calls for.
func (c *Collector) recordFailure(ctx context.Context, src config.SourceConfig, state storage.SourceState, err error) {
	now := c.now()
	code := fetch.CodeFetch
	var fe *fetch.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	if rerr := c.store.RecordSourceEvent(ctx, src.Name, string(code), now); rerr != nil {
		c.log.Warn("record source event", logx.String("source", src.Name), logx.Err(rerr))
	}

	var cooldown time.Duration
	switch fetchStatus(err) {
	case 403:
		cooldown = cooldown403
	case 429:
		cooldown = cooldown429
	case 404:
		cooldown = cooldown404
	case 503:
		if src.Flaky {
			cooldown = cooldownFlaky503
		}
	}
	if cooldown == 0 {
		streak, serr := c.store.CountSourceEvents(ctx, src.Name, now.Add(-c.cfg.ErrorWindow))
		if serr != nil {
			c.log.Warn("count source events", logx.String("source", src.Name), logx.Err(serr))
		} else if streak >= c.cfg.ErrorLimit {
			cooldown = c.cfg.StreakCooldown
		}
	}

	state.LastError = err.Error()
	if cooldown > 0 {
		state.CooldownUntil = now.Add(cooldown)
		state.CooldownReason = string(code)
		c.log.Warn("source cooled down",
			logx.String("source", src.Name),
			logx.String("code", string(code)),
			logx.Duration("cooldown", cooldown))
	}
	if perr := c.store.PutSourceState(ctx, state); perr != nil {
		c.log.Warn("put source state", logx.String("source", src.Name), logx.Err(perr))
	}
}

func (c *Collector) cachedItems(source string) ([]*news.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.cached[source]
	return items, len(items) > 0
}

func fetchStatus(err error) int {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}
