// Package pipeline wires the cycle together: collect, refine, screen,
// classify, enrich, persist, deliver.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"newsward/internal/classify"
	"newsward/internal/collector"
	"newsward/internal/config"
	"newsward/internal/deliver"
	"newsward/internal/enrich"
	"newsward/internal/extract"
	"newsward/internal/news"
	"newsward/internal/quality"
	"newsward/internal/storage"
	logx "newsward/pkg/logx"
)

type Config struct {
	InstanceID       string
	InstanceLeaseTTL time.Duration // default 5m
	RetainItems      time.Duration // accepted-item retention, default 168h
}

func (c Config) withDefaults() Config {
	if c.InstanceLeaseTTL <= 0 {
		c.InstanceLeaseTTL = 5 * time.Minute
	}
	if c.RetainItems <= 0 {
		c.RetainItems = 7 * 24 * time.Hour
	}
	return c
}

// Deps are the collaborating subsystems, built once in main.
type Deps struct {
	Store      *storage.Store
	Collector  *collector.Collector
	Quality    *quality.Engine
	Refiner    *extract.Refiner
	Classifier *classify.Classifier
	Gateway    *enrich.Gateway
	Deliver    *deliver.Engine
	Log        logx.Logger
}

// CycleStats summarizes one CollectAndPublish run.
type CycleStats struct {
	Started   time.Time
	Duration  time.Duration
	Fetched   int
	Accepted  int
	Delivered deliver.Stats
	Drops     map[news.DropReason]int
	Errors    int // per-source fetch failures
}

type Pipeline struct {
	cfg Config
	d   Deps
	log logx.Logger

	running atomic.Bool
	cycle   atomic.Int64

	mu      sync.Mutex
	sources []config.SourceConfig
	last    *CycleStats
}

func New(cfg Config, sources []config.SourceConfig, d Deps) *Pipeline {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{cfg: cfg.withDefaults(), d: d, log: log, sources: sources}
}

// SetSources swaps the source list; takes effect on the next cycle.
func (p *Pipeline) SetSources(sources []config.SourceConfig) {
	p.mu.Lock()
	p.sources = sources
	p.mu.Unlock()
}

func (p *Pipeline) currentSources() []config.SourceConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sources
}

// LastStats returns the most recent cycle summary, or nil before the
// first cycle completed.
func (p *Pipeline) LastStats() *CycleStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// StopCollection raises the cross-process stop: cycles on every
// instance sharing the database refuse to run until the lease expires
// or is lifted.
func (p *Pipeline) StopCollection(ctx context.Context, by, reason string, ttl time.Duration) error {
	ok, err := p.d.Store.AcquireLease(ctx, storage.LeaseStop, by, reason, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("collection already stopped by someone else")
	}
	p.log.Info("collection stopped", logx.String("by", by), logx.String("reason", reason), logx.Duration("ttl", ttl))
	return nil
}

// ResumeCollection lifts the stop regardless of holder.
func (p *Pipeline) ResumeCollection(ctx context.Context) error {
	lease, err := p.d.Store.GetLease(ctx, storage.LeaseStop)
	if err != nil {
		return err
	}
	if lease == nil {
		return nil
	}
	return p.d.Store.ReleaseLease(ctx, storage.LeaseStop, lease.Holder)
}

// StopLease exposes the active stop for status surfaces.
func (p *Pipeline) StopLease(ctx context.Context) (*storage.Lease, error) {
	return p.d.Store.GetLease(ctx, storage.LeaseStop)
}

// CollectAndPublish runs one full cycle and returns the number of
// accepted items. Overlapping calls, an active stop lease, or a lost
// instance lease all short-circuit to 0 without error.
func (p *Pipeline) CollectAndPublish(ctx context.Context) (int, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Warn("cycle overlap, skipping")
		return 0, nil
	}
	defer p.running.Store(false)

	stop, err := p.d.Store.GetLease(ctx, storage.LeaseStop)
	if err != nil {
		return 0, err
	}
	if stop != nil {
		p.log.Info("collection is stopped",
			logx.String("by", stop.Holder),
			logx.String("reason", stop.Reason),
			logx.Time("until", stop.ExpiresAt))
		return 0, nil
	}

	ok, err := p.d.Store.AcquireLease(ctx, storage.LeaseInstance, p.cfg.InstanceID, "", p.cfg.InstanceLeaseTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		p.log.Warn("another instance holds the lock, skipping cycle")
		return 0, nil
	}

	start := time.Now()
	cycleID := fmt.Sprintf("%s-%d", p.cfg.InstanceID, p.cycle.Add(1))
	if p.d.Gateway != nil {
		p.d.Gateway.BeginCycle(cycleID)
	}

	stats := CycleStats{Started: start, Drops: map[news.DropReason]int{}}
	var accepted []*news.Item

	for _, res := range p.d.Collector.Collect(ctx, p.currentSources()) {
		if res.Err != nil {
			stats.Errors++
		}
		for _, it := range res.Items {
			stats.Fetched++
			if p.screen(ctx, res, it, &stats) {
				accepted = append(accepted, it)
			}
		}
	}
	stats.Accepted = len(accepted)

	stats.Delivered = p.d.Deliver.Deliver(ctx, accepted)
	stats.Duration = time.Since(start)

	p.housekeep(ctx)

	p.mu.Lock()
	p.last = &stats
	p.mu.Unlock()

	p.log.Info("cycle finished",
		logx.String("cycle", cycleID),
		logx.Int("fetched", stats.Fetched),
		logx.Int("accepted", stats.Accepted),
		logx.Int("sent", stats.Delivered.Sent),
		logx.Int("source_errors", stats.Errors),
		logx.String("drops", formatDrops(stats.Drops)),
		logx.Duration("dur", stats.Duration))
	return stats.Accepted, nil
}

// screen runs one candidate through refine, quality, classify, enrich
// and persist. Returns true when the item was accepted and stored.
func (p *Pipeline) screen(ctx context.Context, res collector.Result, it *news.Item, stats *CycleStats) bool {
	titleFallback := p.d.Refiner.Refine(ctx, it)

	reason, err := p.d.Quality.Evaluate(ctx, it, quality.EvalInput{
		Tier:          res.Source.Tier,
		FromFeed:      it.SourceType == news.SourceFeed,
		TitleFallback: titleFallback,
	})
	if err != nil {
		p.log.Error("quality evaluation", logx.String("url", it.URL), logx.Err(err))
		return false
	}
	if reason != "" {
		stats.Drops[reason]++
		return false
	}

	p.d.Classifier.Apply(ctx, it, it.Category)
	p.summarize(ctx, it)

	it.AcceptedAt = time.Now()
	if err := p.insertWithRetry(ctx, it); err != nil {
		p.log.Error("persist item", logx.String("url", it.URL), logx.Err(err))
		return false
	}
	return true
}

const summarySystem = "Ты новостной редактор. Сожми текст в один абзац из 2-3 предложений, сохранив факты, цифры и имена. Без вступлений и выводов."

const summaryMaxTokens = 400

func (p *Pipeline) summarize(ctx context.Context, it *news.Item) {
	if p.d.Gateway == nil || !p.d.Gateway.Enabled() {
		return
	}
	resp, outcome, err := p.d.Gateway.Do(ctx, enrich.Request{
		Task:            enrich.TaskSummary,
		ContentIdentity: it.Checksum,
		System:          summarySystem,
		Prompt:          it.Title + "\n\n" + it.CleanText,
		MaxTokens:       summaryMaxTokens,
	})
	if err != nil {
		p.log.Warn("summary ledger write", logx.Err(err))
	}
	if outcome == enrich.OutcomeOK || outcome == enrich.OutcomeCacheHit {
		it.Summary = strings.TrimSpace(resp.Text)
	}
}

// insertWithRetry absorbs transient lock contention; an item that
// still cannot be written is dropped for this cycle, never partially
// stored.
func (p *Pipeline) insertWithRetry(ctx context.Context, it *news.Item) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		if err = p.d.Store.InsertItem(ctx, it); err == nil {
			return nil
		}
	}
	return err
}

func (p *Pipeline) housekeep(ctx context.Context) {
	if n, err := p.d.Store.PruneItems(ctx, time.Now().Add(-p.cfg.RetainItems)); err != nil {
		p.log.Warn("prune items", logx.Err(err))
	} else if n > 0 {
		p.log.Debug("pruned items", logx.Int64("count", n))
	}
	if _, err := p.d.Store.PruneSourceEvents(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		p.log.Warn("prune source events", logx.Err(err))
	}
	if p.d.Gateway != nil {
		p.d.Gateway.Sweep(ctx)
		if p.d.Gateway.Enabled() && p.log.Enabled(logx.LevelDebug) {
			p.log.Debug("enrichment state", logx.Any("gateway", p.d.Gateway.State(ctx)))
		}
	}
}

func formatDrops(drops map[news.DropReason]int) string {
	if len(drops) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(drops))
	for reason, n := range drops {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
	}
	return strings.Join(parts, " ")
}
