// Package deliver fans accepted items out to subscribers with
// at-most-once semantics per (subscriber, item) pair.
package deliver

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"newsward/internal/news"
	"newsward/internal/storage"
	logx "newsward/pkg/logx"
)

// Sender delivers one rendered message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Store is the slice of persistence the engine needs. The delivery
// log insert is the idempotency point; everything else is bookkeeping
// around it.
type Store interface {
	ListSubscribers(ctx context.Context) ([]storage.Subscriber, error)
	GetSubscriber(ctx context.Context, chatID int64) (*storage.Subscriber, error)
	SubscriberPauseVersion(ctx context.Context, chatID int64) (int64, error)
	LogDelivery(ctx context.Context, chatID, itemID int64) (bool, error)
	UnlogDelivery(ctx context.Context, chatID, itemID int64) error
	AdvanceLastDelivered(ctx context.Context, chatID, itemID int64) error
	ItemsAfter(ctx context.Context, afterID int64, minAcceptedAt time.Time, categories []news.Category, limit int) ([]*news.Item, error)
}

type Config struct {
	Workers      int           // subscriber fan-out, default 4
	RatePerSec   int           // messages per second across all chats, default 10
	SendTimeout  time.Duration // default 10s
	ReplayMaxAge time.Duration // freshness bound on resume replay, default 24h
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.ReplayMaxAge <= 0 {
		c.ReplayMaxAge = 24 * time.Hour
	}
	return c
}

const replayLimit = 50

// Stats summarizes one delivery pass.
type Stats struct {
	Sent    int
	Skipped int // paused subscribers, filtered or already-logged items
	Failed  int
}

type Engine struct {
	cfg     Config
	store   Store
	sender  Sender
	limiter *rate.Limiter
	log     logx.Logger
	now     func() time.Time
}

func NewEngine(cfg Config, store Store, sender Sender, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
		now:     time.Now,
	}
}

// Deliver sends items to every active subscriber whose filter admits
// them. Subscriber state is snapshotted once up front; the pause
// version is re-read right before each insert so a pause that lands
// mid-cycle stops further sends to that chat.
func (e *Engine) Deliver(ctx context.Context, items []*news.Item) Stats {
	if len(items) == 0 {
		return Stats{}
	}
	subs, err := e.store.ListSubscribers(ctx)
	if err != nil {
		e.log.Error("list subscribers", logx.Err(err))
		return Stats{}
	}

	jobs := make(chan storage.Subscriber)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		st Stats
	)
	workers := e.cfg.Workers
	if workers > len(subs) {
		workers = len(subs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				s := e.deliverTo(ctx, sub, items)
				mu.Lock()
				st.Sent += s.Sent
				st.Skipped += s.Skipped
				st.Failed += s.Failed
				mu.Unlock()
			}
		}()
	}
	for _, sub := range subs {
		select {
		case <-ctx.Done():
		case jobs <- sub:
		}
	}
	close(jobs)
	wg.Wait()
	return st
}

func (e *Engine) deliverTo(ctx context.Context, sub storage.Subscriber, items []*news.Item) Stats {
	var st Stats
	if sub.Paused {
		st.Skipped += len(items)
		return st
	}
	for _, it := range items {
		if it.ID != 0 && it.ID <= sub.LastDeliveredItemID {
			st.Skipped++
			continue
		}
		if !sub.Wants(it.Category, it.Source) {
			st.Skipped++
			continue
		}
		switch err := e.deliverOne(ctx, sub, it); {
		case err == nil:
			st.Sent++
		case err == errSkipped:
			st.Skipped++
		default:
			st.Failed++
			e.log.Warn("delivery failed",
				logx.Int64("chat", sub.ChatID),
				logx.Int64("item", it.ID),
				logx.Err(err))
		}
	}
	return st
}

var errSkipped = errors.New("delivery skipped")

// deliverOne is the two-phase protocol for a single (chat, item) pair:
// re-check the pause version against the snapshot, claim the pair with
// a unique delivery-log insert, then send. A failed send rolls the
// claim back so a later cycle can retry.
func (e *Engine) deliverOne(ctx context.Context, sub storage.Subscriber, it *news.Item) error {
	v, err := e.store.SubscriberPauseVersion(ctx, sub.ChatID)
	if err != nil {
		return err
	}
	if v != sub.PauseVersion {
		// Pause or resume raced this cycle; the resume replay picks
		// the item up if it is still fresh.
		return errSkipped
	}

	claimed, err := e.store.LogDelivery(ctx, sub.ChatID, it.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return errSkipped
	}

	if err := e.limiter.Wait(ctx); err != nil {
		_ = e.store.UnlogDelivery(ctx, sub.ChatID, it.ID)
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	err = e.sender.Send(sctx, sub.ChatID, Format(it))
	cancel()
	if err != nil {
		if uerr := e.store.UnlogDelivery(ctx, sub.ChatID, it.ID); uerr != nil {
			e.log.Error("delivery log rollback failed",
				logx.Int64("chat", sub.ChatID), logx.Int64("item", it.ID), logx.Err(uerr))
		}
		return err
	}

	if err := e.store.AdvanceLastDelivered(ctx, sub.ChatID, it.ID); err != nil {
		e.log.Warn("advance watermark", logx.Int64("chat", sub.ChatID), logx.Err(err))
	}
	return nil
}

// Replay delivers items the subscriber missed while paused, bounded by
// the freshness window. Call after a resume.
func (e *Engine) Replay(ctx context.Context, chatID int64) (Stats, error) {
	sub, err := e.store.GetSubscriber(ctx, chatID)
	if err != nil {
		return Stats{}, err
	}
	if sub == nil || sub.Paused {
		return Stats{}, nil
	}
	items, err := e.store.ItemsAfter(ctx, sub.LastDeliveredItemID,
		e.now().Add(-e.cfg.ReplayMaxAge), sub.Categories, replayLimit)
	if err != nil {
		return Stats{}, err
	}
	return e.deliverTo(ctx, *sub, items), nil
}
