package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"newsward/internal/classify"
	"newsward/internal/collector"
	"newsward/internal/config"
	"newsward/internal/deliver"
	"newsward/internal/enrich"
	"newsward/internal/extract"
	"newsward/internal/fetch"
	"newsward/internal/news"
	"newsward/internal/quality"
	"newsward/internal/storage"
	logx "newsward/pkg/logx"
)

type memSender struct {
	mu   sync.Mutex
	sent map[int64]int
}

func (s *memSender) Send(_ context.Context, chatID int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[chatID]++
	return nil
}

func feedBody(now time.Time) string {
	pub := now.Format(time.RFC1123Z)
	return fmt.Sprintf(`<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>
<item><title>Правительство утвердило новую программу развития регионов</title>
<link>https://example.com/news/1</link>
<description>Правительство утвердило масштабную программу развития регионов страны. Документ предусматривает финансирование инфраструктурных проектов в течение пяти лет. Эксперты называют решение важным шагом для экономики.</description>
<pubDate>%s</pubDate></item>
<item><title>В столице открылась крупная международная выставка технологий</title>
<link>https://example.com/news/2</link>
<description>В столице открылась международная выставка современных технологий и робототехники. Участие принимают компании из двадцати стран мира. Организаторы ожидают более ста тысяч посетителей за неделю работы.</description>
<pubDate>%s</pubDate></item>
</channel></rss>`, pub, pub)
}

type env struct {
	p      *Pipeline
	store  *storage.Store
	sender *memSender
	hits   *atomic.Int32
}

func newEnv(t *testing.T, instanceID string, st *storage.Store) *env {
	t.Helper()
	if st == nil {
		var err error
		st, err = storage.Open(storage.Config{Path: ":memory:"}, logx.Nop())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
	}

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(feedBody(time.Now())))
	}))
	t.Cleanup(srv.Close)

	client := fetch.New(fetch.Config{Timeout: 5 * time.Second, Retries: 1}, logx.Nop())
	col := collector.New(collector.Config{Workers: 2}, client, st, logx.Nop())
	qe := quality.NewEngine(quality.Config{MinScore: 0.05, MinScoreNoisy: 0.1, MinTextLen: 20, MinTextLenFeed: 20}, st, logx.Nop())

	gw := enrich.NewGateway(enrich.Config{Enabled: false}, nil, st,
		enrich.NewBudget(enrich.BudgetConfig{}, st, logx.Nop()),
		enrich.NewCycleGate(0), logx.Nop())
	cls := classify.New(gw, logx.Nop())
	ref := extract.NewRefiner(gw, 400, logx.Nop())

	sender := &memSender{sent: map[int64]int{}}
	del := deliver.NewEngine(deliver.Config{RatePerSec: 1000}, st, sender, logx.Nop())

	sources := []config.SourceConfig{{
		URL: srv.URL, Name: "lenta", Category: "russia", Type: "feed",
	}}
	p := New(Config{InstanceID: instanceID}, sources, Deps{
		Store: st, Collector: col, Quality: qe, Refiner: ref,
		Classifier: cls, Gateway: gw, Deliver: del, Log: logx.Nop(),
	})
	return &env{p: p, store: st, sender: sender, hits: &hits}
}

func TestCollectAndPublishEndToEnd(t *testing.T) {
	t.Parallel()
	e := newEnv(t, "itest", nil)
	ctx := context.Background()

	for _, chat := range []int64{1, 2, 3, 4} {
		if err := e.store.UpsertSubscriber(ctx, chat); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.store.SetSubscriberPaused(ctx, 4, true); err != nil {
		t.Fatal(err)
	}

	n, err := e.p.CollectAndPublish(ctx)
	if err != nil {
		t.Fatalf("CollectAndPublish: %v", err)
	}
	if n != 2 {
		t.Fatalf("accepted = %d, want 2", n)
	}
	for _, chat := range []int64{1, 2, 3} {
		if got := e.sender.sent[chat]; got != 2 {
			t.Errorf("chat %d got %d messages, want 2", chat, got)
		}
	}
	if e.sender.sent[4] != 0 {
		t.Errorf("paused chat got %d messages", e.sender.sent[4])
	}

	stats := e.p.LastStats()
	if stats == nil || stats.Accepted != 2 || stats.Delivered.Sent != 6 {
		t.Fatalf("stats = %+v", stats)
	}

	// Same feed again: everything dedups away.
	n, err = e.p.CollectAndPublish(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if n != 0 {
		t.Fatalf("second cycle accepted %d", n)
	}
	stats = e.p.LastStats()
	if total := stats.Drops[news.DropDuplicateGUID] + stats.Drops[news.DropDuplicateURL]; total != 2 {
		t.Errorf("drops = %v", stats.Drops)
	}

	// Resume delivers the missed items exactly once.
	if err := e.store.SetSubscriberPaused(ctx, 4, false); err != nil {
		t.Fatal(err)
	}
	rstats, err := deliver.NewEngine(deliver.Config{RatePerSec: 1000}, e.store, e.sender, logx.Nop()).Replay(ctx, 4)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if rstats.Sent != 2 || e.sender.sent[4] != 2 {
		t.Fatalf("replay = %+v, chat4 = %d", rstats, e.sender.sent[4])
	}
}

func TestCollectAndPublishStopLease(t *testing.T) {
	t.Parallel()
	e := newEnv(t, "itest", nil)
	ctx := context.Background()

	if err := e.p.StopCollection(ctx, "admin:7", "deploy window", time.Minute); err != nil {
		t.Fatalf("StopCollection: %v", err)
	}
	lease, err := e.p.StopLease(ctx)
	if err != nil || lease == nil || lease.Reason != "deploy window" {
		t.Fatalf("StopLease = %+v, %v", lease, err)
	}

	n, err := e.p.CollectAndPublish(ctx)
	if err != nil || n != 0 {
		t.Fatalf("stopped cycle = %d, %v", n, err)
	}
	if e.hits.Load() != 0 {
		t.Fatalf("stopped cycle fetched %d times", e.hits.Load())
	}

	if err := e.p.ResumeCollection(ctx); err != nil {
		t.Fatalf("ResumeCollection: %v", err)
	}
	if n, err = e.p.CollectAndPublish(ctx); err != nil || n != 2 {
		t.Fatalf("resumed cycle = %d, %v", n, err)
	}
}

func TestCollectAndPublishInstanceLock(t *testing.T) {
	t.Parallel()
	a := newEnv(t, "proc-a", nil)
	ctx := context.Background()

	if _, err := a.p.CollectAndPublish(ctx); err != nil {
		t.Fatal(err)
	}

	// A second instance on the same database must refuse to run while
	// the first one's lease is live.
	b := newEnv(t, "proc-b", a.store)
	n, err := b.p.CollectAndPublish(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second instance cycle = %d, %v", n, err)
	}
	if b.hits.Load() != 0 {
		t.Fatalf("locked-out instance fetched %d times", b.hits.Load())
	}
}

func TestCollectAndPublishOverlapGuard(t *testing.T) {
	t.Parallel()
	e := newEnv(t, "itest", nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	counts := make([]int, 2)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := e.p.CollectAndPublish(ctx)
			if err != nil {
				t.Errorf("cycle %d: %v", i, err)
			}
			counts[i] = n
		}(i)
	}
	wg.Wait()

	if counts[0]+counts[1] != 2 {
		t.Fatalf("accepted across overlapping cycles = %v", counts)
	}
}
