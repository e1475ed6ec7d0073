package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "newsward/pkg/logx"
)

type memCache struct {
	mu sync.Mutex
	m  map[string]CacheEntry
}

func newMemCache() *memCache { return &memCache{m: map[string]CacheEntry{}} }

func (c *memCache) GetLLMCache(_ context.Context, key string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || time.Now().After(e.ExpiresAt) {
		return nil, nil
	}
	cp := e
	return &cp, nil
}

func (c *memCache) PutLLMCache(_ context.Context, e CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[e.Key] = e
	return nil
}

func (c *memCache) SweepLLMCache(_ context.Context, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for k, e := range c.m {
		if now.After(e.ExpiresAt) {
			delete(c.m, k)
			n++
		}
	}
	return n, nil
}

type fakeCaller struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeCaller) Call(_ context.Context, _ Task, _, _ string, _ int) (string, int, int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", 0, 0, f.err
	}
	return f.text, 120, 40, nil
}

func newTestGateway(caller Caller, maxCalls int) (*Gateway, *memLedger) {
	ledger := newMemLedger()
	budget := NewBudget(BudgetConfig{DailyLimitUSD: 10, InputRateUSD: 1, OutputRateUSD: 1}, ledger, logx.Nop())
	gate := NewCycleGate(maxCalls)
	gw := NewGateway(Config{Enabled: true}, caller, newMemCache(), budget, gate, logx.Nop())
	return gw, ledger
}

func TestGatewayCacheHitSkipsNetwork(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{text: "summary text"}
	gw, ledger := newTestGateway(caller, 0)
	ctx := context.Background()

	req := Request{Task: TaskSummary, ContentIdentity: "chk-1", Prompt: "p"}

	resp, outcome, err := gw.Do(ctx, req)
	if err != nil || outcome != OutcomeOK {
		t.Fatalf("first Do: outcome=%s err=%v", outcome, err)
	}
	if resp.Text != "summary text" || resp.CacheHit {
		t.Fatalf("unexpected first response: %+v", resp)
	}

	resp, outcome, err = gw.Do(ctx, req)
	if err != nil || outcome != OutcomeCacheHit {
		t.Fatalf("second Do: outcome=%s err=%v", outcome, err)
	}
	if !resp.CacheHit || resp.Text != "summary text" {
		t.Fatalf("expected cached response, got %+v", resp)
	}
	if caller.calls != 1 {
		t.Fatalf("caller invoked %d times, want 1", caller.calls)
	}

	u, _ := ledger.BudgetUsage(ctx, time.Now().UTC().Format("2006-01-02"))
	if u.Calls != 1 || u.CacheHits != 1 {
		t.Fatalf("ledger = %+v, want 1 call and 1 cache hit", u)
	}
}

func TestGatewayDisabled(t *testing.T) {
	t.Parallel()
	gw := NewGateway(Config{Enabled: false}, &fakeCaller{}, newMemCache(),
		NewBudget(BudgetConfig{}, newMemLedger(), logx.Nop()), NewCycleGate(0), logx.Nop())
	_, outcome, err := gw.Do(context.Background(), Request{Task: TaskSummary})
	if err != nil || outcome != OutcomeDisabled {
		t.Fatalf("outcome=%s err=%v, want disabled", outcome, err)
	}
}

func TestGatewayUnavailableNeverErrors(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{err: errors.New("connection refused")}
	gw, _ := newTestGateway(caller, 0)
	resp, outcome, err := gw.Do(context.Background(), Request{Task: TaskCleanup, ContentIdentity: "c"})
	if err != nil {
		t.Fatalf("transport failure must not surface as error: %v", err)
	}
	if outcome != OutcomeUnavailable || resp.Text != "" {
		t.Fatalf("outcome=%s resp=%+v, want unavailable with empty response", outcome, resp)
	}
}

func TestGatewayLedgerFailureKeepsResponse(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{text: "готовый ответ"}
	gw, ledger := newTestGateway(caller, 0)
	ledger.failAdd = errors.New("disk i/o error")

	resp, outcome, err := gw.Do(context.Background(), Request{Task: TaskSummary, ContentIdentity: "s"})
	if err == nil {
		t.Fatal("ledger failure must surface as error")
	}
	if outcome != OutcomeOK {
		t.Fatalf("outcome = %s, want ok", outcome)
	}
	// The model output is already paid for and must not be discarded.
	if resp.Text != "готовый ответ" || resp.TokensIn == 0 {
		t.Fatalf("response lost on ledger failure: %+v", resp)
	}
}

func TestGatewayStopLeaseSilencesCalls(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{text: "x"}
	budget := NewBudget(BudgetConfig{DailyLimitUSD: 10, InputRateUSD: 1, OutputRateUSD: 1}, newMemLedger(), logx.Nop())
	stopped := true
	gw := NewGateway(Config{
		Enabled: true,
		Stopped: func(context.Context) bool { return stopped },
	}, caller, newMemCache(), budget, NewCycleGate(0), logx.Nop())
	ctx := context.Background()

	_, outcome, err := gw.Do(ctx, Request{Task: TaskSummary, ContentIdentity: "s"})
	if err != nil || outcome != OutcomeStopped {
		t.Fatalf("outcome=%s err=%v, want stopped", outcome, err)
	}
	if caller.calls != 0 {
		t.Fatalf("caller invoked %d times while stopped", caller.calls)
	}

	// Lease released: the same request goes through.
	stopped = false
	_, outcome, err = gw.Do(ctx, Request{Task: TaskSummary, ContentIdentity: "s"})
	if err != nil || outcome != OutcomeOK {
		t.Fatalf("after release: outcome=%s err=%v", outcome, err)
	}

	// A cached response is still served under an active stop.
	stopped = true
	_, outcome, err = gw.Do(ctx, Request{Task: TaskSummary, ContentIdentity: "s"})
	if err != nil || outcome != OutcomeCacheHit {
		t.Fatalf("cache under stop: outcome=%s err=%v", outcome, err)
	}
}

func TestGatewayCycleGateDegradesInOrder(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{text: "x"}
	gw, _ := newTestGateway(caller, 1)
	ctx := context.Background()
	gw.BeginCycle("cycle-1")

	// First call consumes the cycle cap.
	if _, outcome, _ := gw.Do(ctx, Request{Task: TaskHashtags, ContentIdentity: "a"}); outcome != OutcomeOK {
		t.Fatalf("first call outcome = %s", outcome)
	}

	// Cap reached: summary is shed first.
	if _, outcome, _ := gw.Do(ctx, Request{Task: TaskSummary, ContentIdentity: "b"}); outcome != OutcomeCycleLimited {
		t.Fatalf("summary outcome = %s, want cycle_limited", outcome)
	}
	// Next cycle resets the gate.
	gw.BeginCycle("cycle-2")
	if _, outcome, _ := gw.Do(ctx, Request{Task: TaskSummary, ContentIdentity: "c"}); outcome != OutcomeOK {
		t.Fatalf("new cycle outcome = %s, want ok", outcome)
	}
}

func TestCacheKeyStableAndParamSensitive(t *testing.T) {
	t.Parallel()
	a := CacheKey(TaskSummary, "chk", map[string]string{"lang": "ru", "rev": "2"})
	b := CacheKey(TaskSummary, "chk", map[string]string{"rev": "2", "lang": "ru"})
	if a != b {
		t.Fatal("key must not depend on param order")
	}
	if a == CacheKey(TaskSummary, "chk", map[string]string{"lang": "en", "rev": "2"}) {
		t.Fatal("params must distinguish keys")
	}
	if a == CacheKey(TaskCleanup, "chk", map[string]string{"lang": "ru", "rev": "2"}) {
		t.Fatal("task must distinguish keys")
	}
}
