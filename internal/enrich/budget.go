package enrich

import (
	"context"
	"sort"
	"sync"
	"time"

	logx "newsward/pkg/logx"
)

// BudgetConfig caps daily LLM spend.
type BudgetConfig struct {
	DailyLimitUSD float64 // 0 disables the cost ceiling
	ReserveUSD    float64 // safety margin subtracted from the ceiling
	DailyTokenCap int64   // 0 disables the token ceiling
	InputRateUSD  float64 // per 1M input tokens
	OutputRateUSD float64 // per 1M output tokens
}

// Budget enforces the daily cost/token ceiling with sticky degradation:
// once a task set trips for the day it stays degraded until the day
// rolls over.
type Budget struct {
	cfg    BudgetConfig
	ledger LedgerStore
	log    logx.Logger
	now    func() time.Time

	mu          sync.Mutex
	degradedDay string
	degraded    map[Task]struct{}
}

func NewBudget(cfg BudgetConfig, ledger LedgerStore, log logx.Logger) *Budget {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Budget{
		cfg:      cfg,
		ledger:   ledger,
		log:      log,
		now:      time.Now,
		degraded: map[Task]struct{}{},
	}
}

func (b *Budget) day() string { return b.now().UTC().Format("2006-01-02") }

// Cost computes the USD cost of a call from actual token counts.
func (b *Budget) Cost(tokensIn, tokensOut int) float64 {
	return b.cfg.InputRateUSD*float64(tokensIn)/1e6 +
		b.cfg.OutputRateUSD*float64(tokensOut)/1e6
}

// Allow reports whether task may spend right now. Degradable tasks are
// refused once the ceiling (minus reserve) is reached; tasks outside
// the degrade list are never budget-gated (core ingestion and delivery
// keep working).
func (b *Budget) Allow(ctx context.Context, task Task) bool {
	if !b.over(ctx) {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	day := b.day()
	if b.degradedDay != day {
		b.degradedDay = day
		b.degraded = map[Task]struct{}{}
	}
	for _, t := range degradeOrder {
		b.degraded[t] = struct{}{}
	}
	_, deg := b.degraded[task]
	return !deg
}

func (b *Budget) over(ctx context.Context) bool {
	usage, err := b.ledger.BudgetUsage(ctx, b.day())
	if err != nil {
		// A broken ledger must not burn money: treat as over budget.
		b.log.Warn("budget ledger read failed", logx.Err(err))
		return true
	}
	if b.cfg.DailyLimitUSD > 0 {
		limit := b.cfg.DailyLimitUSD - b.cfg.ReserveUSD
		if limit < 0 {
			limit = 0
		}
		if usage.CostUSD >= limit {
			return true
		}
	}
	if b.cfg.DailyTokenCap > 0 {
		if usage.TokensIn+usage.TokensOut >= b.cfg.DailyTokenCap {
			return true
		}
	}
	return false
}

// Record adds actual usage to today's ledger row.
func (b *Budget) Record(ctx context.Context, tokensIn, tokensOut int, cacheHit bool) error {
	delta := Usage{Calls: 1}
	if cacheHit {
		delta.CacheHits = 1
		delta.Calls = 0
	} else {
		delta.TokensIn = int64(tokensIn)
		delta.TokensOut = int64(tokensOut)
		delta.CostUSD = b.Cost(tokensIn, tokensOut)
	}
	return b.ledger.AddBudgetUsage(ctx, b.day(), delta)
}

// State returns a diagnostics snapshot.
func (b *Budget) State(ctx context.Context) map[string]any {
	usage, _ := b.ledger.BudgetUsage(ctx, b.day())
	b.mu.Lock()
	degraded := make([]string, 0, len(b.degraded))
	if b.degradedDay == b.day() {
		for t := range b.degraded {
			degraded = append(degraded, string(t))
		}
	}
	b.mu.Unlock()
	sort.Strings(degraded)
	state := "OK"
	if len(degraded) > 0 {
		state = "DEGRADED"
	}
	return map[string]any{
		"budget_state":      state,
		"degraded_features": degraded,
		"cost_usd":          usage.CostUSD,
		"tokens_in":         usage.TokensIn,
		"tokens_out":        usage.TokensOut,
		"calls":             usage.Calls,
		"cache_hits":        usage.CacheHits,
	}
}
