// Package enrich is the only path through which LLM calls are made:
// a cache plus a daily budget guard plus a per-cycle call gate wrapped
// around a retrying HTTP client.
package enrich

import (
	"context"
	"time"
)

// Task identifies one kind of enrichment work. The order of
// degradeOrder is the budget/gate shedding priority: least essential
// first.
type Task string

const (
	TaskSummary  Task = "summary"
	TaskCleanup  Task = "cleanup"
	TaskHashtags Task = "hashtags_ai"
	TaskCategory Task = "category"
)

// degradeOrder: once the budget or the cycle cap trips, tasks are
// disabled front to back.
var degradeOrder = []Task{TaskSummary, TaskCleanup, TaskHashtags}

// Outcome is the status returned alongside every gateway response.
// Callers must treat anything except OutcomeOK and OutcomeCacheHit as
// "use the unenriched value".
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeCacheHit       Outcome = "cache_hit"
	OutcomeDisabled       Outcome = "disabled"
	OutcomeBudgetExceeded Outcome = "budget_exceeded"
	OutcomeCycleLimited   Outcome = "cycle_limited"
	OutcomeStopped        Outcome = "stopped"
	OutcomeUnavailable    Outcome = "unavailable"
)

// Request is one unit of gateway work.
type Request struct {
	Task Task

	// ContentIdentity keys the cache. Prefer a stable content checksum
	// over raw text to reduce key churn.
	ContentIdentity string

	// Params are prompt-relevant knobs that must distinguish cache
	// entries (e.g. the allow-list revision, target language).
	Params map[string]string

	System string
	Prompt string

	MaxTokens int
}

// Response carries the model output plus accounting.
type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
	CacheHit  bool
}

// CacheEntry is one stored gateway response.
type CacheEntry struct {
	Key       string
	Task      Task
	Response  string
	TokensIn  int
	TokensOut int
	ExpiresAt time.Time
}

// Usage is one day's budget ledger row. Monotonically incremented,
// never decremented.
type Usage struct {
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
	Calls     int64
	CacheHits int64
}

// CacheStore is the slice of persistence the cache needs.
type CacheStore interface {
	GetLLMCache(ctx context.Context, key string) (*CacheEntry, error)
	PutLLMCache(ctx context.Context, e CacheEntry) error
	SweepLLMCache(ctx context.Context, now time.Time) (int64, error)
}

// LedgerStore persists the daily budget ledger. Day keys are
// "2006-01-02" in UTC.
type LedgerStore interface {
	BudgetUsage(ctx context.Context, day string) (Usage, error)
	AddBudgetUsage(ctx context.Context, day string, delta Usage) error
}

// Caller is the LLM service collaborator. The gateway is its only
// caller.
type Caller interface {
	Call(ctx context.Context, task Task, system, prompt string, maxTokens int) (text string, tokensIn, tokensOut int, err error)
}
