package enrich

import (
	"context"
	"time"

	logx "newsward/pkg/logx"
)

// Config configures the gateway facade.
type Config struct {
	Enabled  bool
	CacheTTL time.Duration // default 72h

	// Stopped, when set, is consulted before every live call so the
	// collection-stop lease silences enrichment across processes too.
	// Cache reads stay allowed.
	Stopped func(ctx context.Context) bool
}

// Gateway is the budget- and cache-guarded facade in front of the LLM
// service. All enrichment calls flow through Do.
type Gateway struct {
	cfg    Config
	caller Caller
	cache  CacheStore
	budget *Budget
	gate   *CycleGate
	log    logx.Logger
	now    func() time.Time
}

func NewGateway(cfg Config, caller Caller, cache CacheStore, budget *Budget, gate *CycleGate, log logx.Logger) *Gateway {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 72 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{
		cfg:    cfg,
		caller: caller,
		cache:  cache,
		budget: budget,
		gate:   gate,
		log:    log,
		now:    time.Now,
	}
}

// BeginCycle forwards the cycle id to the call gate.
func (g *Gateway) BeginCycle(cycleID string) { g.gate.BeginCycle(cycleID) }

// Enabled reports whether the gateway may be consulted at all.
func (g *Gateway) Enabled() bool { return g.cfg.Enabled }

// Do runs one enrichment request. It never returns a transport error:
// failures come back as (zero Response, OutcomeUnavailable, nil) and
// callers fall back to the unenriched value. The returned error is
// reserved for persistence failures on the ledger write.
func (g *Gateway) Do(ctx context.Context, req Request) (Response, Outcome, error) {
	if !g.cfg.Enabled {
		return Response{}, OutcomeDisabled, nil
	}

	key := CacheKey(req.Task, req.ContentIdentity, req.Params)
	if entry, err := g.cache.GetLLMCache(ctx, key); err != nil {
		g.log.Warn("llm cache read failed", logx.Err(err))
	} else if entry != nil {
		if err := g.budget.Record(ctx, 0, 0, true); err != nil {
			g.log.Warn("ledger cache-hit update failed", logx.Err(err))
		}
		return Response{
			Text:      entry.Response,
			TokensIn:  entry.TokensIn,
			TokensOut: entry.TokensOut,
			CacheHit:  true,
		}, OutcomeCacheHit, nil
	}

	if g.cfg.Stopped != nil && g.cfg.Stopped(ctx) {
		return Response{}, OutcomeStopped, nil
	}
	if !g.gate.CanCall(req.Task) {
		return Response{}, OutcomeCycleLimited, nil
	}
	if !g.budget.Allow(ctx, req.Task) {
		return Response{}, OutcomeBudgetExceeded, nil
	}

	text, in, out, err := g.caller.Call(ctx, req.Task, req.System, req.Prompt, req.MaxTokens)
	if err != nil {
		g.log.Warn("llm call failed, degrading to unenriched value",
			logx.String("task", string(req.Task)),
			logx.Err(err))
		return Response{}, OutcomeUnavailable, nil
	}

	g.gate.RecordCall()
	resp := Response{Text: text, TokensIn: in, TokensOut: out}
	if rerr := g.budget.Record(ctx, in, out, false); rerr != nil {
		// The model output is already paid for; hand it back even
		// though the ledger write failed.
		return resp, OutcomeOK, rerr
	}

	if cerr := g.cache.PutLLMCache(ctx, CacheEntry{
		Key:       key,
		Task:      req.Task,
		Response:  text,
		TokensIn:  in,
		TokensOut: out,
		ExpiresAt: g.now().Add(g.cfg.CacheTTL),
	}); cerr != nil {
		g.log.Warn("llm cache write failed", logx.Err(cerr))
	}

	return resp, OutcomeOK, nil
}

// Sweep deletes expired cache entries. Intended to run once per cycle.
func (g *Gateway) Sweep(ctx context.Context) {
	n, err := g.cache.SweepLLMCache(ctx, g.now())
	if err != nil {
		g.log.Warn("llm cache sweep failed", logx.Err(err))
		return
	}
	if n > 0 {
		g.log.Debug("llm cache swept", logx.Int64("deleted", n))
	}
}

// State aggregates budget and gate diagnostics.
func (g *Gateway) State(ctx context.Context) map[string]any {
	return map[string]any{
		"enabled": g.cfg.Enabled,
		"budget":  g.budget.State(ctx),
		"gate":    g.gate.State(),
	}
}
