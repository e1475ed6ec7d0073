package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"newsward/internal/enrich"
)

// GetLLMCache returns the entry for key, or nil when absent or
// expired. Expired rows stay until the next sweep.
func (s *Store) GetLLMCache(ctx context.Context, key string) (*enrich.CacheEntry, error) {
	var (
		e     enrich.CacheEntry
		task  string
		expMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, task, response, tokens_in, tokens_out, expires_at
		 FROM llm_cache WHERE key = ?`, key).
		Scan(&e.Key, &task, &e.Response, &e.TokensIn, &e.TokensOut, &expMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Task = enrich.Task(task)
	e.ExpiresAt = fromMilli(expMS)
	if !e.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) PutLLMCache(ctx context.Context, e enrich.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_cache(key, task, response, tokens_in, tokens_out, expires_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
			task=excluded.task,
			response=excluded.response,
			tokens_in=excluded.tokens_in,
			tokens_out=excluded.tokens_out,
			expires_at=excluded.expires_at`,
		e.Key, string(e.Task), e.Response, e.TokensIn, e.TokensOut, toMilli(e.ExpiresAt))
	return err
}

func (s *Store) SweepLLMCache(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM llm_cache WHERE expires_at <= ?`, toMilli(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) BudgetUsage(ctx context.Context, day string) (enrich.Usage, error) {
	var u enrich.Usage
	err := s.db.QueryRowContext(ctx,
		`SELECT tokens_in, tokens_out, cost_usd, calls, cache_hits
		 FROM llm_ledger WHERE day = ?`, day).
		Scan(&u.TokensIn, &u.TokensOut, &u.CostUSD, &u.Calls, &u.CacheHits)
	if errors.Is(err, sql.ErrNoRows) {
		return enrich.Usage{}, nil
	}
	return u, err
}

// AddBudgetUsage increments the day's ledger row; ledger totals only
// ever grow.
func (s *Store) AddBudgetUsage(ctx context.Context, day string, delta enrich.Usage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_ledger(day, tokens_in, tokens_out, cost_usd, calls, cache_hits)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(day) DO UPDATE SET
			tokens_in=tokens_in+excluded.tokens_in,
			tokens_out=tokens_out+excluded.tokens_out,
			cost_usd=cost_usd+excluded.cost_usd,
			calls=calls+excluded.calls,
			cache_hits=cache_hits+excluded.cache_hits`,
		day, delta.TokensIn, delta.TokensOut, delta.CostUSD, delta.Calls, delta.CacheHits)
	return err
}
