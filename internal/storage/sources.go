package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SourceState is the persisted fetch state of one source: conditional
// request validators plus the active cooldown, if any.
type SourceState struct {
	Source         string
	ETag           string
	LastModified   string
	CooldownUntil  time.Time
	CooldownReason string
	LastOKAt       time.Time
	LastError      string
}

func (s *Store) GetSourceState(ctx context.Context, source string) (SourceState, error) {
	st := SourceState{Source: source}
	var cooldownMS, okMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT etag, last_modified, cooldown_until, cooldown_reason, last_ok_at, last_error
		 FROM source_state WHERE source = ?`, source).
		Scan(&st.ETag, &st.LastModified, &cooldownMS, &st.CooldownReason, &okMS, &st.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.CooldownUntil = fromMilli(cooldownMS)
	st.LastOKAt = fromMilli(okMS)
	return st, nil
}

func (s *Store) PutSourceState(ctx context.Context, st SourceState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_state(source, etag, last_modified, cooldown_until, cooldown_reason, last_ok_at, last_error)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(source) DO UPDATE SET
			etag=excluded.etag,
			last_modified=excluded.last_modified,
			cooldown_until=excluded.cooldown_until,
			cooldown_reason=excluded.cooldown_reason,
			last_ok_at=excluded.last_ok_at,
			last_error=excluded.last_error`,
		st.Source, st.ETag, st.LastModified, toMilli(st.CooldownUntil),
		st.CooldownReason, toMilli(st.LastOKAt), st.LastError)
	return err
}

// ResetSourceStates clears every cooldown and recorded error. Operator
// escape hatch.
func (s *Store) ResetSourceStates(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE source_state SET cooldown_until = 0, cooldown_reason = '', last_error = ''`)
	if err != nil {
		return 0, err
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM source_events`)
	return res.RowsAffected()
}

// RecordSourceEvent appends one classified fetch failure to the error
// streak window.
func (s *Store) RecordSourceEvent(ctx context.Context, source, code string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_events(source, at, code) VALUES(?,?,?)`,
		source, toMilli(at), code)
	return err
}

// CountSourceEvents returns how many failures the source accumulated
// since the window start.
func (s *Store) CountSourceEvents(ctx context.Context, source string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM source_events WHERE source = ? AND at >= ?`,
		source, toMilli(since)).Scan(&n)
	return n, err
}

func (s *Store) PruneSourceEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM source_events WHERE at < ?`, toMilli(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
