package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Well-known lease names.
const (
	// LeaseInstance guards against two collector processes sharing one
	// database.
	LeaseInstance = "instance"
	// LeaseStop is the cross-process collection stop: while it is held
	// and unexpired, CollectAndPublish refuses to run.
	LeaseStop = "collection-stop"
)

// Lease is a named TTL claim visible to every process on the database.
type Lease struct {
	Name       string
	Holder     string
	Reason     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (l Lease) Expired(now time.Time) bool { return !l.ExpiresAt.After(now) }

// AcquireLease takes the named lease when it is free, expired, or
// already held by the same holder (renewal). Returns false when a live
// competitor holds it.
func (s *Store) AcquireLease(ctx context.Context, name, holder, reason string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leases(name, holder, reason, acquired_at, expires_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
			holder=excluded.holder,
			reason=excluded.reason,
			acquired_at=excluded.acquired_at,
			expires_at=excluded.expires_at
		 WHERE leases.expires_at <= ? OR leases.holder = excluded.holder`,
		name, holder, reason, now.UnixMilli(), now.Add(ttl).UnixMilli(),
		now.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseLease drops the lease if held by holder; releasing someone
// else's lease is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE name = ? AND holder = ?`, name, holder)
	return err
}

// GetLease returns the named lease, or nil when absent or expired.
func (s *Store) GetLease(ctx context.Context, name string) (*Lease, error) {
	var (
		l            Lease
		acqMS, expMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, holder, reason, acquired_at, expires_at FROM leases WHERE name = ?`,
		name).Scan(&l.Name, &l.Holder, &l.Reason, &acqMS, &expMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.AcquiredAt = fromMilli(acqMS)
	l.ExpiresAt = fromMilli(expMS)
	if l.Expired(time.Now()) {
		return nil, nil
	}
	return &l, nil
}
