package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"newsward/internal/news"
)

// Subscriber is one delivery target chat.
type Subscriber struct {
	ChatID       int64
	Categories   []news.Category // empty means all
	MutedSources []string        // logical source names the chat opted out of

	Paused bool
	// PauseVersion increases on every pause and every resume, repeated
	// calls included. The delivery engine compares it across its two
	// phases to detect a concurrent pause.
	PauseVersion int64
	PausedAt     time.Time

	LastDeliveredItemID int64
	CreatedAt           time.Time
}

// Wants reports whether the subscriber's filters admit an item of
// category c from the named source. Source names compare
// case-insensitively: the mute command folds its argument, configured
// names ("РИА Новости") keep their casing.
func (sub Subscriber) Wants(c news.Category, source string) bool {
	for _, muted := range sub.MutedSources {
		if strings.EqualFold(muted, source) {
			return false
		}
	}
	if len(sub.Categories) == 0 {
		return true
	}
	for _, have := range sub.Categories {
		if have == c {
			return true
		}
	}
	return false
}

// UpsertSubscriber registers a chat; re-registering an existing chat
// is a no-op that keeps its state.
func (s *Store) UpsertSubscriber(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id, created_at) VALUES(?,?)
		 ON CONFLICT(chat_id) DO NOTHING`,
		chatID, time.Now().UnixMilli())
	return err
}

func (s *Store) RemoveSubscriber(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE chat_id = ?`, chatID)
	return err
}

func (s *Store) SetSubscriberCategories(ctx context.Context, chatID int64, cats []news.Category) error {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET categories = ? WHERE chat_id = ?`,
		strings.Join(parts, ","), chatID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return errors.New("unknown subscriber")
	}
	return err
}

// SetSubscriberMutedSources replaces the chat's muted-source set.
func (s *Store) SetSubscriberMutedSources(ctx context.Context, chatID int64, sources []string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET muted_sources = ? WHERE chat_id = ?`,
		strings.Join(sources, ","), chatID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return errors.New("unknown subscriber")
	}
	return err
}

// SetSubscriberPaused flips the pause flag. The version bumps on every
// call, including repeated pauses or resumes of an unchanged flag.
func (s *Store) SetSubscriberPaused(ctx context.Context, chatID int64, paused bool) error {
	pausedAt := int64(0)
	if paused {
		pausedAt = time.Now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET paused = ?, pause_version = pause_version + 1, paused_at = ?
		 WHERE chat_id = ?`,
		boolInt(paused), pausedAt, chatID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return errors.New("unknown subscriber")
	}
	return err
}

func (s *Store) GetSubscriber(ctx context.Context, chatID int64) (*Subscriber, error) {
	sub, err := scanSubscriber(s.db.QueryRowContext(ctx,
		`SELECT chat_id, categories, muted_sources, paused, pause_version, paused_at, last_delivered_item_id, created_at
		 FROM subscribers WHERE chat_id = ?`, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// SubscriberPauseVersion is the cheap phase-two re-read.
func (s *Store) SubscriberPauseVersion(ctx context.Context, chatID int64) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT pause_version FROM subscribers WHERE chat_id = ?`, chatID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("unknown subscriber")
	}
	return v, err
}

func (s *Store) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, categories, muted_sources, paused, pause_version, paused_at, last_delivered_item_id, created_at
		 FROM subscribers ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubscriber(row interface{ Scan(...any) error }) (Subscriber, error) {
	var (
		sub              Subscriber
		cats, muted      string
		paused           int
		pausedMS, crtdMS int64
	)
	err := row.Scan(&sub.ChatID, &cats, &muted, &paused, &sub.PauseVersion,
		&pausedMS, &sub.LastDeliveredItemID, &crtdMS)
	if err != nil {
		return Subscriber{}, err
	}
	sub.Paused = paused != 0
	sub.PausedAt = fromMilli(pausedMS)
	sub.CreatedAt = fromMilli(crtdMS)
	for _, c := range strings.Split(cats, ",") {
		if c = strings.TrimSpace(c); c != "" {
			sub.Categories = append(sub.Categories, news.Category(c))
		}
	}
	for _, m := range strings.Split(muted, ",") {
		if m = strings.TrimSpace(m); m != "" {
			sub.MutedSources = append(sub.MutedSources, m)
		}
	}
	return sub, nil
}

// LogDelivery inserts the (chat, item) delivery marker. The primary
// key makes the insert the idempotency point: false means some other
// attempt already claimed this pair.
func (s *Store) LogDelivery(ctx context.Context, chatID, itemID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO delivery_log(chat_id, item_id, at) VALUES(?,?,?)`,
		chatID, itemID, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UnlogDelivery rolls the marker back after a failed send so a later
// cycle can retry the pair.
func (s *Store) UnlogDelivery(ctx context.Context, chatID, itemID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM delivery_log WHERE chat_id = ? AND item_id = ?`, chatID, itemID)
	return err
}

// AdvanceLastDelivered moves the watermark forward only; stale writers
// cannot drag it back.
func (s *Store) AdvanceLastDelivered(ctx context.Context, chatID, itemID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET last_delivered_item_id = MAX(last_delivered_item_id, ?)
		 WHERE chat_id = ?`, itemID, chatID)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
