package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"newsward/internal/news"
)

const itemColumns = `id, guid, url, url_normalized, url_hash, title, source, source_type,
	category, raw_text, clean_text, checksum, simhash, quality_score, language,
	summary, hashtags, published_at, published_conf, accepted_at`

// InsertItem persists an accepted item and stamps its ID.
func (s *Store) InsertItem(ctx context.Context, it *news.Item) error {
	if it.AcceptedAt.IsZero() {
		it.AcceptedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items(guid, url, url_normalized, url_hash, title, source, source_type,
			category, raw_text, clean_text, checksum, simhash, quality_score, language,
			summary, hashtags, published_at, published_conf, accepted_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.GUID, it.URL, it.URLNormalized, it.URLHash, it.Title, it.Source, string(it.SourceType),
		string(it.Category), it.RawText, it.CleanText, it.Checksum, int64(it.Simhash),
		it.QualityScore, it.Language, it.Summary, strings.Join(it.Hashtags, " "),
		toMilli(it.PublishedAt), string(it.PublishedConf), toMilli(it.AcceptedAt),
	)
	if err != nil {
		return err
	}
	it.ID, err = res.LastInsertId()
	return err
}

func scanItem(row interface{ Scan(...any) error }) (*news.Item, error) {
	var (
		it           news.Item
		simhash      int64
		hashtags     string
		srcType      string
		category     string
		conf         string
		pubMS, accMS int64
	)
	err := row.Scan(&it.ID, &it.GUID, &it.URL, &it.URLNormalized, &it.URLHash,
		&it.Title, &it.Source, &srcType, &category, &it.RawText, &it.CleanText,
		&it.Checksum, &simhash, &it.QualityScore, &it.Language, &it.Summary,
		&hashtags, &pubMS, &conf, &accMS)
	if err != nil {
		return nil, err
	}
	it.Simhash = uint64(simhash)
	it.SourceType = news.SourceType(srcType)
	it.Category = news.Category(category)
	it.PublishedConf = news.PublishedConfidence(conf)
	it.PublishedAt = fromMilli(pubMS)
	it.AcceptedAt = fromMilli(accMS)
	if hashtags != "" {
		it.Hashtags = strings.Fields(hashtags)
	}
	return &it, nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (*news.Item, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

// ItemsAfter returns accepted items with id > afterID in id order,
// optionally bounded by acceptance freshness and a category filter.
// Used by the delivery replay path.
func (s *Store) ItemsAfter(ctx context.Context, afterID int64, minAcceptedAt time.Time, categories []news.Category, limit int) ([]*news.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM items WHERE id > ? AND accepted_at >= ?`
	args := []any{afterID, toMilli(minAcceptedAt)}
	if len(categories) > 0 {
		q += ` AND category IN (?` + strings.Repeat(",?", len(categories)-1) + `)`
		for _, c := range categories {
			args = append(args, string(c))
		}
	}
	q += ` ORDER BY id ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*news.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// RecentItemsBySource backs the cached-item fallback when a source is
// cooling down.
func (s *Store) RecentItemsBySource(ctx context.Context, source string, limit int) ([]*news.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE source = ? ORDER BY id DESC LIMIT ?`,
		source, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*news.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// PruneItems drops accepted items older than cutoff, returning the
// number removed. Delivery log rows referencing them go with them.
func (s *Store) PruneItems(ctx context.Context, cutoff time.Time) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM delivery_log WHERE item_id IN (SELECT id FROM items WHERE accepted_at < ?)`,
		toMilli(cutoff))
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE accepted_at < ?`, toMilli(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// quality.History implementation.

func (s *Store) SeenGUID(ctx context.Context, guid string) (bool, error) {
	if guid == "" {
		return false, nil
	}
	return s.exists(ctx, `SELECT 1 FROM items WHERE guid = ? LIMIT 1`, guid)
}

func (s *Store) SeenURLHash(ctx context.Context, urlHash string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM items WHERE url_hash = ? LIMIT 1`, urlHash)
}

func (s *Store) ChecksumSeen(ctx context.Context, checksum string, since time.Time) (bool, error) {
	return s.exists(ctx,
		`SELECT 1 FROM items WHERE checksum = ? AND accepted_at >= ? LIMIT 1`,
		checksum, toMilli(since))
}

func (s *Store) RecentSimhashes(ctx context.Context, since time.Time) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT simhash FROM items WHERE accepted_at >= ? AND simhash != 0`, toMilli(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, uint64(v))
	}
	return out, rows.Err()
}

func (s *Store) RecentTitles(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT title FROM items WHERE accepted_at >= ?`, toMilli(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) exists(ctx context.Context, q string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
