package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SQLite keeps the same two-table layout as Postgres in a local database
// file. The handle must be limited to one open connection (see db.OpenSQLite)
// so read-modify-write increments cannot interleave.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_strings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_ms INTEGER
);
CREATE TABLE IF NOT EXISTS kv_lists (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	key   TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS kv_lists_key_id ON kv_lists (key, id DESC);
`

const sqliteListWindow = `
	SELECT id, value, idx FROM (
		SELECT id, value,
		       ROW_NUMBER() OVER (ORDER BY id DESC) - 1 AS idx,
		       COUNT(*) OVER () AS n
		FROM kv_lists
		WHERE key = ?1
	) w
	WHERE idx >= (CASE WHEN ?2 < 0 THEN n + ?2 ELSE ?2 END)
	  AND idx <= (CASE WHEN ?3 < 0 THEN n + ?3 ELSE ?3 END)
`

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate kv schema: %w", err)
	}
	return nil
}

func (s *SQLite) nowMs() int64 {
	return s.now().UnixMilli()
}

func (s *SQLite) Get(ctx context.Context, key string) (Value, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM kv_strings
		WHERE key = ? AND (expires_ms IS NULL OR expires_ms > ?)
	`, key, s.nowMs()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, nil
	}
	if err != nil {
		return Value{}, err
	}
	return Present(v), nil
}

func (s *SQLite) MGet(ctx context.Context, keys ...string) ([]Value, error) {
	out := make([]Value, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, s.nowMs())
	for _, k := range keys {
		args = append(args, k)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM kv_strings
		WHERE (expires_ms IS NULL OR expires_ms > ?) AND key IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		found[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, k := range keys {
		if v, ok := found[k]; ok {
			out[i] = Present(v)
		}
	}
	return out, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_strings (key, value, expires_ms) VALUES (?, ?, NULL)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_ms = NULL
	`, key, value)
	return err
}

func (s *SQLite) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	expires := s.nowMs() + ttlSeconds(ttl)*1000
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_strings (key, value, expires_ms) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_ms = excluded.expires_ms
	`, key, value, expires)
	return err
}

func (s *SQLite) Expire(ctx context.Context, key string, ttl time.Duration) error {
	now := s.nowMs()
	_, err := s.db.ExecContext(ctx, `
		UPDATE kv_strings SET expires_ms = ?
		WHERE key = ? AND (expires_ms IS NULL OR expires_ms > ?)
	`, now+ttlSeconds(ttl)*1000, key, now)
	return err
}

func (s *SQLite) Incr(ctx context.Context, key string) (int64, error) {
	return s.IncrBy(ctx, key, 1)
}

func (s *SQLite) IncrBy(ctx context.Context, key string, by int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := s.nowMs()
	var (
		raw     string
		expires sql.NullInt64
	)
	cur := int64(0)
	err = tx.QueryRowContext(ctx, `SELECT value, expires_ms FROM kv_strings WHERE key = ?`, key).Scan(&raw, &expires)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, err
	case expires.Valid && expires.Int64 <= now:
		expires = sql.NullInt64{}
	default:
		cur, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
	}
	next := cur + by
	if (by > 0 && next < cur) || (by < 0 && next > cur) {
		return 0, ErrNotInteger
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv_strings (key, value, expires_ms) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_ms = excluded.expires_ms
	`, key, strconv.FormatInt(next, 10), expires); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *SQLite) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv_lists (key, value) VALUES (?, ?)`, key, v); err != nil {
			return 0, err
		}
	}
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_lists WHERE key = ?`, key).Scan(&n); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *SQLite) LTrim(ctx context.Context, key string, start, stop int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM kv_lists
		WHERE key = ?1 AND id NOT IN (SELECT id FROM (`+sqliteListWindow+`) kept)
	`, key, start, stop)
	return err
}

func (s *SQLite) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListWindow+` ORDER BY idx`, key, start, stop)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var (
			id  int64
			v   string
			idx int64
		)
		if err := rows.Scan(&id, &v, &idx); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
