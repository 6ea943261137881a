package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres keeps strings and lists in two tables. Every method is a single
// statement, so each call is atomic the same way a Redis command is.
// Expiry applies to string keys only.
type Postgres struct {
	db *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv_strings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS kv_lists (
	id    BIGSERIAL PRIMARY KEY,
	key   TEXT NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS kv_lists_key_id ON kv_lists (key, id DESC);
`

// listWindow numbers a list head-first (idx 0 is the most recent push) and
// resolves negative Redis indices against its length.
const listWindow = `
	SELECT id, value, idx FROM (
		SELECT id, value,
		       ROW_NUMBER() OVER (ORDER BY id DESC) - 1 AS idx,
		       COUNT(*) OVER () AS n
		FROM kv_lists
		WHERE key = $1
	) w
	WHERE idx >= (CASE WHEN $2::bigint < 0 THEN n + $2::bigint ELSE $2::bigint END)
	  AND idx <= (CASE WHEN $3::bigint < 0 THEN n + $3::bigint ELSE $3::bigint END)
`

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the backing tables when they are missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate kv schema: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (Value, error) {
	var s string
	err := p.db.QueryRow(ctx, `
		SELECT value FROM kv_strings
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
	`, key).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return Value{}, nil
	}
	if err != nil {
		return Value{}, err
	}
	return Present(s), nil
}

func (p *Postgres) MGet(ctx context.Context, keys ...string) ([]Value, error) {
	out := make([]Value, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := p.db.Query(ctx, `
		SELECT key, value FROM kv_strings
		WHERE key = ANY($1) AND (expires_at IS NULL OR expires_at > now())
	`, keys)
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

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO kv_strings (key, value, expires_at) VALUES ($1, $2, NULL)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = NULL
	`, key, value)
	return err
}

func (p *Postgres) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO kv_strings (key, value, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3::double precision))
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, ttlSeconds(ttl))
	return err
}

func (p *Postgres) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := p.db.Exec(ctx, `
		UPDATE kv_strings
		SET expires_at = now() + make_interval(secs => $2::double precision)
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
	`, key, ttlSeconds(ttl))
	return err
}

func (p *Postgres) Incr(ctx context.Context, key string) (int64, error) {
	return p.IncrBy(ctx, key, 1)
}

func (p *Postgres) IncrBy(ctx context.Context, key string, by int64) (int64, error) {
	var n int64
	err := p.db.QueryRow(ctx, `
		INSERT INTO kv_strings (key, value, expires_at) VALUES ($1, ($2::bigint)::text, NULL)
		ON CONFLICT (key) DO UPDATE SET
			value = ((CASE
				WHEN kv_strings.expires_at IS NOT NULL AND kv_strings.expires_at <= now() THEN 0
				ELSE kv_strings.value::bigint
			END) + $2::bigint)::text,
			expires_at = CASE
				WHEN kv_strings.expires_at IS NOT NULL AND kv_strings.expires_at <= now() THEN NULL
				ELSE kv_strings.expires_at
			END
		RETURNING value::bigint
	`, key, by).Scan(&n)
	if err != nil {
		return 0, pgErr(err)
	}
	return n, nil
}

func (p *Postgres) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	var n int64
	err := p.db.QueryRow(ctx, `
		WITH pushed AS (
			INSERT INTO kv_lists (key, value)
			SELECT $1, v FROM unnest($2::text[]) WITH ORDINALITY AS t(v, ord)
			ORDER BY ord
			RETURNING 1
		)
		SELECT (SELECT COUNT(*) FROM kv_lists WHERE key = $1) + (SELECT COUNT(*) FROM pushed)
	`, key, values).Scan(&n)
	return n, err
}

func (p *Postgres) LTrim(ctx context.Context, key string, start, stop int64) error {
	_, err := p.db.Exec(ctx, `
		DELETE FROM kv_lists
		WHERE key = $1 AND id NOT IN (SELECT id FROM (`+listWindow+`) kept)
	`, key, start, stop)
	return err
}

func (p *Postgres) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	rows, err := p.db.Query(ctx, listWindow+` ORDER BY idx`, key, start, stop)
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

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

func pgErr(err error) error {
	var pgE *pgconn.PgError
	if errors.As(err, &pgE) {
		switch pgE.Code {
		case "22P02", "22003":
			return fmt.Errorf("%w: %s", ErrNotInteger, pgE.Message)
		}
	}
	return err
}
