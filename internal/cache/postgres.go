package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/biosample-enricher/internal/db"
)

// PostgresBackend is a durable backend shared across processes.
type PostgresBackend struct {
	pool db.Pool
}

// NewPostgres connects to connString and returns a PostgresBackend.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresBackend, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresBackend{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS http_cache (
	cache_key     TEXT PRIMARY KEY,
	method        TEXT NOT NULL,
	url           TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	headers       JSONB NOT NULL DEFAULT '{}'::jsonb,
	body          BYTEA,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at    TIMESTAMPTZ,
	hit_count     BIGINT NOT NULL DEFAULT 0,
	last_accessed TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_http_cache_expires_at ON http_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_http_cache_created_at ON http_cache(created_at);
`

// Migrate creates the cache table if needed.
func (p *PostgresBackend) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Name implements Backend.
func (p *PostgresBackend) Name() string { return "postgres" }

// Get implements Backend.
func (p *PostgresBackend) Get(ctx context.Context, key string) (*Entry, error) {
	var (
		e       Entry
		headers []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT cache_key, method, url, status_code, headers, body, created_at, expires_at, hit_count, last_accessed
		 FROM http_cache WHERE cache_key = $1`, key,
	).Scan(&e.Key, &e.Method, &e.URL, &e.StatusCode, &headers, &e.Body, &e.CreatedAt, &e.ExpiresAt, &e.HitCount, &e.LastAccessed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get entry")
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &e.Headers); err != nil {
			return nil, eris.Wrap(err, "postgres: decode headers")
		}
	}
	return &e, nil
}

// Put implements Backend.
func (p *PostgresBackend) Put(ctx context.Context, e *Entry) error {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return eris.Wrap(err, "postgres: encode headers")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO http_cache (cache_key, method, url, status_code, headers, body, created_at, expires_at, hit_count, last_accessed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (cache_key) DO UPDATE SET
			method = EXCLUDED.method,
			url = EXCLUDED.url,
			status_code = EXCLUDED.status_code,
			headers = EXCLUDED.headers,
			body = EXCLUDED.body,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			hit_count = EXCLUDED.hit_count,
			last_accessed = EXCLUDED.last_accessed`,
		e.Key, e.Method, e.URL, e.StatusCode, headers, e.Body, e.CreatedAt, e.ExpiresAt, e.HitCount, e.LastAccessed,
	)
	return eris.Wrap(err, "postgres: put entry")
}

// Touch implements Backend.
func (p *PostgresBackend) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE http_cache SET hit_count = hit_count + 1, last_accessed = $1 WHERE cache_key = $2`,
		at, key)
	return eris.Wrap(err, "postgres: touch entry")
}

// Delete implements Backend.
func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM http_cache WHERE cache_key = $1`, key)
	return eris.Wrap(err, "postgres: delete entry")
}

// Clear implements Backend.
func (p *PostgresBackend) Clear(ctx context.Context, f Filter) (int64, error) {
	where, args := sqlFilter(f, func(n int) string { return fmt.Sprintf("$%d", n) }, func(t time.Time) any { return t })
	tag, err := p.pool.Exec(ctx, `DELETE FROM http_cache`+where, args...)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear")
	}
	return tag.RowsAffected(), nil
}

// Stats implements Backend.
func (p *PostgresBackend) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0)::bigint,
			COUNT(*) FILTER (WHERE expires_at IS NOT NULL AND expires_at < now())
		 FROM http_cache`,
	).Scan(&st.Entries, &st.TotalHits, &st.Expired)
	if err != nil {
		return Stats{}, eris.Wrap(err, "postgres: stats")
	}
	return st, nil
}

// Ping implements Backend.
func (p *PostgresBackend) Ping(ctx context.Context) error {
	return eris.Wrap(p.pool.Ping(ctx), "postgres: ping")
}

// Close implements Backend.
func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
