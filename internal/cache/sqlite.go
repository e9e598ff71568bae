package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteBackend is the embedded, single-host backend.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite database at path in WAL mode.
func NewSQLite(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteBackend{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS http_cache (
	cache_key     TEXT PRIMARY KEY,
	method        TEXT NOT NULL,
	url           TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	headers       TEXT NOT NULL DEFAULT '{}',
	body          BLOB,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER,
	hit_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER
);

CREATE INDEX IF NOT EXISTS idx_http_cache_expires_at ON http_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_http_cache_created_at ON http_cache(created_at);
`

// Migrate creates the cache table if needed.
func (s *SQLiteBackend) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Name implements Backend.
func (s *SQLiteBackend) Name() string { return "sqlite" }

// Get implements Backend.
func (s *SQLiteBackend) Get(ctx context.Context, key string) (*Entry, error) {
	var (
		e                 Entry
		headers           string
		created           int64
		expires, accessed sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT cache_key, method, url, status_code, headers, body, created_at, expires_at, hit_count, last_accessed
		 FROM http_cache WHERE cache_key = ?`, key,
	).Scan(&e.Key, &e.Method, &e.URL, &e.StatusCode, &headers, &e.Body, &created, &expires, &e.HitCount, &accessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get entry")
	}

	if err := json.Unmarshal([]byte(headers), &e.Headers); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode headers")
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	e.ExpiresAt = fromNullNanos(expires)
	e.LastAccessed = fromNullNanos(accessed)
	return &e, nil
}

// Put implements Backend.
func (s *SQLiteBackend) Put(ctx context.Context, e *Entry) error {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode headers")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO http_cache (cache_key, method, url, status_code, headers, body, created_at, expires_at, hit_count, last_accessed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
			method = excluded.method,
			url = excluded.url,
			status_code = excluded.status_code,
			headers = excluded.headers,
			body = excluded.body,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			hit_count = excluded.hit_count,
			last_accessed = excluded.last_accessed`,
		e.Key, e.Method, e.URL, e.StatusCode, string(headers), e.Body,
		e.CreatedAt.UnixNano(), toNullNanos(e.ExpiresAt), e.HitCount, toNullNanos(e.LastAccessed),
	)
	return eris.Wrap(err, "sqlite: put entry")
}

// Touch implements Backend.
func (s *SQLiteBackend) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE http_cache SET hit_count = hit_count + 1, last_accessed = ? WHERE cache_key = ?`,
		at.UnixNano(), key)
	return eris.Wrap(err, "sqlite: touch entry")
}

// Delete implements Backend.
func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM http_cache WHERE cache_key = ?`, key)
	return eris.Wrap(err, "sqlite: delete entry")
}

// Clear implements Backend.
func (s *SQLiteBackend) Clear(ctx context.Context, f Filter) (int64, error) {
	where, args := sqlFilter(f, func(int) string { return "?" }, func(t time.Time) any { return t.UnixNano() })
	res, err := s.db.ExecContext(ctx, `DELETE FROM http_cache`+where, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: clear rows affected")
}

// Stats implements Backend.
func (s *SQLiteBackend) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0),
			COALESCE(SUM(CASE WHEN expires_at IS NOT NULL AND expires_at < ? THEN 1 ELSE 0 END), 0)
		 FROM http_cache`, time.Now().UnixNano(),
	).Scan(&st.Entries, &st.TotalHits, &st.Expired)
	if err != nil {
		return Stats{}, eris.Wrap(err, "sqlite: stats")
	}
	return st, nil
}

// Ping implements Backend.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// sqlFilter renders f as a WHERE clause. placeholder returns the n-th (1-based)
// bind marker and ts converts times to the column representation.
func sqlFilter(f Filter, placeholder func(n int) string, ts func(time.Time) any) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !f.CreatedBefore.IsZero() {
		args = append(args, ts(f.CreatedBefore))
		conds = append(conds, "created_at < "+placeholder(len(args)))
	}
	if !f.ExpiredAsOf.IsZero() {
		args = append(args, ts(f.ExpiredAsOf))
		conds = append(conds, "expires_at IS NOT NULL AND expires_at <= "+placeholder(len(args)))
	}
	if f.URLPrefix != "" {
		args = append(args, likePrefix(f.URLPrefix))
		conds = append(conds, "url LIKE "+placeholder(len(args))+` ESCAPE '\'`)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func likePrefix(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s) + "%"
}

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
