package cache

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Backend kinds accepted by Open.
const (
	KindAuto     = "auto"
	KindPostgres = "postgres"
	KindMongo    = "mongo"
	KindRedis    = "redis"
	KindSQLite   = "sqlite"
	KindMemory   = "memory"
)

// DefaultProbeTimeout bounds the durable backend probe.
const DefaultProbeTimeout = time.Second

// Options configures backend selection.
type Options struct {
	// Kind is one of the Kind* constants. Empty means auto.
	Kind string
	// DurableURL locates the shared backend; its scheme picks the driver.
	DurableURL string
	// SQLitePath is the embedded database file.
	SQLitePath string
	// ProbeTimeout bounds connecting to the durable backend in auto mode.
	ProbeTimeout time.Duration
	// Constrained skips the durable probe entirely.
	Constrained bool
	// MaxMemoryEntries caps the in-process fallback.
	MaxMemoryEntries int
	// MongoDatabase and MongoCollection override the Mongo defaults.
	MongoDatabase   string
	MongoCollection string
	// RedisPrefix namespaces Redis keys.
	RedisPrefix string
}

// Open selects and connects a backend once. In auto mode the durable backend
// is probed within ProbeTimeout; on failure (or when Constrained) the embedded
// SQLite backend is used, and the in-process memory backend if SQLite cannot
// be opened. Auto mode never fails. An explicit Kind is strict.
func Open(ctx context.Context, opts Options) (*Store, error) {
	kind := strings.ToLower(opts.Kind)
	if kind == "" {
		kind = KindAuto
	}

	switch kind {
	case KindAuto:
		return NewStore(openAuto(ctx, opts)), nil
	case KindPostgres, KindMongo, KindRedis:
		if opts.DurableURL == "" {
			return nil, eris.Errorf("cache: backend %q requires a durable url", kind)
		}
		b, err := openDurable(ctx, kind, opts)
		if err != nil {
			return nil, err
		}
		return NewStore(b), nil
	case KindSQLite:
		b, err := openSQLite(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewStore(b), nil
	case KindMemory:
		return NewStore(NewMemory(opts.MaxMemoryEntries)), nil
	default:
		return nil, eris.Errorf("cache: unknown backend %q", opts.Kind)
	}
}

func openAuto(ctx context.Context, opts Options) Backend {
	if !opts.Constrained && opts.DurableURL != "" {
		kind, err := DurableKind(opts.DurableURL)
		if err != nil {
			zap.L().Warn("cache: unrecognized durable url, using embedded backend", zap.Error(err))
		} else {
			b, err := openDurable(ctx, kind, opts)
			if err == nil {
				zap.L().Info("cache: using durable backend", zap.String("backend", b.Name()))
				return b
			}
			zap.L().Warn("cache: durable backend unavailable, using embedded backend",
				zap.String("backend", kind),
				zap.Error(err),
			)
		}
	}

	b, err := openSQLite(ctx, opts.SQLitePath)
	if err == nil {
		zap.L().Info("cache: using embedded backend", zap.String("path", opts.SQLitePath))
		return b
	}
	zap.L().Warn("cache: embedded backend unavailable, using in-process memory",
		zap.String("path", opts.SQLitePath),
		zap.Error(err),
	)
	return NewMemory(opts.MaxMemoryEntries)
}

func openDurable(ctx context.Context, kind string, opts Options) (Backend, error) {
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch kind {
	case KindPostgres:
		b, err := NewPostgres(probeCtx, opts.DurableURL, nil)
		if err != nil {
			return nil, err
		}
		if err := b.Migrate(probeCtx); err != nil {
			b.Close() //nolint:errcheck
			return nil, err
		}
		return b, nil
	case KindMongo:
		b, err := NewMongo(probeCtx, opts.DurableURL, opts.MongoDatabase, opts.MongoCollection)
		if err != nil {
			return nil, err
		}
		if err := b.Migrate(probeCtx); err != nil {
			b.Close() //nolint:errcheck
			return nil, err
		}
		return b, nil
	case KindRedis:
		return NewRedis(probeCtx, opts.DurableURL, opts.RedisPrefix)
	default:
		return nil, eris.Errorf("cache: %q is not a durable backend", kind)
	}
}

func openSQLite(ctx context.Context, path string) (Backend, error) {
	if path == "" {
		return nil, eris.New("cache: sqlite path is empty")
	}
	b, err := NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := b.Migrate(ctx); err != nil {
		b.Close() //nolint:errcheck
		return nil, err
	}
	return b, nil
}

// DurableKind maps a connection URL scheme to a backend kind.
func DurableKind(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "cache: parse durable url")
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return KindPostgres, nil
	case "mongodb", "mongodb+srv":
		return KindMongo, nil
	case "redis", "rediss":
		return KindRedis, nil
	default:
		return "", eris.Errorf("cache: unsupported durable scheme %q", u.Scheme)
	}
}
