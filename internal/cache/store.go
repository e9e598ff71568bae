package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Backend is the storage capability behind a Store. Get returns (nil, nil)
// on a miss. Backends report failures; the Store decides how to degrade.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	Touch(ctx context.Context, key string, at time.Time) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context, f Filter) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// Store is a best-effort cache over a Backend. No method returns an error:
// backend failures are logged and treated as a miss or a no-op.
// A nil *Store behaves as an always-empty cache.
type Store struct {
	backend Backend
	now     func() time.Time
}

// NewStore wraps a backend.
func NewStore(b Backend) *Store {
	return &Store{backend: b, now: time.Now}
}

// Name returns the backend name.
func (s *Store) Name() string {
	if s == nil || s.backend == nil {
		return "none"
	}
	return s.backend.Name()
}

// Get returns a live entry or nil. Expired entries are deleted on the way
// out. A hit bumps hit_count and last_accessed.
func (s *Store) Get(ctx context.Context, key string) *Entry {
	if s == nil || s.backend == nil {
		return nil
	}
	e, err := s.backend.Get(ctx, key)
	if err != nil {
		zap.L().Warn("cache: get failed, treating as miss",
			zap.String("backend", s.backend.Name()),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil
	}
	if e == nil {
		return nil
	}

	now := s.now().UTC()
	if e.Expired(now) {
		if err := s.backend.Delete(ctx, key); err != nil {
			zap.L().Warn("cache: delete expired entry failed",
				zap.String("backend", s.backend.Name()),
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return nil
	}

	if err := s.backend.Touch(ctx, key, now); err != nil {
		zap.L().Warn("cache: touch failed",
			zap.String("backend", s.backend.Name()),
			zap.String("key", key),
			zap.Error(err),
		)
	}
	e.HitCount++
	e.LastAccessed = &now
	return e
}

// Set stores e with the given TTL. A non-positive TTL stores without expiry.
func (s *Store) Set(ctx context.Context, e *Entry, ttl time.Duration) {
	if s == nil || s.backend == nil || e == nil {
		return
	}
	now := s.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.ExpiresAt = expiry(now, ttl)
	if err := s.backend.Put(ctx, e); err != nil {
		zap.L().Warn("cache: write failed, skipping",
			zap.String("backend", s.backend.Name()),
			zap.String("key", e.Key),
			zap.Error(err),
		)
	}
}

// Clear deletes entries matching f and returns how many were removed.
func (s *Store) Clear(ctx context.Context, f Filter) int64 {
	if s == nil || s.backend == nil {
		return 0
	}
	n, err := s.backend.Clear(ctx, f)
	if err != nil {
		zap.L().Warn("cache: clear failed",
			zap.String("backend", s.backend.Name()),
			zap.Error(err),
		)
		return 0
	}
	return n
}

// Stats returns backend statistics; on failure only the backend name is set.
func (s *Store) Stats(ctx context.Context) Stats {
	if s == nil || s.backend == nil {
		return Stats{Backend: s.Name()}
	}
	st, err := s.backend.Stats(ctx)
	if err != nil {
		zap.L().Warn("cache: stats failed",
			zap.String("backend", s.backend.Name()),
			zap.Error(err),
		)
		return Stats{Backend: s.backend.Name()}
	}
	st.Backend = s.backend.Name()
	return st
}

// Close releases the backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
