package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// DefaultRedisPrefix namespaces cache keys in a shared Redis.
const DefaultRedisPrefix = "biosample:httpcache:"

// RedisBackend is a durable backend storing entries as JSON documents.
// Expiry is mirrored onto the Redis key TTL.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedis parses a redis:// URL and connects.
func NewRedis(ctx context.Context, rawURL, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "redis: ping")
	}
	return NewRedisWithClient(client, prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// Name implements Backend.
func (r *RedisBackend) Name() string { return "redis" }

// Get implements Backend.
func (r *RedisBackend) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "redis: get entry")
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, eris.Wrap(err, "redis: decode entry")
	}
	return &e, nil
}

// Put implements Backend.
func (r *RedisBackend) Put(ctx context.Context, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "redis: encode entry")
	}
	var ttl time.Duration
	if e.ExpiresAt != nil {
		ttl = time.Until(*e.ExpiresAt)
		if ttl <= 0 {
			// Already expired; keep it briefly so lazy expiry still sees it.
			ttl = time.Second
		}
	}
	return eris.Wrap(r.client.Set(ctx, r.prefix+e.Key, raw, ttl).Err(), "redis: put entry")
}

// Touch implements Backend. It is a read-modify-write; concurrent bumps
// may be lost.
func (r *RedisBackend) Touch(ctx context.Context, key string, at time.Time) error {
	e, err := r.Get(ctx, key)
	if err != nil || e == nil {
		return err
	}
	e.HitCount++
	e.LastAccessed = &at

	raw, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "redis: encode entry")
	}
	return eris.Wrap(r.client.SetArgs(ctx, r.prefix+key, raw, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err(), "redis: touch entry")
}

// Delete implements Backend.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return eris.Wrap(r.client.Del(ctx, r.prefix+key).Err(), "redis: delete entry")
}

// Clear implements Backend by scanning the prefix.
func (r *RedisBackend) Clear(ctx context.Context, f Filter) (int64, error) {
	var n int64
	err := r.scan(ctx, func(key string, e *Entry) error {
		if !f.Matches(e) {
			return nil
		}
		deleted, err := r.client.Del(ctx, key).Result()
		if err != nil {
			return eris.Wrap(err, "redis: delete entry")
		}
		n += deleted
		return nil
	})
	return n, err
}

// Stats implements Backend.
func (r *RedisBackend) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	now := time.Now()
	err := r.scan(ctx, func(_ string, e *Entry) error {
		st.Entries++
		st.TotalHits += e.HitCount
		if e.Expired(now) {
			st.Expired++
		}
		return nil
	})
	return st, err
}

func (r *RedisBackend) scan(ctx context.Context, fn func(key string, e *Entry) error) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return eris.Wrap(err, "redis: scan get")
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if err := fn(key, &e); err != nil {
			return err
		}
	}
	return eris.Wrap(iter.Err(), "redis: scan")
}

// Ping implements Backend.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return eris.Wrap(r.client.Ping(ctx).Err(), "redis: ping")
}

// Close implements Backend.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
