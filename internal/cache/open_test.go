package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestDurableKind(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"postgres://user@localhost:5432/cache", KindPostgres, false},
		{"postgresql://localhost/cache", KindPostgres, false},
		{"mongodb://localhost:27017", KindMongo, false},
		{"mongodb+srv://cluster.example.net", KindMongo, false},
		{"redis://localhost:6379/0", KindRedis, false},
		{"rediss://cache.example.net:6380", KindRedis, false},
		{"mysql://localhost/cache", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := DurableKind(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_AutoUsesDurableWhenReachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := Open(context.Background(), Options{
		DurableURL: "redis://" + mr.Addr() + "/0",
		SQLitePath: filepath.Join(t.TempDir(), "cache.db"),
	})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	assert.Equal(t, "redis", s.Name())
}

func TestOpen_AutoFallsBackToSQLite(t *testing.T) {
	start := time.Now()
	s, err := Open(context.Background(), Options{
		DurableURL:   "redis://127.0.0.1:1/0",
		SQLitePath:   filepath.Join(t.TempDir(), "cache.db"),
		ProbeTimeout: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	assert.Equal(t, "sqlite", s.Name())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOpen_ConstrainedSkipsProbe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := Open(context.Background(), Options{
		DurableURL:  "redis://" + mr.Addr(),
		SQLitePath:  filepath.Join(t.TempDir(), "cache.db"),
		Constrained: true,
	})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	assert.Equal(t, "sqlite", s.Name())
}

func TestOpen_AutoFallsBackToMemory(t *testing.T) {
	s, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())
}

func TestOpen_Explicit(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Kind: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())

	s, err = Open(ctx, Options{Kind: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.Name())
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Kind: "postgres"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Kind: "redis", DurableURL: "redis://127.0.0.1:1", ProbeTimeout: 200 * time.Millisecond})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Kind: "cassandra"})
	assert.Error(t, err)
}

func TestMongoFilter(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Empty(t, mongoFilter(Filter{}))

	q := mongoFilter(Filter{CreatedBefore: ts, ExpiredAsOf: ts, URLPrefix: "https://api.opentopodata.org/v1/"})
	assert.Equal(t, bson.M{"$lt": ts}, q["created_at"])
	assert.Equal(t, bson.M{"$lte": ts}, q["expires_at"])
	assert.Equal(t, bson.M{"$regex": `^https://api\.opentopodata\.org/v1/`}, q["url"])
}
