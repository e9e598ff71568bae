package httpcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/biosample-enricher/internal/cache"
)

type countingServer struct {
	*httptest.Server
	calls atomic.Int64
}

func newCountingServer(t *testing.T, h http.HandlerFunc) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func newTestClient(t *testing.T) (*Client, *cache.Store) {
	t.Helper()
	store := cache.NewStore(cache.NewMemory(100))
	return New(store, WithTimeout(5*time.Second)), store
}

func okJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestClient_CachesSuccess(t *testing.T) {
	srv := newCountingServer(t, okJSON(`{"value":1745.2}`))
	c, _ := newTestClient(t)
	ctx := context.Background()
	req := Request{URL: srv.URL + "/v1/json", Params: map[string]any{"x": -103.4591, "y": 43.8791}}

	r1, err := c.Do(ctx, req, DefaultCallOptions())
	require.NoError(t, err)
	assert.False(t, r1.FromCache)
	assert.Equal(t, 200, r1.StatusCode)

	r2, err := c.Do(ctx, req, DefaultCallOptions())
	require.NoError(t, err)
	assert.True(t, r2.FromCache)
	assert.Equal(t, r1.Body, r2.Body)
	assert.Equal(t, "application/json", r2.Header["Content-Type"])
	assert.Equal(t, int64(1), srv.calls.Load())
}

func TestClient_OversizedBodyRejectedAndNotCached(t *testing.T) {
	big := `{"value":"` + strings.Repeat("a", 2048) + `"}`
	srv := newCountingServer(t, okJSON(big))
	store := cache.NewStore(cache.NewMemory(100))
	c := New(store, WithTimeout(5*time.Second), WithMaxBodyBytes(1024))
	ctx := context.Background()
	req := Request{URL: srv.URL + "/v1/json", Params: map[string]any{"lat": 1.0, "lon": 2.0}}

	resp, err := c.Do(ctx, req, DefaultCallOptions())
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "exceeds 1024 bytes")

	_, err = c.Do(ctx, req, DefaultCallOptions())
	require.Error(t, err)
	assert.Equal(t, int64(2), srv.calls.Load())
	assert.Equal(t, int64(0), store.Stats(ctx).Entries)
}

func TestClient_BodyAtLimitAccepted(t *testing.T) {
	body := `{"v":"` + strings.Repeat("a", 1024-8) + `"}`
	require.Len(t, body, 1024)
	srv := newCountingServer(t, okJSON(body))
	c := New(cache.NewStore(cache.NewMemory(10)), WithMaxBodyBytes(1024))

	resp, err := c.Do(context.Background(), Request{URL: srv.URL}, DefaultCallOptions())
	require.NoError(t, err)
	assert.Len(t, resp.Body, 1024)
}

func TestClient_PrecisionCollapse(t *testing.T) {
	srv := newCountingServer(t, okJSON(`{"address":{"country_code":"us"}}`))
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Do(ctx, Request{URL: srv.URL, Params: map[string]any{"lat": 37.774929, "lon": -122.419416}}, DefaultCallOptions())
	require.NoError(t, err)
	r, err := c.Do(ctx, Request{URL: srv.URL, Params: map[string]any{"lat": 37.7749, "lon": -122.4194}}, DefaultCallOptions())
	require.NoError(t, err)

	assert.True(t, r.FromCache)
	assert.Equal(t, int64(1), srv.calls.Load())
}

func TestClient_SendsOriginalParams(t *testing.T) {
	var got string
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("lat")
		_, _ = w.Write([]byte(`{}`))
	})
	c, _ := newTestClient(t)

	_, err := c.Do(context.Background(), Request{URL: srv.URL, Params: map[string]any{"lat": 37.774929}}, DefaultCallOptions())
	require.NoError(t, err)
	assert.Equal(t, "37.774929", got)
}

func TestClient_AuthIsolation(t *testing.T) {
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"owner":"` + r.URL.Query().Get("key") + `"}`))
	})
	c, _ := newTestClient(t)
	ctx := context.Background()

	base := map[string]any{"locations": "43.8791,-103.4591"}
	withKey := func(k string) Request {
		p := map[string]any{"key": k}
		for n, v := range base {
			p[n] = v
		}
		return Request{URL: srv.URL, Params: p}
	}

	_, err := c.Do(ctx, withKey("alpha"), DefaultCallOptions())
	require.NoError(t, err)
	r, err := c.Do(ctx, withKey("beta"), DefaultCallOptions())
	require.NoError(t, err)

	assert.False(t, r.FromCache)
	assert.Equal(t, `{"owner":"beta"}`, string(r.Body))
	assert.Equal(t, int64(2), srv.calls.Load())
}

func TestClient_NonSuccessNeverCached(t *testing.T) {
	for _, code := range []int{400, 403, 404, 429, 500, 503} {
		srv := newCountingServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"status":"error"}`))
		})
		c, _ := newTestClient(t)
		ctx := context.Background()
		req := Request{URL: srv.URL}

		r1, err := c.Do(ctx, req, DefaultCallOptions())
		require.NoError(t, err)
		assert.Equal(t, code, r1.StatusCode)

		r2, err := c.Do(ctx, req, DefaultCallOptions())
		require.NoError(t, err)
		assert.False(t, r2.FromCache, "status %d must not be cached", code)
		assert.Equal(t, int64(2), srv.calls.Load())
	}
}

func TestClient_DisguisedErrorNotCached(t *testing.T) {
	srv := newCountingServer(t, okJSON(`{"error_message":"The provided API key is invalid.","results":[],"status":"REQUEST_DENIED"}`))
	c, store := newTestClient(t)
	ctx := context.Background()
	req := Request{URL: srv.URL, Params: map[string]any{"locations": "1,2", "key": "bad"}}

	r1, err := c.Do(ctx, req, DefaultCallOptions())
	require.NoError(t, err)
	assert.Equal(t, 200, r1.StatusCode)
	assert.Contains(t, string(r1.Body), "REQUEST_DENIED")

	r2, err := c.Do(ctx, req, DefaultCallOptions())
	require.NoError(t, err)
	assert.False(t, r2.FromCache)
	assert.Equal(t, int64(2), srv.calls.Load())
	assert.Equal(t, int64(0), store.Stats(ctx).Entries)
}

func TestClient_ReadWriteFlags(t *testing.T) {
	srv := newCountingServer(t, okJSON(`{"value":1}`))
	c, store := newTestClient(t)
	ctx := context.Background()
	req := Request{URL: srv.URL}

	// Read-only: live call, nothing persisted.
	r, err := c.Do(ctx, req, CallOptions{ReadFromCache: true, WriteToCache: false})
	require.NoError(t, err)
	assert.False(t, r.FromCache)
	assert.Equal(t, int64(0), store.Stats(ctx).Entries)

	// Force refresh: live call that still writes.
	r, err = c.Do(ctx, req, CallOptions{ReadFromCache: false, WriteToCache: true})
	require.NoError(t, err)
	assert.False(t, r.FromCache)
	assert.Equal(t, int64(1), store.Stats(ctx).Entries)

	// Force refresh again ignores the entry.
	r, err = c.Do(ctx, req, CallOptions{ReadFromCache: false, WriteToCache: true})
	require.NoError(t, err)
	assert.False(t, r.FromCache)

	r, err = c.Do(ctx, req, DefaultCallOptions())
	require.NoError(t, err)
	assert.True(t, r.FromCache)
	assert.Equal(t, int64(3), srv.calls.Load())
}

func TestClient_ExpiredEntryRefetched(t *testing.T) {
	srv := newCountingServer(t, okJSON(`{"value":1}`))
	c, _ := newTestClient(t)
	ctx := context.Background()
	req := Request{URL: srv.URL}

	_, err := c.Do(ctx, req, CallOptions{ReadFromCache: true, WriteToCache: true, TTL: 50 * time.Millisecond})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	r, err := c.Do(ctx, req, DefaultCallOptions())
	require.NoError(t, err)
	assert.False(t, r.FromCache)
	assert.Equal(t, int64(2), srv.calls.Load())
}

func TestClient_ThrottleOnlyOnNetworkCalls(t *testing.T) {
	srv := newCountingServer(t, okJSON(`{}`))
	c, _ := newTestClient(t)
	ctx := context.Background()

	var throttled atomic.Int64
	opts := DefaultCallOptions()
	opts.Throttle = func(context.Context) error {
		throttled.Add(1)
		return nil
	}

	for i := 0; i < 3; i++ {
		_, err := c.Do(ctx, Request{URL: srv.URL}, opts)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), throttled.Load())
}

func TestClient_ThrottleError(t *testing.T) {
	srv := newCountingServer(t, okJSON(`{}`))
	c, _ := newTestClient(t)

	opts := DefaultCallOptions()
	opts.Throttle = func(context.Context) error { return errors.New("limiter closed") }

	_, err := c.Do(context.Background(), Request{URL: srv.URL}, opts)
	require.Error(t, err)
	assert.Equal(t, int64(0), srv.calls.Load())
}

func TestClient_TransportErrorRedactsKey(t *testing.T) {
	c := New(nil, WithTimeout(500*time.Millisecond))

	_, err := c.Do(context.Background(), Request{
		URL:    "http://127.0.0.1:1/elevation",
		Params: map[string]any{"key": "secret-key"},
	}, DefaultCallOptions())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-key")
}

func TestClient_StoredURLRedacted(t *testing.T) {
	srv := newCountingServer(t, okJSON(`{"status":"OK"}`))
	c, _ := newTestClient(t)
	ctx := context.Background()

	r, err := c.Do(ctx, Request{URL: srv.URL, Params: map[string]any{"key": "secret-key"}}, DefaultCallOptions())
	require.NoError(t, err)
	assert.NotContains(t, r.URL, "secret-key")

	r, err = c.Do(ctx, Request{URL: srv.URL, Params: map[string]any{"key": "secret-key"}}, DefaultCallOptions())
	require.NoError(t, err)
	require.True(t, r.FromCache)
	assert.True(t, strings.Contains(r.URL, "REDACTED"))
}

func TestClient_PostBody(t *testing.T) {
	var gotType string
	srv := newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"results":[{"elevation":10}]}`))
	})
	c, _ := newTestClient(t)
	ctx := context.Background()

	req := Request{Method: "POST", URL: srv.URL, Body: []byte(`{"locations":[{"latitude":1.00001,"longitude":2}]}`)}
	_, err := c.Do(ctx, req, DefaultCallOptions())
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotType)

	req.Body = []byte(`{"locations":[{"latitude":1,"longitude":2}]}`)
	r, err := c.Do(ctx, req, DefaultCallOptions())
	require.NoError(t, err)
	assert.True(t, r.FromCache)
}

func TestEncodeURL(t *testing.T) {
	got, err := EncodeURL("https://epqs.nationalmap.gov/v1/json", map[string]any{
		"y": 43.8791, "x": -103.4591, "wkid": 4326, "includeDate": true, "units": "Meters",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://epqs.nationalmap.gov/v1/json?includeDate=true&units=Meters&wkid=4326&x=-103.4591&y=43.8791", got)

	_, err = EncodeURL("://bad", nil)
	assert.Error(t, err)
}

func TestCallOptions_FromContext(t *testing.T) {
	base := DefaultCallOptions()
	base.Timeout = 3 * time.Second

	got := base.FromContext(context.Background())
	assert.Equal(t, base.ReadFromCache, got.ReadFromCache)
	assert.Equal(t, base.WriteToCache, got.WriteToCache)

	got = base.FromContext(WithCacheFlags(context.Background(), false, true))
	assert.False(t, got.ReadFromCache)
	assert.True(t, got.WriteToCache)
	assert.Equal(t, 3*time.Second, got.Timeout)
}
