package elevation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/biosample-enricher/internal/cache"
	"github.com/sells-group/biosample-enricher/internal/model"
	"github.com/sells-group/biosample-enricher/pkg/httpcache"
)

type fakeProvider struct{ name string }

func (f fakeProvider) Name() string { return f.name }
func (f fakeProvider) Ref() model.ProviderRef {
	return model.ProviderRef{Name: f.name}
}
func (f fakeProvider) Fetch(context.Context, float64, float64, FetchOptions) Result {
	return Result{Elevation: model.Float(1)}
}

func newServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newHTTP() *httpcache.Client {
	return httpcache.New(cache.NewStore(cache.NewMemory(100)), httpcache.WithTimeout(5*time.Second))
}

func TestRegistry_Order(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeProvider{name: "b"})
	r.Register(fakeProvider{name: "a"})
	r.Register(fakeProvider{name: "b"})

	assert.Equal(t, []string{"b", "a"}, r.List())
	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("c"))
	assert.Nil(t, r.Get("c"))
}

func TestUSGS_Fetch(t *testing.T) {
	var q map[string]string
	srv, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		q = map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(`{"location":{"x":-103.4591,"y":43.8791},"value":"1745.23","resolution":1}`))
	})
	p := NewUSGS(newHTTP(), Config{Endpoint: srv.URL})
	ctx := context.Background()

	r := p.Fetch(ctx, 43.8791, -103.4591, DefaultFetchOptions())
	require.NoError(t, r.Err)
	require.True(t, r.OK())
	assert.InDelta(t, 1745.23, *r.Elevation, 1e-9)
	assert.Equal(t, "NAVD88", r.VerticalDatum)
	assert.InDelta(t, 1.0, *r.ResolutionM, 1e-9)
	assert.InDelta(t, 43.8791, r.Location.Lat, 1e-9)
	assert.False(t, r.FromCache)
	assert.Equal(t, "4326", q["wkid"])
	assert.Equal(t, "Meters", q["units"])
	assert.Equal(t, "-103.4591", q["x"])

	r = p.Fetch(ctx, 43.8791, -103.4591, DefaultFetchOptions())
	assert.True(t, r.FromCache)
	assert.Equal(t, int64(1), calls.Load())
}

func TestUSGS_NoData(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"sentinel", `{"value":-1000000}`},
		{"null value", `{"value":null}`},
		{"failed", `{"message":"Call failed"}`},
		{"not json", `oops`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			r := NewUSGS(newHTTP(), Config{Endpoint: srv.URL}).Fetch(context.Background(), 51.5, -0.12, DefaultFetchOptions())
			assert.Error(t, r.Err)
			assert.False(t, r.OK())
		})
	}
}

func TestUSGS_DefaultResolution(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"value":12.5}`))
	})
	r := NewUSGS(newHTTP(), Config{Endpoint: srv.URL}).Fetch(context.Background(), 40, -100, DefaultFetchOptions())
	require.NoError(t, r.Err)
	assert.InDelta(t, 10.0, *r.ResolutionM, 1e-9)
	assert.InDelta(t, 40.0, r.Location.Lat, 1e-9)
}

func TestGoogle_RequiresKey(t *testing.T) {
	_, err := NewGoogle(newHTTP(), Config{})
	assert.Error(t, err)
}

func TestGoogle_Fetch(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "43.8791,-103.4591", r.URL.Query().Get("locations"))
		assert.Equal(t, "k1", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"results":[{"elevation":1744.8,"location":{"lat":43.8791,"lng":-103.4591},"resolution":4.77}],"status":"OK"}`))
	})
	p, err := NewGoogle(newHTTP(), Config{Endpoint: srv.URL, APIKey: "k1"})
	require.NoError(t, err)

	r := p.Fetch(context.Background(), 43.8791, -103.4591, DefaultFetchOptions())
	require.NoError(t, r.Err)
	assert.InDelta(t, 1744.8, *r.Elevation, 1e-9)
	assert.InDelta(t, 4.77, *r.ResolutionM, 1e-9)
	assert.Equal(t, "EGM96", r.VerticalDatum)
	assert.NotContains(t, p.Ref().Endpoint, "k1")
}

func TestGoogle_Denied(t *testing.T) {
	srv, calls := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error_message":"The provided API key is invalid.","results":[],"status":"REQUEST_DENIED"}`))
	})
	p, err := NewGoogle(newHTTP(), Config{Endpoint: srv.URL, APIKey: "bad"})
	require.NoError(t, err)
	ctx := context.Background()

	r := p.Fetch(ctx, 1, 2, DefaultFetchOptions())
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "invalid")
	assert.NotEmpty(t, r.Raw)

	// Disguised errors are never cached.
	_ = p.Fetch(ctx, 1, 2, DefaultFetchOptions())
	assert.Equal(t, int64(2), calls.Load())
}

func TestGoogle_HTTPErrorRedactsKey(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	p, err := NewGoogle(newHTTP(), Config{Endpoint: srv.URL, APIKey: "super-secret"})
	require.NoError(t, err)

	r := p.Fetch(context.Background(), 1, 2, DefaultFetchOptions())
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "403")
	assert.NotContains(t, r.Err.Error(), "super-secret")
}

func TestOpenTopoData_Fetch(t *testing.T) {
	var path string
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"results":[{"dataset":"eudem25m","elevation":35.2,"location":{"lat":51.5074,"lng":-0.1278}}],"status":"OK"}`))
	})
	p := NewOpenTopoData(newHTTP(), Config{Endpoint: srv.URL + "/v1", Dataset: DatasetAuto})

	r := p.Fetch(context.Background(), 51.5074, -0.1278, DefaultFetchOptions())
	require.NoError(t, r.Err)
	assert.Equal(t, "/v1/eudem25m", path)
	assert.InDelta(t, 25.0, *r.ResolutionM, 1e-9)
	assert.Equal(t, "EVRS2000", r.VerticalDatum)
}

func TestOpenTopoData_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid request", `{"error":"Invalid locations","status":"INVALID_REQUEST"}`},
		{"null elevation", `{"results":[{"elevation":null,"location":{"lat":0,"lng":0}}],"status":"OK"}`},
		{"empty", `{"results":[],"status":"OK"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			r := NewOpenTopoData(newHTTP(), Config{Endpoint: srv.URL}).Fetch(context.Background(), 0, 0, DefaultFetchOptions())
			assert.Error(t, r.Err)
		})
	}
}

func TestSelectDataset(t *testing.T) {
	assert.Equal(t, "eudem25m", SelectDataset(48.85, 2.35))
	assert.Equal(t, "aster30m", SelectDataset(70, 25.0+20))
	assert.Equal(t, "aster30m", SelectDataset(-75, 0))
	assert.Equal(t, "srtm30m", SelectDataset(-10, -50))
	assert.Equal(t, Datasets["srtm30m"], LookupDataset("nope"))
	assert.Equal(t, 10.0, LookupDataset("ned10m").ResolutionM)
}

func TestOpenElevation_Fetch(t *testing.T) {
	srv, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Locations []struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"locations"`
		}
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Len(t, req.Locations, 1)
		assert.InDelta(t, 43.8791, req.Locations[0].Latitude, 1e-9)
		_, _ = w.Write([]byte(`{"results":[{"latitude":43.8791,"longitude":-103.4591,"elevation":1741}]}`))
	})
	p := NewOpenElevation(newHTTP(), Config{Endpoint: srv.URL})
	ctx := context.Background()

	r := p.Fetch(ctx, 43.8791, -103.4591, DefaultFetchOptions())
	require.NoError(t, r.Err)
	assert.Equal(t, NameOSM, p.Name())
	assert.InDelta(t, 1741.0, *r.Elevation, 1e-9)
	assert.InDelta(t, 90.0, *r.ResolutionM, 1e-9)

	r = p.Fetch(ctx, 43.8791, -103.4591, DefaultFetchOptions())
	assert.True(t, r.FromCache)
	assert.Equal(t, int64(1), calls.Load())
}

func TestProviders_SubPrecisionJitterSharesCacheEntry(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		build func(hc *httpcache.Client, endpoint string) Provider
	}{
		{
			name: "usgs",
			body: `{"location":{"x":-122.4194,"y":37.7749},"value":"16.2","resolution":1}`,
			build: func(hc *httpcache.Client, endpoint string) Provider {
				return NewUSGS(hc, Config{Endpoint: endpoint})
			},
		},
		{
			name: "google",
			body: `{"results":[{"elevation":16.1,"location":{"lat":37.7749,"lng":-122.4194},"resolution":4.77}],"status":"OK"}`,
			build: func(hc *httpcache.Client, endpoint string) Provider {
				p, err := NewGoogle(hc, Config{Endpoint: endpoint, APIKey: "k1"})
				require.NoError(t, err)
				return p
			},
		},
		{
			name: "open_topo_data",
			body: `{"results":[{"elevation":16.0,"location":{"lat":37.7749,"lng":-122.4194}}],"status":"OK"}`,
			build: func(hc *httpcache.Client, endpoint string) Provider {
				return NewOpenTopoData(hc, Config{Endpoint: endpoint})
			},
		},
		{
			name: "osm",
			body: `{"results":[{"latitude":37.7749,"longitude":-122.4194,"elevation":16}]}`,
			build: func(hc *httpcache.Client, endpoint string) Provider {
				return NewOpenElevation(hc, Config{Endpoint: endpoint})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			p := tt.build(newHTTP(), srv.URL)
			ctx := context.Background()

			first := p.Fetch(ctx, 37.774929, -122.419416, DefaultFetchOptions())
			require.NoError(t, first.Err)
			second := p.Fetch(ctx, 37.7749, -122.4194, DefaultFetchOptions())
			require.NoError(t, second.Err)

			assert.True(t, second.FromCache)
			assert.Equal(t, int64(1), calls.Load())
		})
	}
}

func TestProviderRateLimitSkipsCacheHits(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"value":5}`))
	})
	p := NewUSGS(newHTTP(), Config{Endpoint: srv.URL, RateLimitQPS: 0.5})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		r := p.Fetch(ctx, 40, -100, DefaultFetchOptions())
		require.NoError(t, r.Err)
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestBuildRegistry(t *testing.T) {
	reg := BuildRegistry(newHTTP(), map[string]Settings{
		NameUSGS:   {Enabled: true},
		NameGoogle: {Enabled: true},
		NameOSM:    {Enabled: false},
		"bogus":    {Enabled: true},
	})
	assert.Equal(t, []string{NameUSGS, NameOpenTopoData}, reg.List())

	reg = BuildRegistry(newHTTP(), map[string]Settings{
		NameGoogle: {Enabled: true, Config: Config{APIKey: "k"}},
	})
	assert.Equal(t, Known, reg.List())
}
