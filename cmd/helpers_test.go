package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sells-group/biosample-enricher/internal/cache"
	"github.com/sells-group/biosample-enricher/internal/enrich"
	"github.com/sells-group/biosample-enricher/internal/geo"
	"github.com/sells-group/biosample-enricher/pkg/elevation"
	"github.com/sells-group/biosample-enricher/pkg/httpcache"
)

// testEnv is a service backed by one fake USGS endpoint and a memory cache.
type testEnv struct {
	svc   *enrich.Service
	store *cache.Store
	calls *atomic.Int64
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"location":{"x":-103.4591,"y":43.8791},"value":"1745.23","resolution":1}`))
	}))
	t.Cleanup(srv.Close)

	st := cache.NewStore(cache.NewMemory(100))
	hc := httpcache.New(st)
	reg := elevation.BuildRegistry(hc, map[string]elevation.Settings{
		elevation.NameUSGS:         {Enabled: true, Config: elevation.Config{Endpoint: srv.URL}},
		elevation.NameOpenTopoData: {Enabled: false},
		elevation.NameOSM:          {Enabled: false},
	})
	svc := enrich.NewService(geo.NewClassifier(nil), reg, enrich.WithToolVersion("test"))
	return testEnv{svc: svc, store: st, calls: &calls}
}
