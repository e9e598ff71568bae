package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biosample-enricher/internal/cache"
	"github.com/sells-group/biosample-enricher/internal/config"
	"github.com/sells-group/biosample-enricher/internal/enrich"
	"github.com/sells-group/biosample-enricher/internal/geo"
	"github.com/sells-group/biosample-enricher/pkg/elevation"
	"github.com/sells-group/biosample-enricher/pkg/httpcache"
	"github.com/sells-group/biosample-enricher/pkg/nominatim"
)

// enricherEnv holds the cache, HTTP client and service shared by the
// lookup/batch/serve commands.
type enricherEnv struct {
	Store   *cache.Store
	HTTP    *httpcache.Client
	Service *enrich.Service
}

// Close releases the cache backend.
func (e *enricherEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close cache", zap.Error(err))
		}
	}
}

// openStore selects the cache backend from config.
func openStore(ctx context.Context, c *config.Config) (*cache.Store, error) {
	st, err := cache.Open(ctx, cache.Options{
		Kind:             c.Cache.Backend,
		DurableURL:       c.Cache.DurableURL,
		SQLitePath:       c.Cache.SQLitePath,
		ProbeTimeout:     c.Cache.ProbeTimeout(),
		Constrained:      c.Cache.Constrained,
		MaxMemoryEntries: c.Cache.MaxMemoryEntries,
		MongoDatabase:    c.Cache.MongoDatabase,
		MongoCollection:  c.Cache.MongoCollection,
		RedisPrefix:      c.Cache.RedisPrefix,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	zap.L().Info("cache backend selected", zap.String("backend", st.Name()))
	return st, nil
}

// newHTTPClient builds the caching client over st.
func newHTTPClient(c *config.Config, st *cache.Store) *httpcache.Client {
	opts := []httpcache.Option{
		httpcache.WithPrecision(c.Cache.Precision),
		httpcache.WithAdmissionFilter(httpcache.AdmissionFilter{AllowedStatus: c.Cache.AllowedStatus}),
	}
	if ttl := c.Cache.TTL(); ttl > 0 {
		opts = append(opts, httpcache.WithTTL(ttl))
	}
	if c.Classifier.UserAgent != "" {
		opts = append(opts, httpcache.WithUserAgent(c.Classifier.UserAgent))
	}
	return httpcache.New(st, opts...)
}

// providerSettings maps config to provider settings.
func providerSettings(c *config.Config) map[string]elevation.Settings {
	out := make(map[string]elevation.Settings, len(c.Providers))
	for name, p := range c.Providers {
		out[name] = elevation.Settings{
			Enabled: p.Enabled,
			Config: elevation.Config{
				Endpoint:           p.Endpoint,
				APIKey:             p.APIKey,
				Timeout:            p.Timeout(),
				RateLimitQPS:       p.RateLimitQPS,
				VerticalDatum:      p.VerticalDatum,
				DefaultResolutionM: p.DefaultResolutionM,
				Dataset:            p.Dataset,
			},
		}
	}
	return out
}

// newClassifier returns the offline classifier, or the Nominatim-backed one
// when classifier.online is set.
func newClassifier(c *config.Config, hc *httpcache.Client) *geo.Classifier {
	if !c.Classifier.Online {
		return geo.NewClassifier(nil)
	}
	limiter := geo.NewServiceLimiter(time.Duration(c.Classifier.MinIntervalMS) * time.Millisecond)
	lookup := nominatim.New(hc,
		nominatim.WithBaseURL(c.Classifier.NominatimURL),
		nominatim.WithUserAgent(c.Classifier.UserAgent),
		nominatim.WithTimeout(time.Duration(c.Classifier.TimeoutSecs)*time.Second),
		nominatim.WithThrottle(limiter.Throttle("nominatim")),
	)
	return geo.NewClassifier(lookup)
}

// buildEnv wires the service over an already-open store.
func buildEnv(c *config.Config, st *cache.Store) *enricherEnv {
	hc := newHTTPClient(c, st)
	reg := elevation.BuildRegistry(hc, providerSettings(c))
	svc := enrich.NewService(newClassifier(c, hc), reg, enrich.WithToolVersion(version))
	return &enricherEnv{Store: st, HTTP: hc, Service: svc}
}

// initEnricher validates config for mode, opens the cache and builds the
// service. Callers should defer env.Close().
func initEnricher(ctx context.Context, mode string) (*enricherEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := buildEnv(cfg, st)
	zap.L().Debug("providers registered", zap.Strings("providers", env.Service.Registry().List()))
	return env, nil
}
