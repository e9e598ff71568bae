// Package elevation defines elevation data providers and a registry for them.
package elevation

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/biosample-enricher/internal/model"
	"github.com/sells-group/biosample-enricher/pkg/httpcache"
)

// Registry names.
const (
	NameUSGS         = "usgs"
	NameGoogle       = "google"
	NameOpenTopoData = "open_topo_data"
	NameOSM          = "osm"
)

// DefaultTimeout bounds one provider request.
const DefaultTimeout = 20 * time.Second

// FetchOptions controls caching and timeout for one fetch.
type FetchOptions struct {
	ReadFromCache bool
	WriteToCache  bool
	Timeout       time.Duration
}

// DefaultFetchOptions reads and writes the cache.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{ReadFromCache: true, WriteToCache: true, Timeout: DefaultTimeout}
}

// Result is the outcome of a single fetch. Failures are reported through Err,
// never as a returned error.
type Result struct {
	Elevation     *float64
	Location      *model.GeoPoint
	ResolutionM   *float64
	VerticalDatum string
	Raw           []byte
	FromCache     bool
	Err           error
}

// OK reports whether the result carries an elevation.
func (r Result) OK() bool {
	return r.Err == nil && r.Elevation != nil
}

// Provider fetches the elevation at a point.
type Provider interface {
	// Name returns the registry name.
	Name() string
	// Ref describes the provider for observation records.
	Ref() model.ProviderRef
	// Fetch queries the provider. It never panics on bad upstream data and
	// never returns credentials in Result.Err.
	Fetch(ctx context.Context, lat, lon float64, o FetchOptions) Result
}

// Config holds the knobs shared by every HTTP provider.
type Config struct {
	Endpoint           string
	APIKey             string
	Timeout            time.Duration
	RateLimitQPS       float64
	VerticalDatum      string
	DefaultResolutionM float64
	Dataset            string
}

// base carries the plumbing common to HTTP providers.
type base struct {
	name       string
	endpoint   string
	apiVersion string
	http       *httpcache.Client
	timeout    time.Duration
	limiter    *rate.Limiter
}

func newBase(name, endpoint string, hc *httpcache.Client, cfg Config) base {
	b := base{
		name:       name,
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiVersion: "v1",
		http:       hc,
		timeout:    cfg.Timeout,
	}
	if cfg.RateLimitQPS > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitQPS), 1)
	}
	return b
}

func (b base) Name() string { return b.name }

func (b base) Ref() model.ProviderRef {
	return model.ProviderRef{Name: b.name, Endpoint: b.endpoint, APIVersion: b.apiVersion}
}

// do runs req through the caching client. The provider limiter only gates
// live calls.
func (b base) do(ctx context.Context, req httpcache.Request, o FetchOptions) (*httpcache.Response, error) {
	co := httpcache.CallOptions{
		ReadFromCache: o.ReadFromCache,
		WriteToCache:  o.WriteToCache,
		Timeout:       o.Timeout,
	}
	if co.Timeout <= 0 {
		co.Timeout = b.timeout
	}
	if b.limiter != nil {
		co.Throttle = b.limiter.Wait
	}
	resp, err := b.http.Do(ctx, req, co)
	if err != nil {
		return nil, eris.Wrapf(err, "elevation: %s request", b.name)
	}
	if resp.StatusCode != 200 {
		return resp, eris.Errorf("elevation: %s returned status %d", b.name, resp.StatusCode)
	}
	return resp, nil
}

// failure builds an error Result, keeping whatever raw body was received.
func failure(resp *httpcache.Response, err error) Result {
	r := Result{Err: err}
	if resp != nil {
		r.Raw = resp.Body
		r.FromCache = resp.FromCache
	}
	return r
}

// number decodes a JSON number that some services send as a string.
type number struct {
	v   float64
	set bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return eris.Wrapf(err, "elevation: parse number %q", s)
	}
	n.v, n.set = f, true
	return nil
}

func (n number) ptr() *float64 {
	if !n.set {
		return nil
	}
	v := n.v
	return &v
}

var _ json.Unmarshaler = (*number)(nil)

// Registry holds providers by name and remembers registration order.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Name()]; !ok {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// List returns registered names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
