// Package nominatim performs country-level reverse geocoding against an
// OpenStreetMap Nominatim server through the caching HTTP client.
package nominatim

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biosample-enricher/pkg/httpcache"
)

const (
	// DefaultURL is the public Nominatim reverse endpoint.
	DefaultURL = "https://nominatim.openstreetmap.org/reverse"
	// DefaultTimeout bounds a single reverse lookup.
	DefaultTimeout = 10 * time.Second
	// countryZoom asks Nominatim for country-level detail only.
	countryZoom = 3
)

// Address is the subset of the Nominatim address block we read.
type Address struct {
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	State       string `json:"state"`
}

// Place is a reverse geocoding result. Error is set when Nominatim found
// nothing at the point (e.g. "Unable to geocode" over open water).
type Place struct {
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
	Error       string  `json:"error"`
}

// Client looks up countries by coordinate.
type Client struct {
	http      *httpcache.Client
	baseURL   string
	userAgent string
	timeout   time.Duration
	throttle  func(context.Context) error
	opts      httpcache.CallOptions
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another Nominatim instance.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithUserAgent sets the User-Agent Nominatim's usage policy requires.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithThrottle sets a hook run before every live request.
func WithThrottle(fn func(context.Context) error) Option {
	return func(c *Client) { c.throttle = fn }
}

// WithCallOptions overrides the cache read/write flags.
func WithCallOptions(o httpcache.CallOptions) Option {
	return func(c *Client) { c.opts = o }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a Client over hc.
func New(hc *httpcache.Client, opts ...Option) *Client {
	c := &Client{
		http:      hc,
		baseURL:   DefaultURL,
		userAgent: httpcache.DefaultUserAgent,
		timeout:   DefaultTimeout,
		opts:      httpcache.DefaultCallOptions(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Reverse returns the place at (lat, lon). A non-200 status or an
// unparseable body is an error; an empty result is not. Cache flags set with
// httpcache.WithCacheFlags override the client's own.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	o := c.opts.FromContext(ctx)
	o.Timeout = c.timeout
	o.Throttle = c.throttle

	resp, err := c.http.Do(ctx, httpcache.Request{
		URL: c.baseURL,
		Params: map[string]any{
			"lat":            lat,
			"lon":            lon,
			"format":         "json",
			"zoom":           countryZoom,
			"addressdetails": 1,
		},
		Headers: map[string]string{"User-Agent": c.userAgent},
	}, o)
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: reverse")
	}
	if resp.StatusCode != 200 {
		return nil, eris.Errorf("nominatim: reverse returned status %d", resp.StatusCode)
	}

	var p Place
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return nil, eris.Wrap(err, "nominatim: parse response")
	}
	return &p, nil
}

// LookupCountry returns the lower-case ISO country code at the point.
// found is false when Nominatim reports no country, which is taken to mean
// open water.
func (c *Client) LookupCountry(ctx context.Context, lat, lon float64) (string, bool, error) {
	p, err := c.Reverse(ctx, lat, lon)
	if err != nil {
		return "", false, err
	}
	if p.Error != "" || p.Address.CountryCode == "" {
		zap.L().Debug("nominatim: no country at point",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.String("error", p.Error),
		)
		return "", false, nil
	}
	return p.Address.CountryCode, true, nil
}
