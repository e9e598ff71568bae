package httpcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/biosample-enricher/internal/cache"
)

// Defaults for the caching client.
const (
	DefaultTTL       = 30 * 24 * time.Hour
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "biosample-enricher/1.0"
	// DefaultMaxBodyBytes caps a response body. Larger bodies are an error
	// and are never cached.
	DefaultMaxBodyBytes = 16 << 20
)

// Request describes one outbound call. Params are sent as the query string.
type Request struct {
	Method  string
	URL     string
	Params  map[string]any
	Headers map[string]string
	Body    []byte
}

// Response is a live or cached HTTP response.
type Response struct {
	StatusCode int
	Header     map[string]string
	Body       []byte
	URL        string
	Key        string
	FromCache  bool
}

// CallOptions controls cache behavior per call. ReadFromCache and
// WriteToCache are independent.
type CallOptions struct {
	ReadFromCache bool
	WriteToCache  bool
	// TTL overrides the client default; negative stores without expiry.
	TTL time.Duration
	// Timeout bounds the network call; zero uses the client default.
	Timeout time.Duration
	// Throttle runs before a real network call only, never on a cache hit.
	Throttle func(ctx context.Context) error
}

// DefaultCallOptions reads and writes the cache.
func DefaultCallOptions() CallOptions {
	return CallOptions{ReadFromCache: true, WriteToCache: true}
}

type cacheFlagsKey struct{}

type cacheFlags struct{ read, write bool }

// WithCacheFlags returns a context carrying per-request cache flags for
// callers that cannot take CallOptions directly.
func WithCacheFlags(ctx context.Context, read, write bool) context.Context {
	return context.WithValue(ctx, cacheFlagsKey{}, cacheFlags{read: read, write: write})
}

// FromContext returns o with ReadFromCache and WriteToCache replaced by the
// flags in ctx, if any.
func (o CallOptions) FromContext(ctx context.Context) CallOptions {
	if f, ok := ctx.Value(cacheFlagsKey{}).(cacheFlags); ok {
		o.ReadFromCache = f.read
		o.WriteToCache = f.write
	}
	return o
}

// Client is a caching HTTP client. It never retries.
type Client struct {
	http      *http.Client
	store     *cache.Store
	keyer     Keyer
	filter    AdmissionFilter
	ttl       time.Duration
	timeout   time.Duration
	userAgent string
	maxBody   int64

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPrecision sets the coordinate rounding precision used for keys.
func WithPrecision(digits int) Option {
	return func(c *Client) { c.keyer = Keyer{Canon: NewCanonicalizer(digits)} }
}

// WithAdmissionFilter replaces the default admission filter.
func WithAdmissionFilter(f AdmissionFilter) Option {
	return func(c *Client) { c.filter = f }
}

// WithTTL sets the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) { c.ttl = ttl }
}

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithUserAgent sets the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMaxBodyBytes sets the largest response body accepted.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithHostLimiter throttles live calls to host.
func WithHostLimiter(host string, l *rate.Limiter) Option {
	return func(c *Client) { c.limiters[strings.ToLower(host)] = l }
}

// New creates a Client over store. A nil store disables caching.
func New(store *cache.Store, opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		store:     store,
		keyer:     Keyer{Canon: NewCanonicalizer(DefaultPrecision)},
		filter:    AdmissionFilter{},
		ttl:       DefaultTTL,
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
		maxBody:   DefaultMaxBodyBytes,
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Store returns the backing store (may be nil).
func (c *Client) Store() *cache.Store { return c.store }

// SetHostLimiter installs or replaces the limiter for host.
func (c *Client) SetHostLimiter(host string, l *rate.Limiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiters[strings.ToLower(host)] = l
}

// Key returns the cache key req would use.
func (c *Client) Key(req Request) string {
	return c.keyer.Key(methodOf(req), req.URL, req.Params, req.Headers, req.Body)
}

// Do serves req from cache when allowed, otherwise performs it. Admissible
// live responses are written back when allowed. Transport failures are
// returned as errors; HTTP error statuses are returned as responses.
func (c *Client) Do(ctx context.Context, req Request, o CallOptions) (*Response, error) {
	key := c.Key(req)

	if o.ReadFromCache {
		if e := c.store.Get(ctx, key); e != nil {
			zap.L().Debug("httpcache: hit", zap.String("url", e.URL), zap.String("key", key))
			return &Response{
				StatusCode: e.StatusCode,
				Header:     e.Headers,
				Body:       e.Body,
				URL:        e.URL,
				Key:        key,
				FromCache:  true,
			}, nil
		}
	}

	resp, err := c.fetch(ctx, req, o)
	if err != nil {
		return nil, err
	}
	resp.Key = key

	if o.WriteToCache {
		if ok, reason := c.filter.Admit(resp); ok {
			ttl := o.TTL
			if ttl == 0 {
				ttl = c.ttl
			}
			c.store.Set(ctx, &cache.Entry{
				Key:        key,
				Method:     methodOf(req),
				URL:        resp.URL,
				StatusCode: resp.StatusCode,
				Headers:    resp.Header,
				Body:       resp.Body,
			}, ttl)
		} else {
			zap.L().Debug("httpcache: response not admitted",
				zap.String("url", resp.URL),
				zap.String("reason", reason),
			)
		}
	}
	return resp, nil
}

func (c *Client) fetch(ctx context.Context, req Request, o CallOptions) (*Response, error) {
	fullURL, err := EncodeURL(req.URL, req.Params)
	if err != nil {
		return nil, err
	}

	if o.Throttle != nil {
		if err := o.Throttle(ctx); err != nil {
			return nil, eris.Wrap(err, "httpcache: throttle")
		}
	}
	if l := c.limiterFor(fullURL); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "httpcache: rate limit wait")
		}
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, methodOf(req), fullURL, body)
	if err != nil {
		return nil, eris.Wrap(err, "httpcache: build request")
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = redact(ue.URL)
		}
		return nil, eris.Wrapf(err, "httpcache: %s %s", httpReq.Method, redact(fullURL))
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, eris.Wrap(err, "httpcache: read body")
	}
	if int64(len(data)) > c.maxBody {
		return nil, eris.Errorf("httpcache: %s response body exceeds %d bytes", redact(fullURL), c.maxBody)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     flattenHeader(resp.Header),
		Body:       data,
		URL:        redact(fullURL),
	}, nil
}

func (c *Client) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limiters[strings.ToLower(u.Hostname())]
}

// EncodeURL appends params to rawURL as a sorted query string.
func EncodeURL(rawURL string, params map[string]any) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "httpcache: parse url %q", rawURL)
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		q.Set(k, queryValue(params[k]))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func queryValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return paramString(t)
	}
}

// redactedParams never appear in stored URLs or log lines.
var redactedParams = []string{"key", "api_key", "apikey", "token", "access_token"}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return rawURL
	}
	q := u.Query()
	changed := false
	for _, p := range redactedParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func methodOf(req Request) string {
	if req.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(req.Method)
}
