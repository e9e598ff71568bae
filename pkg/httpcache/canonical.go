// Package httpcache implements a canonicalizing, auth-aware HTTP response cache
// client for rate-limited upstream data providers.
package httpcache

import (
	"bytes"
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// DefaultPrecision is the number of decimals coordinates are rounded to
// before keying (about 11 m at the equator).
const DefaultPrecision = 4

var (
	coordKeys = map[string]bool{
		"lat":       true,
		"latitude":  true,
		"lon":       true,
		"lng":       true,
		"longitude": true,
	}

	// lat,lon pair embedded in a path segment.
	pathPairRe = regexp.MustCompile(`(-?\d{1,2}\.\d+),\s*(-?\d{1,3}\.\d+)`)

	// A whole value made of "lat,lon" pairs separated by "|", as in
	// locations=43.87,-103.45|44.1,-103.2.
	pairListRe = regexp.MustCompile(`^\s*-?\d+(?:\.\d+)?\s*,\s*-?\d+(?:\.\d+)?(?:\s*\|\s*-?\d+(?:\.\d+)?\s*,\s*-?\d+(?:\.\d+)?)*\s*$`)

	// Esri-style x/y params are coordinates when the spatial reference is
	// WGS84.
	xyKeys = map[string]bool{"x": true, "y": true}

	// ISO date followed by a time-of-day.
	dateTimeRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})T`)
)

// Canonicalizer normalizes request parameters so near-identical requests
// collapse onto one cache key.
type Canonicalizer struct {
	Precision int
}

// NewCanonicalizer returns a Canonicalizer rounding to precision decimals.
// Non-positive precision falls back to DefaultPrecision.
func NewCanonicalizer(precision int) Canonicalizer {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	return Canonicalizer{Precision: precision}
}

func foldKey(k string) string {
	return cases.Fold().String(k)
}

// Params returns a canonical copy of params. The input is not modified.
func (c Canonicalizer) Params(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	var wkid any
	for k, v := range params {
		if foldKey(k) == "wkid" {
			wkid = v
		}
	}
	geographic := isWGS84(wkid)

	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = c.value(k, v, geographic)
	}
	return out
}

// isWGS84 reports whether a wkid param names EPSG:4326.
func isWGS84(wkid any) bool {
	f, ok := toFloat(wkid)
	return ok && f == 4326
}

// value canonicalizes one param. geographic marks x/y as lon/lat.
func (c Canonicalizer) value(key string, v any, geographic bool) any {
	k := foldKey(key)
	if coordKeys[k] || (geographic && xyKeys[k]) {
		if f, ok := toFloat(v); ok {
			return c.round(f)
		}
		return v
	}
	if s, ok := v.(string); ok && pairListRe.MatchString(s) {
		return c.roundPairs(s)
	}
	if strings.Contains(k, "date") || strings.Contains(k, "time") {
		if s, ok := v.(string); ok {
			if m := dateTimeRe.FindStringSubmatch(s); m != nil {
				return m[1]
			}
		}
	}
	return v
}

func (c Canonicalizer) round(f float64) float64 {
	p := c.Precision
	if p <= 0 {
		p = DefaultPrecision
	}
	scale := math.Pow10(p)
	return math.Round(f*scale) / scale
}

// roundPairs rounds every number of a "lat,lon|lat,lon" list.
func (c Canonicalizer) roundPairs(s string) string {
	pairs := strings.Split(s, "|")
	for i, pair := range pairs {
		parts := strings.Split(pair, ",")
		for j, part := range parts {
			parts[j] = c.formatRounded(strings.TrimSpace(part))
		}
		pairs[i] = strings.Join(parts, ",")
	}
	return strings.Join(pairs, "|")
}

func (c Canonicalizer) formatRounded(s string) string {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(c.round(f), 'f', -1, 64)
}

// URL rounds lat,lon pairs in the path and canonicalizes the query string.
// Unparseable URLs are returned unchanged.
func (c Canonicalizer) URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Path = pathPairRe.ReplaceAllStringFunc(u.Path, func(m string) string {
		sub := pathPairRe.FindStringSubmatch(m)
		return c.formatRounded(sub[1]) + "," + c.formatRounded(sub[2])
	})
	u.RawPath = ""

	if u.RawQuery != "" {
		q := u.Query()
		var wkid any
		for k := range q {
			if foldKey(k) == "wkid" {
				wkid = q.Get(k)
			}
		}
		geographic := isWGS84(wkid)
		for k, vals := range q {
			for i, v := range vals {
				cv := c.value(k, v, geographic)
				switch t := cv.(type) {
				case float64:
					vals[i] = strconv.FormatFloat(t, 'f', -1, 64)
				case string:
					vals[i] = t
				}
			}
			q[k] = vals
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Body canonicalizes JSON request bodies. Coordinate and date keys are
// normalized at every nesting level and object keys come out sorted.
// Anything that is not JSON is returned as is.
func (c Canonicalizer) Body(body []byte) []byte {
	if len(bytes.TrimSpace(body)) == 0 {
		return body
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return body
	}
	out, err := json.Marshal(c.walk("", doc))
	if err != nil {
		return body
	}
	return out
}

func (c Canonicalizer) walk(key string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = c.walk(k, child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = c.walk(key, child)
		}
		return t
	default:
		if key == "" {
			return v
		}
		return c.value(key, v, false)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
