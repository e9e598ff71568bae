package httpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// AuthHeaders lists the request headers that carry credentials and therefore
// take part in the cache key.
var AuthHeaders = []string{"authorization", "x-api-key", "x-goog-api-key", "api-key"}

// Keyer derives deterministic cache keys.
type Keyer struct {
	Canon Canonicalizer
}

// Key hashes method, canonical URL, every canonical param (sorted),
// auth-bearing headers and the canonical body digest into a hex SHA-256.
// Requests that differ only in a credential never share a key.
func (k Keyer) Key(method, rawURL string, params map[string]any, headers map[string]string, body []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n", strings.ToUpper(method), k.Canon.URL(rawURL))

	canon := k.Canon.Params(params)
	names := make([]string, 0, len(canon))
	for name := range canon {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(h, "p:%s=%s\n", name, paramString(canon[name]))
	}

	auth := authHeaderValues(headers)
	for _, name := range AuthHeaders {
		if v, ok := auth[name]; ok {
			fmt.Fprintf(h, "h:%s=%s\n", name, v)
		}
	}

	if len(body) > 0 {
		sum := sha256.Sum256(k.Canon.Body(body))
		fmt.Fprintf(h, "b:%s\n", hex.EncodeToString(sum[:]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func authHeaderValues(headers map[string]string) map[string]string {
	out := make(map[string]string)
	for name, v := range headers {
		folded := foldKey(name)
		for _, a := range AuthHeaders {
			if folded == a {
				out[a] = v
			}
		}
	}
	return out
}

func paramString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case []string:
		return strings.Join(t, ",")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
