package httpcache

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// AdmissionFilter decides whether a live response may be persisted.
type AdmissionFilter struct {
	// AllowedStatus lists cacheable status codes. Empty means {200}.
	AllowedStatus []int
	// ErrorBodyHosts restricts embedded-error inspection to these hosts.
	// Empty means every response body is inspected.
	ErrorBodyHosts []string
}

// Admit reports whether resp is safe to cache. When it is not, the second
// return value explains why.
func (f AdmissionFilter) Admit(resp *Response) (bool, string) {
	if resp == nil {
		return false, "nil response"
	}
	if !f.statusAllowed(resp.StatusCode) {
		return false, fmt.Sprintf("status %d not cacheable", resp.StatusCode)
	}
	if f.inspectHost(resp.URL) {
		if msg, ok := embeddedError(resp.Body); ok {
			return false, "embedded error: " + msg
		}
	}
	return true, ""
}

func (f AdmissionFilter) statusAllowed(code int) bool {
	if len(f.AllowedStatus) == 0 {
		return code == 200
	}
	for _, c := range f.AllowedStatus {
		if c == code {
			return true
		}
	}
	return false
}

func (f AdmissionFilter) inspectHost(rawURL string) bool {
	if len(f.ErrorBodyHosts) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range f.ErrorBodyHosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// embeddedError looks for `error.message` or a top-level `error_message`
// inside a JSON object body.
func embeddedError(body []byte) (string, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}

	if raw, ok := doc["error_message"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s, true
		}
	}

	if raw, ok := doc["error"]; ok {
		var obj struct {
			Message *string `json:"message"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != nil {
			return *obj.Message, true
		}
	}
	return "", false
}
