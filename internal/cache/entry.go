// Package cache stores HTTP response entries behind interchangeable durable
// and embedded backends.
package cache

import (
	"strings"
	"time"
)

// Entry is one cached HTTP response.
type Entry struct {
	Key          string            `json:"key" bson:"_id"`
	Method       string            `json:"method" bson:"method"`
	URL          string            `json:"url" bson:"url"`
	StatusCode   int               `json:"status_code" bson:"status_code"`
	Headers      map[string]string `json:"headers" bson:"headers"`
	Body         []byte            `json:"body" bson:"body"`
	CreatedAt    time.Time         `json:"created_at" bson:"created_at"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	HitCount     int64             `json:"hit_count" bson:"hit_count"`
	LastAccessed *time.Time        `json:"last_accessed,omitempty" bson:"last_accessed,omitempty"`
}

// Expired reports whether the entry is past its expiry at now.
// Entries without an expiry never expire.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Filter selects entries for Clear. The zero Filter matches everything.
type Filter struct {
	// CreatedBefore matches entries created strictly before this time.
	CreatedBefore time.Time
	// ExpiredAsOf matches entries whose expiry is at or before this time.
	ExpiredAsOf time.Time
	// URLPrefix matches entries whose URL starts with this prefix.
	URLPrefix string
}

// Matches reports whether e satisfies every set condition of f.
func (f Filter) Matches(e *Entry) bool {
	if !f.CreatedBefore.IsZero() && !e.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if !f.ExpiredAsOf.IsZero() && (e.ExpiresAt == nil || e.ExpiresAt.After(f.ExpiredAsOf)) {
		return false
	}
	if f.URLPrefix != "" && !strings.HasPrefix(e.URL, f.URLPrefix) {
		return false
	}
	return true
}

// Stats summarizes backend contents.
type Stats struct {
	Backend   string `json:"backend" yaml:"backend"`
	Entries   int64  `json:"entries" yaml:"entries"`
	TotalHits int64  `json:"total_hits" yaml:"total_hits"`
	Expired   int64  `json:"expired" yaml:"expired"`
}

func expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl).UTC()
	return &t
}
