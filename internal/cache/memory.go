package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultMemoryEntries caps the in-process backend.
const DefaultMemoryEntries = 10000

const memoryCleanupInterval = 10 * time.Minute

// memItem is what the backend keeps in go-cache. used orders entries for
// eviction once the entry cap is reached.
type memItem struct {
	entry Entry
	used  uint64
}

// MemoryBackend is an in-process backend on go-cache. go-cache expires
// entries at their ExpiresAt; the entry cap is enforced on top of it by
// evicting the least recently used entry.
type MemoryBackend struct {
	mu         sync.Mutex
	items      *gocache.Cache
	clock      uint64
	maxEntries int
}

// NewMemory creates a MemoryBackend holding at most maxEntries entries.
func NewMemory(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	return &MemoryBackend{
		items:      gocache.New(gocache.NoExpiration, memoryCleanupInterval),
		maxEntries: maxEntries,
	}
}

// Name implements Backend.
func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) tick() uint64 {
	m.clock++
	return m.clock
}

// Get implements Backend. The returned entry is a copy.
func (m *MemoryBackend) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.items.Get(key)
	if !ok {
		return nil, nil
	}
	it := v.(*memItem)
	it.used = m.tick()
	cp := it.entry
	return &cp, nil
}

// Put implements Backend. Entries already past their expiry are not stored.
func (m *MemoryBackend) Put(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ttl := gocache.NoExpiration
	if e.ExpiresAt != nil {
		ttl = time.Until(*e.ExpiresAt)
		if ttl <= 0 {
			m.items.Delete(e.Key)
			return nil
		}
	}

	if _, exists := m.items.Get(e.Key); !exists && m.items.ItemCount() >= m.maxEntries {
		m.items.DeleteExpired()
		for m.items.ItemCount() >= m.maxEntries {
			if !m.evictOldest() {
				break
			}
		}
	}

	m.items.Set(e.Key, &memItem{entry: *e, used: m.tick()}, ttl)
	return nil
}

// evictOldest drops the least recently used entry.
func (m *MemoryBackend) evictOldest() bool {
	var (
		oldestKey string
		oldest    uint64
		found     bool
	)
	for k, it := range m.items.Items() {
		mi := it.Object.(*memItem)
		if !found || mi.used < oldest {
			oldestKey, oldest, found = k, mi.used, true
		}
	}
	if found {
		m.items.Delete(oldestKey)
	}
	return found
}

// Touch implements Backend.
func (m *MemoryBackend) Touch(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.items.Get(key); ok {
		it := v.(*memItem)
		it.entry.HitCount++
		it.entry.LastAccessed = &at
	}
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// Clear implements Backend.
func (m *MemoryBackend) Clear(_ context.Context, f Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, it := range m.items.Items() {
		if f.Matches(&it.Object.(*memItem).entry) {
			m.items.Delete(k)
			n++
		}
	}
	return n, nil
}

// Stats implements Backend. go-cache hides entries past their expiry, so
// Expired only counts entries that lapsed since the listing began.
func (m *MemoryBackend) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	items := m.items.Items()
	st := Stats{Entries: int64(len(items))}
	for _, it := range items {
		e := &it.Object.(*memItem).entry
		st.TotalHits += e.HitCount
		if e.Expired(now) {
			st.Expired++
		}
	}
	return st, nil
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.items.Flush()
	return nil
}
