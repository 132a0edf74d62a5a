package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache implements Cache with an in-process map. Used when no Redis
// is configured (memory storage driver, tests, local development).
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	counter   int64
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Ping(_ context.Context) error { return nil }

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: expiry(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.live(key)
	if !ok {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) SetAnalysisState(ctx context.Context, analysisID uuid.UUID, state string, ttl time.Duration) error {
	return c.Set(ctx, AnalysisStateKey(analysisID), []byte(state), ttl)
}

func (c *MemoryCache) GetAnalysisState(ctx context.Context, analysisID uuid.UUID) (string, bool, error) {
	raw, ok, err := c.Get(ctx, AnalysisStateKey(analysisID))
	if err != nil || !ok {
		return "", false, err
	}
	return string(raw), true, nil
}

func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expires time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.live(key)
	if !ok {
		entry = memoryEntry{expiresAt: expiry(expires)}
	}
	entry.counter++
	c.entries[key] = entry
	return entry.counter, nil
}

// live returns the entry for key if present and unexpired, evicting it
// otherwise. Caller must hold the lock.
func (c *MemoryCache) live(key string) (memoryEntry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

var _ Cache = (*MemoryCache)(nil)
