// internal/accounts/cache.go
package accounts

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gagliardetto/solana-go"
)

// CachedAccount is a point-in-time copy of on-chain account state. Exists
// is false for addresses the node reported as absent; caching those is
// deliberate, repeatedly re-fetching dead accounts burns RPC quota.
type CachedAccount struct {
	Address   solana.PublicKey
	Data      []byte
	Lamports  uint64
	Owner     solana.PublicKey
	Slot      uint64
	Exists    bool
	FetchedAt time.Time
}

func (a *CachedAccount) IsExpired(ttl time.Duration, now time.Time) bool {
	return now.Sub(a.FetchedAt) >= ttl
}

// Cache is a TTL map of account snapshots. Entries past their TTL are
// treated as absent on Get but kept until Purge so a failed refresh can
// still fall back to stale data.
type Cache struct {
	mu      sync.RWMutex
	entries map[solana.PublicKey]*CachedAccount
	ttl     time.Duration
	clock   clock.Clock
}

func NewCache(ttl time.Duration) *Cache {
	return newCacheWithClock(ttl, clock.New())
}

func newCacheWithClock(ttl time.Duration, clk clock.Clock) *Cache {
	return &Cache{
		entries: make(map[solana.PublicKey]*CachedAccount),
		ttl:     ttl,
		clock:   clk,
	}
}

// Get returns a fresh entry. Expired entries report a miss.
func (c *Cache) Get(key solana.PublicKey) (*CachedAccount, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || entry.IsExpired(c.ttl, c.clock.Now()) {
		return nil, false
	}
	return entry, true
}

// GetStale returns an entry regardless of freshness.
func (c *Cache) GetStale(key solana.PublicKey) (*CachedAccount, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Put stores an existing account's state.
func (c *Cache) Put(key solana.PublicKey, data []byte, lamports uint64, owner solana.PublicKey, slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &CachedAccount{
		Address:   key,
		Data:      data,
		Lamports:  lamports,
		Owner:     owner,
		Slot:      slot,
		Exists:    true,
		FetchedAt: c.clock.Now(),
	}
}

// PutMissing records that the address does not exist on chain.
func (c *Cache) PutMissing(key solana.PublicKey, slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &CachedAccount{
		Address:   key,
		Slot:      slot,
		Exists:    false,
		FetchedAt: c.clock.Now(),
	}
}

// Invalidate drops entries so the next Fetch goes to the node.
func (c *Cache) Invalidate(keys ...solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge removes expired entries and returns how many were dropped.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	dropped := 0
	for key, entry := range c.entries {
		if entry.IsExpired(c.ttl, now) {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}
