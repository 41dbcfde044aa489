package accounts

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) solana.PublicKey {
	var key solana.PublicKey
	for i := range key {
		key[i] = b
	}
	return key
}

func TestCacheTTL(t *testing.T) {
	mock := clock.NewMock()
	c := newCacheWithClock(2*time.Second, mock)
	key := testKey(0x01)

	c.Put(key, []byte{1, 2, 3}, 100, testKey(0x02), 55)

	entry, ok := c.Get(key)
	require.True(t, ok)
	assert.True(t, entry.Exists)
	assert.Equal(t, []byte{1, 2, 3}, entry.Data)
	assert.Equal(t, uint64(55), entry.Slot)

	mock.Add(3 * time.Second)

	_, ok = c.Get(key)
	assert.False(t, ok, "expired entry must miss")

	// Stale lookup still works until a purge.
	_, ok = c.GetStale(key)
	assert.True(t, ok)

	assert.Equal(t, 1, c.Purge())
	_, ok = c.GetStale(key)
	assert.False(t, ok)
}

func TestCacheMissingIsPositive(t *testing.T) {
	mock := clock.NewMock()
	c := newCacheWithClock(time.Minute, mock)
	key := testKey(0x03)

	c.PutMissing(key, 10)

	entry, ok := c.Get(key)
	require.True(t, ok, "non-existence is cached, not a miss")
	assert.False(t, entry.Exists)
	assert.Empty(t, entry.Data)
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(time.Minute)
	key := testKey(0x04)

	c.Put(key, []byte{1}, 0, solana.PublicKey{}, 1)
	require.Equal(t, 1, c.Len())

	c.Invalidate(key)
	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
