package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-pricebot/internal/rpc"
)

// mockClient records batch calls and serves canned accounts.
type mockClient struct {
	mu       sync.Mutex
	calls    int
	batches  [][]solana.PublicKey
	accounts map[solana.PublicKey]*rpc.AccountInfo
	slot     uint64
	failures int // fail this many calls before succeeding
}

func (m *mockClient) GetMultipleAccounts(_ context.Context, pubkeys []solana.PublicKey) (*rpc.MultipleAccountsResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.batches = append(m.batches, append([]solana.PublicKey(nil), pubkeys...))

	if m.failures > 0 {
		m.failures--
		return nil, errors.New("rpc unavailable")
	}

	out := &rpc.MultipleAccountsResult{
		Slot:     m.slot,
		Accounts: make([]*rpc.AccountInfo, len(pubkeys)),
	}
	for i, key := range pubkeys {
		out.Accounts[i] = m.accounts[key] // nil means not found
	}
	return out, nil
}

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestFetcher(client *mockClient, ttl time.Duration) *Fetcher {
	return NewFetcher(client, zap.NewNop(), Options{
		TTL:           ttl,
		MaxTries:      3,
		RetryInterval: time.Millisecond,
	})
}

func TestFetchServesFromCache(t *testing.T) {
	key := testKey(0x01)
	client := &mockClient{
		slot:     42,
		accounts: map[solana.PublicKey]*rpc.AccountInfo{key: {Data: []byte{9}, Lamports: 5}},
	}
	f := newTestFetcher(client, time.Minute)

	got, err := f.Fetch(context.Background(), []solana.PublicKey{key})
	require.NoError(t, err)
	require.Contains(t, got, key)
	assert.Equal(t, []byte{9}, got[key].Data)
	assert.Equal(t, uint64(42), got[key].Slot)

	// Second fetch inside the TTL must not hit the node.
	_, err = f.Fetch(context.Background(), []solana.PublicKey{key})
	require.NoError(t, err)
	assert.Equal(t, 1, client.callCount())

	stats := f.Stats()
	assert.Equal(t, uint64(2), stats.Requested)
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, uint64(1), stats.CacheMisses)
}

func TestFetchChunksLargeBatches(t *testing.T) {
	var keys []solana.PublicKey
	accounts := make(map[solana.PublicKey]*rpc.AccountInfo)
	for i := 0; i < 250; i++ {
		var key solana.PublicKey
		key[0] = byte(i)
		key[1] = byte(i >> 8)
		keys = append(keys, key)
		accounts[key] = &rpc.AccountInfo{Data: []byte{1}}
	}
	client := &mockClient{slot: 1, accounts: accounts}
	f := newTestFetcher(client, time.Minute)

	got, err := f.Fetch(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, got, 250)

	require.Equal(t, 3, client.callCount(), "250 keys must split into 100+100+50")
	assert.Len(t, client.batches[0], 100)
	assert.Len(t, client.batches[1], 100)
	assert.Len(t, client.batches[2], 50)
}

func TestFetchDeduplicatesAddresses(t *testing.T) {
	key := testKey(0x02)
	client := &mockClient{accounts: map[solana.PublicKey]*rpc.AccountInfo{key: {Data: []byte{1}}}}
	f := newTestFetcher(client, time.Minute)

	got, err := f.Fetch(context.Background(), []solana.PublicKey{key, key, key})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	require.Equal(t, 1, client.callCount())
	assert.Len(t, client.batches[0], 1)
}

func TestFetchCachesNonExistent(t *testing.T) {
	key := testKey(0x03)
	client := &mockClient{slot: 7, accounts: map[solana.PublicKey]*rpc.AccountInfo{}}
	f := newTestFetcher(client, time.Minute)

	got, err := f.Fetch(context.Background(), []solana.PublicKey{key})
	require.NoError(t, err)
	require.Contains(t, got, key)
	assert.False(t, got[key].Exists)

	// Absence is cached: no second RPC call.
	_, err = f.Fetch(context.Background(), []solana.PublicKey{key})
	require.NoError(t, err)
	assert.Equal(t, 1, client.callCount())
	assert.Equal(t, uint64(1), f.Stats().NotFound)
}

func TestForceRefreshBypassesCache(t *testing.T) {
	key := testKey(0x04)
	client := &mockClient{accounts: map[solana.PublicKey]*rpc.AccountInfo{key: {Data: []byte{1}}}}
	f := newTestFetcher(client, time.Minute)

	_, err := f.Fetch(context.Background(), []solana.PublicKey{key})
	require.NoError(t, err)
	_, err = f.ForceRefresh(context.Background(), []solana.PublicKey{key})
	require.NoError(t, err)

	assert.Equal(t, 2, client.callCount())
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	key := testKey(0x05)
	client := &mockClient{
		failures: 2,
		accounts: map[solana.PublicKey]*rpc.AccountInfo{key: {Data: []byte{1}}},
	}
	f := newTestFetcher(client, time.Minute)

	got, err := f.Fetch(context.Background(), []solana.PublicKey{key})
	require.NoError(t, err)
	require.Contains(t, got, key)
	assert.Equal(t, 3, client.callCount())
}

func TestFetchFallsBackToStaleOnFailure(t *testing.T) {
	key := testKey(0x06)
	client := &mockClient{accounts: map[solana.PublicKey]*rpc.AccountInfo{key: {Data: []byte{7}}}}
	f := newTestFetcher(client, time.Minute)

	_, err := f.Fetch(context.Background(), []solana.PublicKey{key})
	require.NoError(t, err)

	client.mu.Lock()
	client.failures = 100
	client.mu.Unlock()

	got, err := f.ForceRefresh(context.Background(), []solana.PublicKey{key})
	require.Error(t, err)
	require.Contains(t, got, key, "stale entry stands in when the refresh fails")
	assert.Equal(t, []byte{7}, got[key].Data)
}

func TestFetchCoalescesConcurrentRequests(t *testing.T) {
	key := testKey(0x07)
	release := make(chan struct{})
	started := make(chan struct{})

	client := &blockingClient{
		inner:   &mockClient{accounts: map[solana.PublicKey]*rpc.AccountInfo{key: {Data: []byte{1}}}},
		release: release,
		started: started,
	}
	f := NewFetcher(client, zap.NewNop(), Options{TTL: time.Minute, MaxTries: 1, RetryInterval: time.Millisecond})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.Fetch(context.Background(), []solana.PublicKey{key})
	}()

	<-started // first fetch is on the wire

	wg.Add(1)
	go func() {
		defer wg.Done()
		got, err := f.Fetch(context.Background(), []solana.PublicKey{key})
		assert.NoError(t, err)
		assert.Contains(t, got, key)
	}()

	// Give the second fetch a moment to park on the in-flight marker,
	// then let the RPC answer.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, client.inner.callCount(), "second request must ride the in-flight fetch")
	assert.Equal(t, uint64(1), f.Stats().Coalesced)
}

type blockingClient struct {
	inner     *mockClient
	release   chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

func (b *blockingClient) GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) (*rpc.MultipleAccountsResult, error) {
	b.startOnce.Do(func() { close(b.started) })
	<-b.release
	return b.inner.GetMultipleAccounts(ctx, pubkeys)
}

func TestFetchAccountSetSkipsMissing(t *testing.T) {
	present, absent := testKey(0x08), testKey(0x09)
	client := &mockClient{
		slot:     33,
		accounts: map[solana.PublicKey]*rpc.AccountInfo{present: {Data: []byte{1}, Lamports: 2}},
	}
	f := newTestFetcher(client, time.Minute)

	set, slot, err := f.FetchAccountSet(context.Background(), []solana.PublicKey{present, absent})
	require.NoError(t, err)
	assert.Equal(t, uint64(33), slot)
	assert.Contains(t, set, present)
	assert.NotContains(t, set, absent)
}

func TestFetchSkipsBlockedAddresses(t *testing.T) {
	allowed, blocked := testKey(0x0A), testKey(0x0B)
	client := &mockClient{
		slot: 44,
		accounts: map[solana.PublicKey]*rpc.AccountInfo{
			allowed: {Data: []byte{1}, Lamports: 5},
		},
	}
	f := NewFetcher(client, zap.NewNop(), Options{
		TTL:           time.Minute,
		MaxTries:      1,
		RetryInterval: time.Millisecond,
		Blocked:       func(pk solana.PublicKey) bool { return pk == blocked },
	})

	result, err := f.Fetch(context.Background(), []solana.PublicKey{allowed, blocked})
	require.NoError(t, err)

	require.Contains(t, result, blocked)
	assert.False(t, result[blocked].Exists)
	assert.True(t, result[allowed].Exists)

	// The blocked address never reaches the RPC batch.
	require.Len(t, client.batches, 1)
	assert.Equal(t, []solana.PublicKey{allowed}, client.batches[0])
	assert.Equal(t, uint64(1), f.Stats().Blocked)
}
