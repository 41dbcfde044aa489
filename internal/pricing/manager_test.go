package pricing

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-pricebot/internal/accounts"
	"solana-pricebot/internal/decoder"
	"solana-pricebot/internal/rpc"
	"solana-pricebot/internal/storage/models"
)

func tkey(b byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

// rayV4Blob assembles a Raydium legacy AMM account for the given mints and
// vaults: u64 decimals at 32/40, vaults at 336/368, mints at 400/432.
func rayV4Blob(baseMint, quoteMint, baseVault, quoteVault solana.PublicKey, baseDec, quoteDec uint64) []byte {
	data := make([]byte, 752)
	binary.LittleEndian.PutUint64(data[0:], 6) // status
	binary.LittleEndian.PutUint64(data[32:], baseDec)
	binary.LittleEndian.PutUint64(data[40:], quoteDec)
	binary.LittleEndian.PutUint64(data[176:], 25)     // fee numerator
	binary.LittleEndian.PutUint64(data[184:], 10_000) // fee denominator
	copy(data[336:], baseVault[:])
	copy(data[368:], quoteVault[:])
	copy(data[400:], baseMint[:])
	copy(data[432:], quoteMint[:])
	lpMint := tkey(0xEE)
	copy(data[464:], lpMint[:])
	return data
}

func splTokenBlob(amount uint64) []byte {
	data := make([]byte, 165)
	binary.LittleEndian.PutUint64(data[64:], amount)
	return data
}

// fakeRPC serves canned accounts to the fetcher.
type fakeRPC struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*rpc.AccountInfo
	slot     uint64
}

func (f *fakeRPC) GetMultipleAccounts(_ context.Context, pubkeys []solana.PublicKey) (*rpc.MultipleAccountsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &rpc.MultipleAccountsResult{Slot: f.slot, Accounts: make([]*rpc.AccountInfo, len(pubkeys))}
	for i, key := range pubkeys {
		out.Accounts[i] = f.accounts[key]
	}
	return out, nil
}

type fakeAggregator struct {
	mu     sync.Mutex
	quotes []PoolQuote
	err    error
	calls  int
}

func (f *fakeAggregator) TokenPools(context.Context, string) ([]PoolQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.quotes, f.err
}

type fakeBlacklist struct {
	mu       sync.Mutex
	pools    map[solana.PublicKey]bool
	tokens   map[solana.PublicKey]bool
	failures int
	cleared  int
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{
		pools:  make(map[solana.PublicKey]bool),
		tokens: make(map[solana.PublicKey]bool),
	}
}

func (f *fakeBlacklist) IsPoolBlacklisted(pool solana.PublicKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pools[pool]
}

func (f *fakeBlacklist) IsTokenBlacklisted(mint solana.PublicKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[mint]
}

func (f *fakeBlacklist) RecordFailure(_ context.Context, pool, _ solana.PublicKey, decodeErr error) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !decoder.IsPermanent(decodeErr) {
		return false, nil
	}
	f.failures++
	return false, nil
}

func (f *fakeBlacklist) ClearStrikes(solana.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

type fakePositions struct {
	open map[solana.PublicKey]bool
}

func (f *fakePositions) HasOpenPosition(mint solana.PublicKey) bool { return f.open[mint] }

type managerFixture struct {
	manager   *Manager
	rpc       *fakeRPC
	primary   *fakeAggregator
	secondary *fakeAggregator
	blacklist *fakeBlacklist

	mint, pool             solana.PublicKey
	baseVault, quoteVault  solana.PublicKey
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	fix := &managerFixture{
		rpc:        &fakeRPC{accounts: make(map[solana.PublicKey]*rpc.AccountInfo), slot: 100},
		primary:    &fakeAggregator{},
		secondary:  &fakeAggregator{},
		blacklist:  newFakeBlacklist(),
		mint:       tkey(0x01),
		pool:       tkey(0x02),
		baseVault:  tkey(0x03),
		quoteVault: tkey(0x04),
	}

	// Pool priced at 50 quote per base: 1.0 base (9 dec) vs 50.0 quote (6 dec).
	fix.rpc.accounts[fix.pool] = &rpc.AccountInfo{
		Data:  rayV4Blob(fix.mint, decoder.USDCMint, fix.baseVault, fix.quoteVault, 9, 6),
		Owner: decoder.RaydiumAMMProgramID,
	}
	fix.rpc.accounts[fix.baseVault] = &rpc.AccountInfo{Data: splTokenBlob(1_000_000_000)}
	fix.rpc.accounts[fix.quoteVault] = &rpc.AccountInfo{Data: splTokenBlob(50_000_000)}

	fetcher := accounts.NewFetcher(fix.rpc, zap.NewNop(), accounts.Options{
		TTL:           time.Minute,
		MaxTries:      1,
		RetryInterval: time.Millisecond,
	})

	fix.manager = NewManager(ManagerDeps{
		Fetcher:    fetcher,
		Registry:   decoder.NewRegistry(zap.NewNop()),
		Reconciler: newTestReconciler(),
		Primary:    fix.primary,
		Secondary:  fix.secondary,
		Blacklist:  fix.blacklist,
		Positions:  &fakePositions{open: map[solana.PublicKey]bool{}},
	}, ManagerOptions{
		Interval:    10 * time.Millisecond,
		BatchSize:   8,
		Concurrency: 2,
		StaleAfter:  time.Millisecond,
	}, zap.NewNop())

	fix.manager.Watch(WatchEntry{Mint: fix.mint, Pool: fix.pool})
	return fix
}

func TestManagerOnChainPrice(t *testing.T) {
	fix := newManagerFixture(t)
	fix.primary.quotes = []PoolQuote{quote("ApiPool", 40_000, ptr(51.0), ptr(7_650.0))}

	price, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.NoError(t, err)

	assert.Equal(t, SourceOnChain, price.Source)
	require.NotNil(t, price.PriceSOL)
	assert.InDelta(t, 50.0, *price.PriceSOL, 1e-9)
	assert.Equal(t, fix.pool.String(), price.PoolAddress)
	require.NotNil(t, price.DivergencePct)
	assert.InDelta(t, 100.0/51.0, *price.DivergencePct, 1e-9)

	// A clean decode resets the pool's strike counter.
	assert.Equal(t, 1, fix.blacklist.cleared)
	assert.Equal(t, uint64(1), fix.manager.Stats().Successes)
}

func TestManagerServesCachedPrice(t *testing.T) {
	fix := newManagerFixture(t)

	_, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.NoError(t, err)

	cached, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{})
	require.NoError(t, err)
	assert.True(t, cached.IsCached)
	assert.Equal(t, SourceCache, cached.Source)
	require.NotNil(t, cached.PriceSOL)
	assert.InDelta(t, 50.0, *cached.PriceSOL, 1e-9)
	assert.Equal(t, uint64(1), fix.manager.Stats().CacheHits)
}

func TestManagerAggregatorFallbackWhenPoolMissing(t *testing.T) {
	fix := newManagerFixture(t)
	delete(fix.rpc.accounts, fix.pool)
	fix.primary.quotes = []PoolQuote{quote("ApiPool", 30_000, ptr(0.005), nil)}

	price, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.NoError(t, err)

	assert.Equal(t, SourceDexScreener, price.Source)
	require.NotNil(t, price.PriceSOL)
	assert.InDelta(t, 0.005, *price.PriceSOL, 1e-12)

	// The permanently missing pool account counted as a strike.
	assert.Equal(t, 1, fix.blacklist.failures)
	assert.Equal(t, uint64(1), fix.manager.Stats().APIFallbacks)
}

func TestManagerSecondaryAggregatorFallback(t *testing.T) {
	fix := newManagerFixture(t)
	delete(fix.rpc.accounts, fix.pool)
	fix.primary.err = errors.New("dexscreener down")
	fix.secondary.quotes = []PoolQuote{{
		PoolAddress:  "GtPool",
		PriceNative:  ptr(0.007),
		LiquidityUSD: 12_000,
		Source:       SourceGeckoTerminal,
	}}

	price, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, SourceGeckoTerminal, price.Source)
	assert.Equal(t, 1, fix.secondary.calls)
}

func TestManagerNoPriceIsError(t *testing.T) {
	fix := newManagerFixture(t)
	delete(fix.rpc.accounts, fix.pool)

	_, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.ErrorIs(t, err, ErrNoPrice)
}

func TestManagerRefusesBlacklistedToken(t *testing.T) {
	fix := newManagerFixture(t)
	fix.blacklist.tokens[fix.mint] = true

	_, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blacklisted")
}

func TestManagerSkipsBlacklistedPool(t *testing.T) {
	fix := newManagerFixture(t)
	fix.blacklist.pools[fix.pool] = true
	fix.primary.quotes = []PoolQuote{quote("ApiPool", 30_000, ptr(0.004), nil)}

	price, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, SourceDexScreener, price.Source, "blacklisted pool must not be decoded")
}

func TestManagerSolAnchorFillsUSDLeg(t *testing.T) {
	fix := newManagerFixture(t)

	// First refresh learns the anchor from a dual-leg quote.
	fix.primary.quotes = []PoolQuote{quote("ApiPool", 40_000, ptr(50.0), ptr(7_500.0))}
	_, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.InDelta(t, 150.0, fix.manager.SolPriceUSD(), 1e-9)

	// Second refresh has no USD leg from the aggregator; the anchor fills it.
	fix.primary.quotes = []PoolQuote{quote("ApiPool", 40_000, ptr(50.0), nil)}
	price, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.NoError(t, err)
	require.NotNil(t, price.PriceUSD)
	assert.InDelta(t, 50.0*150.0, *price.PriceUSD, 1e-6)
}

func TestManagerSelectDuePrioritizesOpenPositions(t *testing.T) {
	fix := newManagerFixture(t)
	held, hot := tkey(0x10), tkey(0x11)
	fix.manager.positions = &fakePositions{open: map[solana.PublicKey]bool{held: true}}

	fix.manager.Watch(WatchEntry{Mint: hot, Priority: 100})
	fix.manager.Watch(WatchEntry{Mint: held, Priority: 0})

	due := fix.manager.selectDue()
	require.NotEmpty(t, due)
	assert.Equal(t, held, due[0].Mint, "open positions outrank priority flags")
	assert.Equal(t, hot, due[1].Mint)
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	fix := newManagerFixture(t)
	fix.primary.quotes = []PoolQuote{quote("ApiPool", 40_000, ptr(50.0), nil)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fix.manager.Run(ctx) }()

	// Let at least one cycle land, then stop.
	require.Eventually(t, func() bool {
		return fix.manager.Stats().Cycles >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}

	price, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{})
	require.NoError(t, err)
	assert.True(t, price.HasPrice())
}

// recordStore is an in-memory storage.Storage serving canned pool records.
type recordStore struct {
	mu      sync.Mutex
	records []*models.PoolRecord
	saved   []*models.PoolRecord
}

func (s *recordStore) SaveBlacklistEntry(context.Context, *models.BlacklistEntry) error { return nil }
func (s *recordStore) DeleteBlacklistEntry(context.Context, string) error               { return nil }
func (s *recordStore) ListBlacklistEntries(context.Context) ([]*models.BlacklistEntry, error) {
	return nil, nil
}

func (s *recordStore) SavePoolRecord(_ context.Context, record *models.PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, record)
	return nil
}

func (s *recordStore) GetPoolRecord(_ context.Context, poolID string) (*models.PoolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.PoolID == poolID {
			return r, nil
		}
	}
	return nil, errors.New("record not found")
}

func (s *recordStore) ListPoolRecordsByToken(_ context.Context, mint string) ([]*models.PoolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PoolRecord
	for _, r := range s.records {
		if r.BaseMint == mint || r.QuoteMint == mint {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *recordStore) RunMigrations() error { return nil }
func (s *recordStore) Close() error         { return nil }

func TestManagerResolvesPoolFromStorage(t *testing.T) {
	fix := newManagerFixture(t)
	fix.manager.store = &recordStore{records: []*models.PoolRecord{{
		PoolID:    fix.pool.String(),
		Protocol:  "raydium_amm",
		ProgramID: decoder.RaydiumAMMProgramID.String(),
		BaseMint:  fix.mint.String(),
		QuoteMint: decoder.USDCMint.String(),
	}}}

	// Re-watch with no pool; the manager must fill it from the record.
	fix.manager.Watch(WatchEntry{Mint: fix.mint})

	price, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.NoError(t, err)
	require.True(t, price.HasPrice())
	assert.Equal(t, SourceOnChain, price.Source)
	assert.Equal(t, fix.pool.String(), price.PoolAddress)

	entries := fix.manager.Watchlist()
	require.Len(t, entries, 1)
	assert.Equal(t, fix.pool, entries[0].Pool, "resolved pool sticks on the watch entry")
}

func TestManagerResolvePoolSkipsBlacklisted(t *testing.T) {
	fix := newManagerFixture(t)
	banned := tkey(0x55)
	fix.blacklist.pools[banned] = true
	fix.manager.store = &recordStore{records: []*models.PoolRecord{
		{PoolID: banned.String(), ProgramID: decoder.RaydiumAMMProgramID.String(), BaseMint: fix.mint.String()},
		{PoolID: fix.pool.String(), ProgramID: decoder.RaydiumAMMProgramID.String(), BaseMint: fix.mint.String()},
	}}

	fix.manager.Watch(WatchEntry{Mint: fix.mint})

	price, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, fix.pool.String(), price.PoolAddress, "blacklisted record is passed over")
}

func TestManagerServesLastKnownPriceWhenSourcesFail(t *testing.T) {
	fix := newManagerFixture(t)

	first, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.NoError(t, err)

	// Every source dies: the pool is now blacklisted and both aggregators
	// are down. The aged table entry must still come back, flagged stale.
	fix.blacklist.pools[fix.pool] = true
	fix.primary.err = errors.New("dexscreener down")
	fix.secondary.err = errors.New("geckoterminal down")

	price, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{MaxAge: time.Nanosecond})
	require.NoError(t, err)
	assert.True(t, price.IsCached)
	assert.Equal(t, SourceCache, price.Source)
	require.NotNil(t, price.PriceSOL)
	assert.InDelta(t, *first.PriceSOL, *price.PriceSOL, 1e-9)
}

func TestManagerPrunesUnwatchedEntries(t *testing.T) {
	fix := newManagerFixture(t)
	fix.primary.quotes = []PoolQuote{quote("ApiPool", 20_000, ptr(0.001), nil)}

	_, err := fix.manager.GetPrice(context.Background(), fix.mint, PriceOptions{ForceRefresh: true})
	require.NoError(t, err)

	adhoc := tkey(0x20)
	_, err = fix.manager.GetPrice(context.Background(), adhoc, PriceOptions{})
	require.NoError(t, err)

	fix.manager.mu.RLock()
	_, present := fix.manager.prices[adhoc]
	fix.manager.mu.RUnlock()
	require.True(t, present)

	fix.manager.prune(time.Now().Add(fix.manager.opts.Retention + time.Second))

	fix.manager.mu.RLock()
	_, adhocKept := fix.manager.prices[adhoc]
	_, watchedKept := fix.manager.prices[fix.mint]
	fix.manager.mu.RUnlock()
	assert.False(t, adhocKept, "ad-hoc lookups age out of the table")
	assert.True(t, watchedKept, "watched mints are never pruned")
}
