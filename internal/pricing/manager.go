// internal/pricing/manager.go
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solana-pricebot/internal/accounts"
	"solana-pricebot/internal/blacklist"
	"solana-pricebot/internal/decoder"
	"solana-pricebot/internal/storage"
	"solana-pricebot/internal/storage/models"
)

// ErrNoPrice is returned when neither the chain nor any aggregator could
// produce a price. Callers must not treat this as a zero price.
var ErrNoPrice = errors.New("no price available")

// Aggregator is the external price API surface (DexScreener,
// GeckoTerminal).
type Aggregator interface {
	TokenPools(ctx context.Context, mint string) ([]PoolQuote, error)
}

// BlacklistChecker is the blacklist surface the manager needs.
type BlacklistChecker interface {
	IsPoolBlacklisted(pool solana.PublicKey) bool
	IsTokenBlacklisted(mint solana.PublicKey) bool
	RecordFailure(ctx context.Context, pool, mint solana.PublicKey, decodeErr error) (bool, error)
	ClearStrikes(pool solana.PublicKey)
}

// PositionChecker reports open positions; they refresh ahead of everything
// else.
type PositionChecker interface {
	HasOpenPosition(mint solana.PublicKey) bool
}

// MetricsRecorder receives per-refresh instrumentation. Nil disables it.
type MetricsRecorder interface {
	RecordPriceUpdate(source string, success bool, duration time.Duration)
	SetPoolLiquidity(pool, mint string, usd float64)
	SetSolPriceUSD(price float64)
}

// WatchEntry binds a token to the pool it is priced from.
type WatchEntry struct {
	Mint      solana.PublicKey
	Pool      solana.PublicKey
	ProgramID solana.PublicKey
	// Priority orders refreshes among non-position tokens; higher first.
	Priority int
}

// PriceOptions controls GetPrice behavior.
type PriceOptions struct {
	// ForceRefresh bypasses the price table and runs the full pipeline.
	ForceRefresh bool
	// MaxAge rejects table entries older than this; zero accepts any.
	MaxAge time.Duration
}

// ManagerStats aggregates pipeline counters.
type ManagerStats struct {
	Cycles        uint64
	Updates       uint64
	Successes     uint64
	Failures      uint64
	CacheHits     uint64
	Blacklisted   uint64 // updates skipped or cut short by the blacklist
	APIFallbacks  uint64 // prices served without an on-chain leg
	LastCycleTime time.Time
}

// ManagerOptions tunes the background refresh loop.
type ManagerOptions struct {
	Interval    time.Duration
	BatchSize   int // mints refreshed per cycle
	Concurrency int // parallel pipeline runs
	StaleAfter  time.Duration
	// Retention bounds how long prices for unwatched mints stay in the
	// table; without it ad-hoc GetPrice lookups grow it forever.
	Retention time.Duration
}

func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		Interval:    2 * time.Second,
		BatchSize:   16,
		Concurrency: 4,
		StaleAfter:  5 * time.Second,
		Retention:   10 * time.Minute,
	}
}

// Manager owns the fetch, decode, reconcile pipeline and the shared price
// table. One background loop refreshes the watchlist; GetPrice serves the
// rest of the application.
type Manager struct {
	fetcher    *accounts.Fetcher
	registry   *decoder.Registry
	reconciler *Reconciler
	primary    Aggregator // DexScreener
	secondary  Aggregator // GeckoTerminal
	blacklist  BlacklistChecker
	positions  PositionChecker
	store      storage.Storage // nil disables pool persistence
	metrics    MetricsRecorder
	logger     *zap.Logger
	opts       ManagerOptions

	mu          sync.RWMutex
	watchlist   map[solana.PublicKey]*WatchEntry
	lastUpdated map[solana.PublicKey]time.Time
	prices      map[solana.PublicKey]*TokenPrice
	solUSD      float64

	statsMu sync.Mutex
	stats   ManagerStats
}

type ManagerDeps struct {
	Fetcher    *accounts.Fetcher
	Registry   *decoder.Registry
	Reconciler *Reconciler
	Primary    Aggregator
	Secondary  Aggregator
	Blacklist  BlacklistChecker
	Positions  PositionChecker
	Store      storage.Storage
	Metrics    MetricsRecorder
}

func NewManager(deps ManagerDeps, opts ManagerOptions, logger *zap.Logger) *Manager {
	def := DefaultManagerOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = def.StaleAfter
	}
	if opts.Retention <= 0 {
		opts.Retention = def.Retention
	}
	return &Manager{
		fetcher:     deps.Fetcher,
		registry:    deps.Registry,
		reconciler:  deps.Reconciler,
		primary:     deps.Primary,
		secondary:   deps.Secondary,
		blacklist:   deps.Blacklist,
		positions:   deps.Positions,
		store:       deps.Store,
		metrics:     deps.Metrics,
		logger:      logger.Named("price-manager"),
		opts:        opts,
		watchlist:   make(map[solana.PublicKey]*WatchEntry),
		lastUpdated: make(map[solana.PublicKey]time.Time),
		prices:      make(map[solana.PublicKey]*TokenPrice),
	}
}

// Watch adds or replaces a watchlist entry.
func (m *Manager) Watch(entry WatchEntry) {
	m.mu.Lock()
	m.watchlist[entry.Mint] = &entry
	m.mu.Unlock()
	m.logger.Info("watching token",
		zap.String("mint", entry.Mint.String()),
		zap.String("pool", entry.Pool.String()),
		zap.Int("priority", entry.Priority))
}

// Unwatch removes a token from the refresh loop. Its last price stays in
// the table until the retention window lapses.
func (m *Manager) Unwatch(mint solana.PublicKey) {
	m.mu.Lock()
	delete(m.watchlist, mint)
	m.mu.Unlock()
}

// Watchlist returns a snapshot of watched entries.
func (m *Manager) Watchlist() []WatchEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WatchEntry, 0, len(m.watchlist))
	for _, e := range m.watchlist {
		out = append(out, *e)
	}
	return out
}

// Run drives the refresh loop until ctx is canceled. It always returns
// ctx.Err(); the loop itself never aborts on pipeline errors.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("price manager started",
		zap.Duration("interval", m.opts.Interval),
		zap.Int("batch_size", m.opts.BatchSize),
		zap.Int("concurrency", m.opts.Concurrency))

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	// First cycle immediately rather than one interval late.
	m.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("price manager stopped")
			return ctx.Err()
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// runCycle refreshes the most urgent mints, bounded by BatchSize and
// Concurrency.
func (m *Manager) runCycle(ctx context.Context) {
	m.prune(time.Now())

	due := m.selectDue()
	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for _, entry := range due {
		entry := entry
		g.Go(func() error {
			if _, err := m.refresh(gctx, entry); err != nil {
				m.logger.Debug("refresh failed",
					zap.String("mint", entry.Mint.String()),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	m.statsMu.Lock()
	m.stats.Cycles++
	m.stats.LastCycleTime = time.Now().UTC()
	m.statsMu.Unlock()
}

// prune drops table entries for mints that are no longer watched once
// their last refresh ages past Retention.
func (m *Manager) prune(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for mint, last := range m.lastUpdated {
		if _, ok := m.watchlist[mint]; ok {
			continue
		}
		if now.Sub(last) < m.opts.Retention {
			continue
		}
		delete(m.lastUpdated, mint)
		delete(m.prices, mint)
	}
}

// selectDue orders the watchlist: open positions first, then priority,
// then staleness, and returns the top BatchSize entries that are stale.
func (m *Manager) selectDue() []*WatchEntry {
	now := time.Now()

	m.mu.RLock()
	candidates := make([]*WatchEntry, 0, len(m.watchlist))
	updated := make(map[solana.PublicKey]time.Time, len(m.watchlist))
	for mint, entry := range m.watchlist {
		last := m.lastUpdated[mint]
		if now.Sub(last) < m.opts.StaleAfter {
			continue
		}
		candidates = append(candidates, entry)
		updated[mint] = last
	}
	m.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if m.positions != nil {
			ao, bo := m.positions.HasOpenPosition(a.Mint), m.positions.HasOpenPosition(b.Mint)
			if ao != bo {
				return ao
			}
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return updated[a.Mint].Before(updated[b.Mint])
	})

	if len(candidates) > m.opts.BatchSize {
		candidates = candidates[:m.opts.BatchSize]
	}
	return candidates
}

// GetPrice answers from the price table when it can; on a miss, a stale
// entry, or ForceRefresh it runs the pipeline synchronously. When the
// pipeline produces nothing but an older snapshot exists, the snapshot is
// served marked IsCached. A nil result with ErrNoPrice means "unknown",
// which is never the same as zero.
func (m *Manager) GetPrice(ctx context.Context, mint solana.PublicKey, opts PriceOptions) (*TokenPrice, error) {
	if !opts.ForceRefresh {
		m.mu.RLock()
		cached, ok := m.prices[mint]
		m.mu.RUnlock()
		if ok && cached.HasPrice() {
			if opts.MaxAge == 0 || time.Since(cached.FetchedAt) <= opts.MaxAge {
				m.statsMu.Lock()
				m.stats.CacheHits++
				m.statsMu.Unlock()
				out := *cached
				out.IsCached = true
				out.Source = SourceCache
				return &out, nil
			}
		}
	}

	m.mu.RLock()
	entry, watched := m.watchlist[mint]
	m.mu.RUnlock()

	if !watched {
		// Unwatched mint: aggregator-only lookup.
		entry = &WatchEntry{Mint: mint}
	}

	result, err := m.refresh(ctx, entry)
	if err != nil {
		return nil, err
	}
	if result.HasPrice() {
		return result, nil
	}

	// Both the chain and the aggregators came up empty. The last-known
	// snapshot still beats nothing; IsCached tells the caller it is stale.
	m.mu.RLock()
	cached, ok := m.prices[mint]
	m.mu.RUnlock()
	if ok && cached.HasPrice() {
		out := *cached
		out.IsCached = true
		out.Source = SourceCache
		return &out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoPrice, mint)
}

// SolPriceUSD returns the last known SOL/USD anchor, zero if unknown.
func (m *Manager) SolPriceUSD() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.solUSD
}

// Stats returns a copy of the counters.
func (m *Manager) Stats() ManagerStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// refresh runs the full pipeline for one token and publishes the result.
func (m *Manager) refresh(ctx context.Context, entry *WatchEntry) (*TokenPrice, error) {
	m.statsMu.Lock()
	m.stats.Updates++
	m.statsMu.Unlock()

	start := time.Now()
	mint := entry.Mint

	if m.blacklist != nil && m.blacklist.IsTokenBlacklisted(mint) {
		m.statsMu.Lock()
		m.stats.Blacklisted++
		m.statsMu.Unlock()
		return nil, fmt.Errorf("token %s is blacklisted", mint)
	}

	onchain := m.priceFromChain(ctx, entry)
	quotes := m.aggregatorQuotes(ctx, mint)

	result := m.reconciler.Reconcile(mint.String(), onchain, quotes)

	// Fill the USD leg from the SOL anchor when the aggregators had none.
	if result.PriceUSD == nil && result.PriceSOL != nil {
		if anchor := m.SolPriceUSD(); anchor > 0 {
			usd := *result.PriceSOL * anchor
			result.PriceUSD = &usd
		}
	}

	m.mu.Lock()
	m.lastUpdated[mint] = time.Now()
	if result.HasPrice() {
		m.prices[mint] = result
	}
	m.mu.Unlock()

	m.statsMu.Lock()
	if result.HasPrice() {
		m.stats.Successes++
		if result.Source != SourceOnChain {
			m.stats.APIFallbacks++
		}
	} else {
		m.stats.Failures++
	}
	m.statsMu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordPriceUpdate(string(result.Source), result.HasPrice(), time.Since(start))
		if result.HasPrice() && result.PoolAddress != "" {
			m.metrics.SetPoolLiquidity(result.PoolAddress, mint.String(), result.LiquidityUSD)
		}
	}

	m.maybeUpdateAnchor(quotes)
	return result, nil
}

// priceFromChain fetches and decodes the watched pool. Any failure path
// returns nil; the reconciler then leans on the aggregators.
func (m *Manager) priceFromChain(ctx context.Context, entry *WatchEntry) *TokenPrice {
	if entry.Pool.IsZero() {
		m.resolvePool(ctx, entry)
	}
	if entry.Pool.IsZero() {
		return nil
	}
	if m.blacklist != nil && m.blacklist.IsPoolBlacklisted(entry.Pool) {
		m.statsMu.Lock()
		m.stats.Blacklisted++
		m.statsMu.Unlock()
		return nil
	}

	fetched, err := m.fetcher.Fetch(ctx, []solana.PublicKey{entry.Pool})
	if err != nil && len(fetched) == 0 {
		return nil
	}
	poolAcc, ok := fetched[entry.Pool]
	if !ok {
		return nil
	}
	if !poolAcc.Exists {
		m.recordDecodeFailure(ctx, entry, &decoder.DecodeError{
			Kind:    decoder.KindMissingAccount,
			Pool:    entry.Pool,
			Account: entry.Pool,
		})
		return nil
	}

	programID := entry.ProgramID
	if programID.IsZero() {
		programID = poolAcc.Owner
	}

	d, ok := m.registry.Find(programID)
	if !ok {
		m.recordDecodeFailure(ctx, entry, &decoder.DecodeError{
			Kind: decoder.KindUnsupportedVariant,
			Pool: entry.Pool,
			Msg:  "no decoder for program " + programID.String(),
		})
		return nil
	}

	info, err := d.DecodePoolInfo(entry.Pool, poolAcc.Data)
	if err != nil {
		m.recordDecodeFailure(ctx, entry, err)
		return nil
	}
	// Bonding-curve accounts do not carry the mint; fill it from the
	// watch entry.
	if info.BaseMint.IsZero() {
		info.BaseMint = entry.Mint
	}

	set, slot, err := m.fetchDependencies(ctx, entry.Pool, poolAcc, info)
	if err != nil {
		return nil
	}

	reserve, err := d.DecodeReserves(entry.Pool, poolAcc.Data, set, slot)
	if err != nil {
		m.recordDecodeFailure(ctx, entry, err)
		return nil
	}

	if m.blacklist != nil {
		m.blacklist.ClearStrikes(entry.Pool)
	}
	m.persistPool(ctx, info, reserve)

	price := reserve.Price()
	if price == 0 {
		// Empty pool: legitimately not priceable yet.
		return nil
	}

	result := &TokenPrice{
		Mint:        entry.Mint.String(),
		Source:      SourceOnChain,
		PoolAddress: entry.Pool.String(),
		Slot:        reserve.Slot,
		FetchedAt:   reserve.FetchedAt,
	}
	// Orientation: the watched mint may sit on either side of the pool.
	switch {
	case info.BaseMint.Equals(entry.Mint):
		result.PriceSOL = ptr(price)
	case info.QuoteMint.Equals(entry.Mint) && price > 0:
		result.PriceSOL = ptr(1 / price)
	default:
		result.PriceSOL = ptr(price)
	}
	return result
}

// resolvePool fills a missing pool address from persisted pool records,
// preferring the most recently seen non-blacklisted pool for the mint.
func (m *Manager) resolvePool(ctx context.Context, entry *WatchEntry) {
	if m.store == nil {
		return
	}
	records, err := m.store.ListPoolRecordsByToken(ctx, entry.Mint.String())
	if err != nil {
		m.logger.Debug("pool record lookup failed",
			zap.String("mint", entry.Mint.String()),
			zap.Error(err))
		return
	}
	for _, record := range records {
		pool, err := solana.PublicKeyFromBase58(record.PoolID)
		if err != nil {
			continue
		}
		if m.blacklist != nil && m.blacklist.IsPoolBlacklisted(pool) {
			continue
		}
		programID, err := solana.PublicKeyFromBase58(record.ProgramID)
		if err != nil {
			continue
		}
		entry.Pool = pool
		entry.ProgramID = programID
		m.mu.Lock()
		if watched, ok := m.watchlist[entry.Mint]; ok {
			watched.Pool = pool
			watched.ProgramID = programID
		}
		m.mu.Unlock()
		m.logger.Info("pool resolved from storage",
			zap.String("mint", entry.Mint.String()),
			zap.String("pool", record.PoolID),
			zap.String("protocol", record.Protocol))
		return
	}
}

// fetchDependencies resolves the extra accounts the decoder needs (vaults,
// mints) plus the pool's own entry for curve protocols.
func (m *Manager) fetchDependencies(ctx context.Context, pool solana.PublicKey, poolAcc *accounts.CachedAccount, info *decoder.PoolInfo) (decoder.AccountSet, uint64, error) {
	required := info.RequiredAccounts()

	set := make(decoder.AccountSet, len(required)+1)
	set[pool] = &decoder.Account{
		Data:     poolAcc.Data,
		Lamports: poolAcc.Lamports,
		Owner:    poolAcc.Owner,
	}
	if len(required) == 0 {
		return set, poolAcc.Slot, nil
	}

	depSet, slot, err := m.fetcher.FetchAccountSet(ctx, required)
	if err != nil && len(depSet) == 0 {
		return nil, 0, err
	}
	for addr, acc := range depSet {
		set[addr] = acc
	}
	if slot < poolAcc.Slot {
		slot = poolAcc.Slot
	}
	return set, slot, nil
}

func (m *Manager) recordDecodeFailure(ctx context.Context, entry *WatchEntry, decodeErr error) {
	if m.blacklist == nil {
		return
	}
	banned, err := m.blacklist.RecordFailure(ctx, entry.Pool, entry.Mint, decodeErr)
	if err != nil {
		m.logger.Error("failed to record decode failure",
			zap.String("pool", entry.Pool.String()),
			zap.Error(err))
		return
	}
	if banned {
		m.statsMu.Lock()
		m.stats.Blacklisted++
		m.statsMu.Unlock()
	}
}

// aggregatorQuotes asks DexScreener first and falls back to GeckoTerminal
// when it has nothing.
func (m *Manager) aggregatorQuotes(ctx context.Context, mint solana.PublicKey) []PoolQuote {
	if m.primary != nil {
		quotes, err := m.primary.TokenPools(ctx, mint.String())
		if err == nil && len(quotes) > 0 {
			return quotes
		}
		if err != nil {
			m.logger.Debug("primary aggregator failed",
				zap.String("mint", mint.String()),
				zap.Error(err))
		}
	}
	if m.secondary != nil {
		quotes, err := m.secondary.TokenPools(ctx, mint.String())
		if err != nil {
			m.logger.Debug("secondary aggregator failed",
				zap.String("mint", mint.String()),
				zap.Error(err))
			return nil
		}
		return quotes
	}
	return nil
}

// maybeUpdateAnchor derives SOL/USD from any quote that carries both legs.
func (m *Manager) maybeUpdateAnchor(quotes []PoolQuote) {
	for _, q := range quotes {
		if q.PriceNative != nil && q.PriceUSD != nil && *q.PriceNative > 0 {
			anchor := *q.PriceUSD / *q.PriceNative
			if anchor > 0 {
				m.mu.Lock()
				m.solUSD = anchor
				m.mu.Unlock()
				if m.metrics != nil {
					m.metrics.SetSolPriceUSD(anchor)
				}
			}
			return
		}
	}
}

// persistPool upserts the decoded layout so restarts skip re-derivation.
func (m *Manager) persistPool(ctx context.Context, info *decoder.PoolInfo, reserve *decoder.PoolReserve) {
	if m.store == nil {
		return
	}
	record := &models.PoolRecord{
		PoolID:        info.Address.String(),
		Protocol:      string(info.Type),
		ProgramID:     info.ProgramID.String(),
		BaseMint:      info.BaseMint.String(),
		QuoteMint:     info.QuoteMint.String(),
		BaseVault:     info.BaseVault.String(),
		QuoteVault:    info.QuoteVault.String(),
		BaseDecimals:  reserve.BaseDecimals,
		QuoteDecimals: reserve.QuoteDecimals,
		FeeRate:       info.FeeRate,
		LastPrice:     reserve.Price(),
		LastSlot:      reserve.Slot,
		LastSeen:      time.Now().UTC(),
	}
	if err := m.store.SavePoolRecord(ctx, record); err != nil {
		m.logger.Warn("pool record persist failed",
			zap.String("pool", record.PoolID),
			zap.Error(err))
	}
}

var _ BlacklistChecker = (*blacklist.Blacklist)(nil)
