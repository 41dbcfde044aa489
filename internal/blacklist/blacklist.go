// internal/blacklist/blacklist.go
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solana-pricebot/internal/decoder"
	"solana-pricebot/internal/storage"
	"solana-pricebot/internal/storage/models"
)

// defaultMaxFailures is how many structural decode failures a pool gets
// before it is blacklisted. One-off bad reads happen; three in a row means
// the pool really is the wrong shape.
const defaultMaxFailures = 3

const (
	scopePool  = "pool"
	scopeToken = "token"
)

// Reason labels why an entry exists.
type Reason string

const (
	ReasonDecodeFailure   Reason = "decode_failure"
	ReasonMissingAccounts Reason = "missing_accounts"
	ReasonNoLiquidity     Reason = "no_liquidity"
	ReasonManual          Reason = "manual"
)

// ErrOpenPosition is returned when a token ban is refused because a
// position in that token is still open.
var ErrOpenPosition = errors.New("token has open positions")

// PositionChecker is the guard consulted before token-level bans.
type PositionChecker interface {
	HasOpenPosition(mint solana.PublicKey) bool
}

// Blacklist keeps pools and tokens the pipeline must skip. Checks are O(1)
// map lookups; mutations persist to storage first and only then update the
// in-memory state, so a crash never leaves memory ahead of disk.
type Blacklist struct {
	store       storage.Storage
	positions   PositionChecker
	logger      *zap.Logger
	maxFailures int

	mu       sync.RWMutex
	pools    map[solana.PublicKey]*models.BlacklistEntry
	tokens   map[solana.PublicKey]*models.BlacklistEntry
	accounts map[solana.PublicKey]struct{}
	strikes  map[solana.PublicKey]int
}

// Option tunes a Blacklist.
type Option func(*Blacklist)

// WithMaxFailures overrides the permanent-failure strike limit.
func WithMaxFailures(n int) Option {
	return func(b *Blacklist) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

func New(store storage.Storage, positions PositionChecker, logger *zap.Logger, opts ...Option) *Blacklist {
	b := &Blacklist{
		store:       store,
		positions:   positions,
		logger:      logger.Named("blacklist"),
		maxFailures: defaultMaxFailures,
		pools:       make(map[solana.PublicKey]*models.BlacklistEntry),
		tokens:      make(map[solana.PublicKey]*models.BlacklistEntry),
		accounts:    make(map[solana.PublicKey]struct{}),
		strikes:     make(map[solana.PublicKey]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load rebuilds the in-memory state from storage. Called once at startup.
func (b *Blacklist) Load(ctx context.Context) error {
	entries, err := b.store.ListBlacklistEntries(ctx)
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entry := range entries {
		switch entry.Scope {
		case scopeToken:
			mint, err := solana.PublicKeyFromBase58(entry.PoolID)
			if err != nil {
				b.logger.Warn("skipping malformed token entry",
					zap.String("pool_id", entry.PoolID))
				continue
			}
			b.tokens[mint] = entry
		default:
			pool, err := solana.PublicKeyFromBase58(entry.PoolID)
			if err != nil {
				b.logger.Warn("skipping malformed pool entry",
					zap.String("pool_id", entry.PoolID))
				continue
			}
			b.pools[pool] = entry
			b.indexMissingAccountsLocked(entry)
		}
	}

	b.logger.Info("blacklist loaded",
		zap.Int("pools", len(b.pools)),
		zap.Int("tokens", len(b.tokens)))
	return nil
}

// IsPoolBlacklisted reports whether the pool must be skipped.
func (b *Blacklist) IsPoolBlacklisted(pool solana.PublicKey) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.pools[pool]
	return ok
}

// IsAccountBlacklisted reports whether the account was implicated in a
// blacklisting (a permanently missing vault or mint). The fetcher consults
// this before spending RPC quota on it.
func (b *Blacklist) IsAccountBlacklisted(account solana.PublicKey) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.accounts[account]; ok {
		return true
	}
	_, ok := b.pools[account]
	return ok
}

func (b *Blacklist) indexMissingAccountsLocked(entry *models.BlacklistEntry) {
	for _, addr := range entry.MissingAccountList() {
		account, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			continue
		}
		b.accounts[account] = struct{}{}
	}
}

// IsTokenBlacklisted reports whether the token is banned outright.
func (b *Blacklist) IsTokenBlacklisted(mint solana.PublicKey) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.tokens[mint]
	return ok
}

// BlacklistPool bans a single pool. The token stays priceable through its
// other pools.
func (b *Blacklist) BlacklistPool(ctx context.Context, pool, mint solana.PublicKey, reason Reason, detail string, missing []solana.PublicKey) error {
	now := time.Now().UTC()
	entry := &models.BlacklistEntry{
		PoolID:    pool.String(),
		Scope:     scopePool,
		Reason:    string(reason),
		Detail:    detail,
		FirstSeen: now,
		LastSeen:  now,
	}
	if !mint.IsZero() {
		entry.TokenMint = mint.String()
	} else if record, err := b.store.GetPoolRecord(ctx, pool.String()); err == nil && record != nil {
		// Callers that only know the pool still get a mint on the entry,
		// taken from the persisted pool record.
		entry.TokenMint = record.BaseMint
	}
	if len(missing) > 0 {
		addrs := make([]string, len(missing))
		for i, a := range missing {
			addrs[i] = a.String()
		}
		entry.SetMissingAccounts(addrs)
	}

	b.mu.Lock()
	entry.RetryCount = b.strikes[pool]
	b.mu.Unlock()

	// Persist first; memory commits only after the row is down.
	if err := b.store.SaveBlacklistEntry(ctx, entry); err != nil {
		return fmt.Errorf("persist blacklist entry for %s: %w", pool, err)
	}

	b.mu.Lock()
	b.pools[pool] = entry
	b.indexMissingAccountsLocked(entry)
	delete(b.strikes, pool)
	b.mu.Unlock()

	b.logger.Warn("pool blacklisted",
		zap.String("pool", pool.String()),
		zap.String("mint", entry.TokenMint),
		zap.String("reason", string(reason)),
		zap.String("detail", detail))

	if entry.TokenMint != "" {
		b.cascadeIfOrphaned(ctx, entry.TokenMint, reason)
	}
	return nil
}

// cascadeIfOrphaned escalates to a token-wide ban once every known pool
// for the mint is blacklisted; a token with no live pool cannot be priced
// anyway. The open-position guard in EnsureTokenBlacklisted still applies.
func (b *Blacklist) cascadeIfOrphaned(ctx context.Context, mintStr string, reason Reason) {
	mint, err := solana.PublicKeyFromBase58(mintStr)
	if err != nil {
		return
	}
	if b.IsTokenBlacklisted(mint) {
		return
	}
	records, err := b.store.ListPoolRecordsByToken(ctx, mintStr)
	if err != nil || len(records) == 0 {
		return
	}
	for _, record := range records {
		pool, err := solana.PublicKeyFromBase58(record.PoolID)
		if err != nil {
			continue
		}
		if !b.IsPoolBlacklisted(pool) {
			return
		}
	}
	if err := b.EnsureTokenBlacklisted(ctx, mint, reason, "all known pools blacklisted"); err != nil {
		b.logger.Warn("token cascade failed",
			zap.String("mint", mintStr),
			zap.Error(err))
	}
}

// EnsureTokenBlacklisted bans a token outright unless a position in it is
// open. Holding a token while refusing to price it would strand the exit,
// so open positions always win.
func (b *Blacklist) EnsureTokenBlacklisted(ctx context.Context, mint solana.PublicKey, reason Reason, detail string) error {
	if b.IsTokenBlacklisted(mint) {
		return nil
	}
	if b.positions != nil && b.positions.HasOpenPosition(mint) {
		b.logger.Warn("refusing token blacklist, position open",
			zap.String("mint", mint.String()),
			zap.String("reason", string(reason)))
		return ErrOpenPosition
	}

	now := time.Now().UTC()
	entry := &models.BlacklistEntry{
		PoolID:    mint.String(),
		TokenMint: mint.String(),
		Scope:     scopeToken,
		Reason:    string(reason),
		Detail:    detail,
		FirstSeen: now,
		LastSeen:  now,
	}
	if err := b.store.SaveBlacklistEntry(ctx, entry); err != nil {
		return fmt.Errorf("persist token blacklist entry for %s: %w", mint, err)
	}

	b.mu.Lock()
	b.tokens[mint] = entry
	b.mu.Unlock()

	b.logger.Warn("token blacklisted",
		zap.String("mint", mint.String()),
		zap.String("reason", string(reason)))
	return nil
}

// RecordFailure counts a decode failure against the pool. Only permanent
// (structural) failures accumulate strikes; transient ones reset nothing
// and trigger nothing. Returns true when the strike limit was reached and
// the pool got blacklisted.
func (b *Blacklist) RecordFailure(ctx context.Context, pool, mint solana.PublicKey, decodeErr error) (bool, error) {
	if !decoder.IsPermanent(decodeErr) {
		return false, nil
	}

	b.mu.Lock()
	b.strikes[pool]++
	strikes := b.strikes[pool]
	b.mu.Unlock()

	b.logger.Debug("permanent decode failure recorded",
		zap.String("pool", pool.String()),
		zap.Int("strikes", strikes),
		zap.Error(decodeErr))

	if strikes < b.maxFailures {
		return false, nil
	}

	reason := ReasonDecodeFailure
	var missing []solana.PublicKey
	if account, ok := decoder.MissingAccount(decodeErr); ok {
		reason = ReasonMissingAccounts
		missing = append(missing, account)
	}
	if err := b.BlacklistPool(ctx, pool, mint, reason, decodeErr.Error(), missing); err != nil {
		return false, err
	}
	return true, nil
}

// ClearStrikes resets the failure count after a successful decode.
func (b *Blacklist) ClearStrikes(pool solana.PublicKey) {
	b.mu.Lock()
	delete(b.strikes, pool)
	b.mu.Unlock()
}

// RemovePool lifts a pool ban.
func (b *Blacklist) RemovePool(ctx context.Context, pool solana.PublicKey) error {
	if err := b.store.DeleteBlacklistEntry(ctx, pool.String()); err != nil {
		return fmt.Errorf("delete blacklist entry for %s: %w", pool, err)
	}
	b.mu.Lock()
	delete(b.pools, pool)
	b.mu.Unlock()
	return nil
}

// Stats returns current entry counts.
func (b *Blacklist) Stats() (pools, tokens int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pools), len(b.tokens)
}
