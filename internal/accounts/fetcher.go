// internal/accounts/fetcher.go
package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solana-pricebot/internal/decoder"
	"solana-pricebot/internal/rpc"
)

// maxBatchSize is the getMultipleAccounts limit enforced by RPC nodes.
const maxBatchSize = 100

// Stats is a snapshot of fetcher counters.
type Stats struct {
	Requested   uint64 // addresses asked for across all Fetch calls
	CacheHits   uint64
	CacheMisses uint64
	Coalesced   uint64 // addresses that piggybacked on an in-flight fetch
	BatchCalls  uint64 // RPC batches issued
	NotFound    uint64 // addresses the node reported as absent
	Blocked     uint64 // addresses refused by the Blocked filter
	Errors      uint64 // batches that failed after retries
}

// Options configures the fetcher.
type Options struct {
	// TTL is how long a fetched account stays fresh in the cache.
	TTL time.Duration
	// MaxTries bounds per-batch RPC retries.
	MaxTries uint
	// RetryInterval is the initial backoff delay between retries.
	RetryInterval time.Duration
	// Blocked filters out known-bad addresses before any RPC is spent on
	// them; they come back as non-existent. Nil disables the check.
	Blocked func(solana.PublicKey) bool
}

func DefaultOptions() Options {
	return Options{
		TTL:           2 * time.Second,
		MaxTries:      3,
		RetryInterval: 200 * time.Millisecond,
	}
}

// Fetcher batches account lookups through getMultipleAccounts and serves
// repeats from a TTL cache. Concurrent requests for the same address are
// coalesced onto one in-flight RPC call.
type Fetcher struct {
	client rpc.AccountsClient
	cache  *Cache
	logger *zap.Logger
	opts   Options

	mu       sync.Mutex
	inflight map[solana.PublicKey]chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

func NewFetcher(client rpc.AccountsClient, logger *zap.Logger, opts Options) *Fetcher {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = DefaultOptions().MaxTries
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultOptions().RetryInterval
	}
	return &Fetcher{
		client:   client,
		cache:    NewCache(opts.TTL),
		logger:   logger.Named("account-fetcher"),
		opts:     opts,
		inflight: make(map[solana.PublicKey]chan struct{}),
	}
}

// Cache exposes the underlying cache for invalidation and inspection.
func (f *Fetcher) Cache() *Cache { return f.cache }

// Stats returns a copy of the current counters.
func (f *Fetcher) Stats() Stats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.stats
}

func (f *Fetcher) bump(apply func(*Stats)) {
	f.statsMu.Lock()
	apply(&f.stats)
	f.statsMu.Unlock()
}

// Fetch returns account state for every requested address that could be
// resolved. Fresh cache entries are served directly; the rest go out in
// batches of at most 100 keys. The result map always contains an entry for
// addresses the node answered about, including ones that do not exist
// (Exists=false). The returned error reports batch failures; the map still
// carries whatever was resolved.
func (f *Fetcher) Fetch(ctx context.Context, addrs []solana.PublicKey) (map[solana.PublicKey]*CachedAccount, error) {
	return f.fetch(ctx, addrs, false)
}

// ForceRefresh bypasses the cache for the given addresses.
func (f *Fetcher) ForceRefresh(ctx context.Context, addrs []solana.PublicKey) (map[solana.PublicKey]*CachedAccount, error) {
	return f.fetch(ctx, addrs, true)
}

func (f *Fetcher) fetch(ctx context.Context, addrs []solana.PublicKey, force bool) (map[solana.PublicKey]*CachedAccount, error) {
	result := make(map[solana.PublicKey]*CachedAccount, len(addrs))
	seen := make(map[solana.PublicKey]struct{}, len(addrs))

	var owned []solana.PublicKey
	var waiting []solana.PublicKey

	f.mu.Lock()
	for _, addr := range addrs {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		f.bump(func(s *Stats) { s.Requested++ })

		if f.opts.Blocked != nil && f.opts.Blocked(addr) {
			result[addr] = &CachedAccount{Address: addr, Exists: false}
			f.bump(func(s *Stats) { s.Blocked++ })
			continue
		}

		if !force {
			if entry, ok := f.cache.Get(addr); ok {
				result[addr] = entry
				f.bump(func(s *Stats) { s.CacheHits++ })
				continue
			}
		}
		f.bump(func(s *Stats) { s.CacheMisses++ })

		if _, busy := f.inflight[addr]; busy {
			waiting = append(waiting, addr)
			f.bump(func(s *Stats) { s.Coalesced++ })
			continue
		}
		f.inflight[addr] = make(chan struct{})
		owned = append(owned, addr)
	}
	f.mu.Unlock()

	var errs []error
	for start := 0; start < len(owned); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(owned) {
			end = len(owned)
		}
		chunk := owned[start:end]
		if err := f.fetchBatch(ctx, chunk, result); err != nil {
			errs = append(errs, err)
		}
	}

	// Release in-flight markers whether the batch succeeded or not.
	f.mu.Lock()
	for _, addr := range owned {
		if ch, ok := f.inflight[addr]; ok {
			close(ch)
			delete(f.inflight, addr)
		}
	}
	f.mu.Unlock()

	for _, addr := range waiting {
		f.mu.Lock()
		ch, busy := f.inflight[addr]
		f.mu.Unlock()
		if busy {
			select {
			case <-ch:
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
		if entry, ok := f.cache.GetStale(addr); ok {
			result[addr] = entry
		}
	}

	return result, errors.Join(errs...)
}

// fetchBatch issues one getMultipleAccounts call with retries and merges
// the answers into the cache and the result map. On final failure, stale
// cache entries stand in where available.
func (f *Fetcher) fetchBatch(ctx context.Context, chunk []solana.PublicKey, result map[solana.PublicKey]*CachedAccount) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.opts.RetryInterval

	notify := func(err error, wait time.Duration) {
		f.logger.Debug("account batch retry",
			zap.Int("batch_size", len(chunk)),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	operation := func() (*rpc.MultipleAccountsResult, error) {
		f.bump(func(s *Stats) { s.BatchCalls++ })
		return f.client.GetMultipleAccounts(ctx, chunk)
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(f.opts.MaxTries),
		backoff.WithNotify(notify))
	if err != nil {
		f.bump(func(s *Stats) { s.Errors++ })
		f.logger.Warn("account batch failed after retries",
			zap.Int("batch_size", len(chunk)),
			zap.Error(err))
		for _, addr := range chunk {
			if entry, ok := f.cache.GetStale(addr); ok {
				result[addr] = entry
			}
		}
		return fmt.Errorf("batch of %d accounts: %w", len(chunk), err)
	}

	for i, addr := range chunk {
		var info *rpc.AccountInfo
		if i < len(res.Accounts) {
			info = res.Accounts[i]
		}
		if info == nil {
			f.cache.PutMissing(addr, res.Slot)
			f.bump(func(s *Stats) { s.NotFound++ })
		} else {
			f.cache.Put(addr, info.Data, info.Lamports, info.Owner, res.Slot)
		}
		if entry, ok := f.cache.GetStale(addr); ok {
			result[addr] = entry
		}
	}
	return nil
}

// FetchAccountSet resolves addresses into the decoder's AccountSet shape.
// Missing accounts are simply absent from the set so decoders surface them
// as MissingAccount errors. The returned slot is the highest slot seen.
func (f *Fetcher) FetchAccountSet(ctx context.Context, addrs []solana.PublicKey) (decoder.AccountSet, uint64, error) {
	fetched, err := f.Fetch(ctx, addrs)

	set := make(decoder.AccountSet, len(fetched))
	var slot uint64
	for addr, entry := range fetched {
		if entry.Slot > slot {
			slot = entry.Slot
		}
		if !entry.Exists {
			continue
		}
		set[addr] = &decoder.Account{
			Data:     entry.Data,
			Lamports: entry.Lamports,
			Owner:    entry.Owner,
		}
	}
	return set, slot, err
}
