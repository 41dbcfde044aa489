// internal/bot/runner.go
package bot

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"solana-pricebot/internal/accounts"
	"solana-pricebot/internal/blacklist"
	"solana-pricebot/internal/config"
	"solana-pricebot/internal/decoder"
	"solana-pricebot/internal/logger"
	"solana-pricebot/internal/metrics"
	"solana-pricebot/internal/positions"
	"solana-pricebot/internal/pricing"
	"solana-pricebot/internal/rpc"
	"solana-pricebot/internal/storage"
	"solana-pricebot/internal/storage/postgres"
	"solana-pricebot/internal/watchlist"
)

// Runner assembles the pricing pipeline and drives its lifecycle.
type Runner struct {
	log        *logger.Logger
	cfg        *config.Config
	store      storage.Storage
	fetcher    *accounts.Fetcher
	manager    *pricing.Manager
	positions  *positions.Book
	blacklist  *blacklist.Blacklist
	collector  *metrics.Collector
	shutdown   *ShutdownHandler
	shutdownCh chan os.Signal
}

func NewRunner(log *logger.Logger) *Runner {
	return &Runner{
		log:        log,
		shutdownCh: make(chan os.Signal, 1),
	}
}

// Initialize wires every service, storage first, price manager last.
func (r *Runner) Initialize(ctx context.Context, cfg *config.Config, watchlistPath string) error {
	r.cfg = cfg

	zl := r.log.Logger
	r.shutdown = NewShutdownHandler(zl, 30*time.Second)

	store, err := postgres.NewStorage(cfg.PostgresURL, zl)
	if err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	r.store = store
	r.shutdown.Add("storage", store)

	if err := store.RunMigrations(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	rpcOpts := rpc.Options{
		Timeout: time.Duration(cfg.RPCTimeout) * time.Millisecond,
	}
	var client rpc.AccountsClient
	if len(cfg.RPCList) > 1 {
		client = rpc.NewPool(cfg.RPCList, rpcOpts, zl)
	} else {
		client = rpc.NewClient(cfg.RPCList[0], rpcOpts, zl)
	}

	r.positions = positions.NewBook(zl)

	r.blacklist = blacklist.New(store, r.positions, zl,
		blacklist.WithMaxFailures(cfg.MaxPoolFailures))
	if err := r.blacklist.Load(ctx); err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}

	r.fetcher = accounts.NewFetcher(client, zl, accounts.Options{
		TTL:      time.Duration(cfg.AccountTTL) * time.Millisecond,
		MaxTries: uint(cfg.Retries),
		Blocked:  r.blacklist.IsAccountBlacklisted,
	})

	registry := decoder.NewRegistry(zl)

	dexScreener := pricing.NewDexScreenerClient(zl,
		pricing.WithDexScreenerLimiter(
			ratelimit.New(cfg.DexScreenerRPM, ratelimit.Per(time.Minute), ratelimit.WithSlack(2))))
	geckoTerminal := pricing.NewGeckoTerminalClient(zl,
		pricing.WithGeckoTerminalLimiter(
			ratelimit.New(cfg.GeckoTerminalRPM, ratelimit.Per(time.Minute), ratelimit.WithSlack(5))))

	reconciler := pricing.NewReconciler(pricing.ReconcilerOptions{
		MinLiquidityUSD:  cfg.MinLiquidityUSD,
		MaxDivergencePct: cfg.MaxDivergencePct,
	}, zl)

	r.collector = metrics.NewCollector()

	r.manager = pricing.NewManager(pricing.ManagerDeps{
		Fetcher:    r.fetcher,
		Registry:   registry,
		Reconciler: reconciler,
		Primary:    dexScreener,
		Secondary:  geckoTerminal,
		Blacklist:  r.blacklist,
		Positions:  r.positions,
		Store:      store,
		Metrics:    r.collector,
	}, pricing.ManagerOptions{
		Interval:    time.Duration(cfg.RefreshInterval) * time.Millisecond,
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Workers,
	}, zl)

	if watchlistPath != "" {
		entries, err := watchlist.NewLoader(zl).Load(watchlistPath)
		if err != nil {
			return fmt.Errorf("load watchlist: %w", err)
		}
		for _, entry := range entries {
			r.manager.Watch(entry)
		}
	}

	r.log.Info("Pipeline initialized",
		zap.Int("watchlist", len(r.manager.Watchlist())),
		zap.Int("refresh_interval_ms", cfg.RefreshInterval))
	return nil
}

// Manager exposes the price manager for embedding applications.
func (r *Runner) Manager() *pricing.Manager {
	return r.manager
}

// Positions exposes the open-position book.
func (r *Runner) Positions() *positions.Book {
	return r.positions
}

// Blacklist exposes the pool blacklist.
func (r *Runner) Blacklist() *blacklist.Blacklist {
	return r.blacklist
}

// serveMetrics exposes the prometheus registry over HTTP.
func (r *Runner) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.collector.Handler())

	server := &http.Server{
		Addr:              r.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.shutdown.AddFunc("metrics-server", server.Close)

	go func() {
		r.log.Info("Serving metrics", zap.String("addr", r.cfg.MetricsAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
}

// exportStats periodically mirrors pipeline counters into the collector.
func (r *Runner) exportStats(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.collector.SetWatchlistSize(len(r.manager.Watchlist()))

			pools, tokens := r.blacklist.Stats()
			r.collector.SetBlacklistSize(pools, tokens)

			fs := r.fetcher.Stats()
			r.collector.SetFetcherCounter("requested", fs.Requested)
			r.collector.SetFetcherCounter("cache_hits", fs.CacheHits)
			r.collector.SetFetcherCounter("cache_misses", fs.CacheMisses)
			r.collector.SetFetcherCounter("coalesced", fs.Coalesced)
			r.collector.SetFetcherCounter("batch_calls", fs.BatchCalls)
			r.collector.SetFetcherCounter("not_found", fs.NotFound)
			r.collector.SetFetcherCounter("blocked", fs.Blocked)
			r.collector.SetFetcherCounter("errors", fs.Errors)
		}
	}
}

// Run drives the refresh loop until a signal arrives or ctx is cancelled,
// then shuts the services down in reverse order.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-r.shutdownCh:
			r.log.Info("Signal received", zap.String("signal", sig.String()))
			cancel()
		case <-runCtx.Done():
		}
	}()

	if r.cfg.MetricsAddr != "" {
		r.serveMetrics(runCtx)
	}
	go r.exportStats(runCtx)

	err := r.manager.Run(runCtx)

	stats := r.manager.Stats()
	r.log.Info("Refresh loop stopped",
		zap.Uint64("cycles", stats.Cycles),
		zap.Uint64("updates", stats.Updates),
		zap.Uint64("failures", stats.Failures))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if shutdownErr := r.shutdown.Shutdown(shutdownCtx); shutdownErr != nil {
		r.log.Error("Shutdown finished with errors", zap.Error(shutdownErr))
	}

	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
