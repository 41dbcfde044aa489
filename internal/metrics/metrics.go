// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the prometheus instruments for the pricing pipeline. It
// registers against its own registry so tests can build collectors freely.
type Collector struct {
	registry *prometheus.Registry

	priceUpdates  *prometheus.CounterVec
	updateSeconds *prometheus.HistogramVec
	poolLiquidity *prometheus.GaugeVec
	watchlistSize prometheus.Gauge
	blacklistSize *prometheus.GaugeVec
	fetcherStats  *prometheus.GaugeVec
	solPriceUSD   prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		priceUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pricebot",
				Name:      "price_updates_total",
				Help:      "Price refreshes by source and outcome",
			},
			[]string{"status", "source"},
		),

		updateSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pricebot",
				Name:      "price_update_duration_seconds",
				Help:      "Refresh pipeline duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"source"},
		),

		poolLiquidity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pricebot",
				Name:      "pool_liquidity_usd",
				Help:      "Last observed pool liquidity in USD",
			},
			[]string{"pool", "mint"},
		),

		watchlistSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pricebot",
				Name:      "watchlist_size",
				Help:      "Tokens on the refresh watchlist",
			},
		),

		blacklistSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pricebot",
				Name:      "blacklist_size",
				Help:      "Blacklisted entries by scope",
			},
			[]string{"scope"},
		),

		fetcherStats: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pricebot",
				Name:      "account_fetcher",
				Help:      "Cumulative account fetcher counters",
			},
			[]string{"counter"},
		),

		solPriceUSD: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pricebot",
				Name:      "sol_price_usd",
				Help:      "Current SOL/USD anchor price",
			},
		),
	}

	c.registry.MustRegister(
		c.priceUpdates,
		c.updateSeconds,
		c.poolLiquidity,
		c.watchlistSize,
		c.blacklistSize,
		c.fetcherStats,
		c.solPriceUSD,
	)
	return c
}

// RecordPriceUpdate counts one refresh outcome.
func (c *Collector) RecordPriceUpdate(source string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.priceUpdates.WithLabelValues(status, source).Inc()
	c.updateSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// SetPoolLiquidity tracks the last known liquidity of a priced pool.
func (c *Collector) SetPoolLiquidity(pool, mint string, usd float64) {
	c.poolLiquidity.WithLabelValues(pool, mint).Set(usd)
}

// SetWatchlistSize reports the current watchlist size.
func (c *Collector) SetWatchlistSize(n int) {
	c.watchlistSize.Set(float64(n))
}

// SetBlacklistSize reports blacklist sizes per scope.
func (c *Collector) SetBlacklistSize(pools, tokens int) {
	c.blacklistSize.WithLabelValues("pool").Set(float64(pools))
	c.blacklistSize.WithLabelValues("token").Set(float64(tokens))
}

// SetFetcherCounter mirrors one cumulative fetcher counter.
func (c *Collector) SetFetcherCounter(name string, value uint64) {
	c.fetcherStats.WithLabelValues(name).Set(float64(value))
}

// SetSolPriceUSD reports the SOL/USD anchor.
func (c *Collector) SetSolPriceUSD(price float64) {
	c.solPriceUSD.Set(price)
}

// Handler serves the registry in prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
