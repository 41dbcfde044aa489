// internal/pricing/types.go
package pricing

import (
	"time"
)

// Source identifies where a price came from.
type Source string

const (
	SourceOnChain       Source = "onchain"
	SourceDexScreener   Source = "dexscreener"
	SourceGeckoTerminal Source = "geckoterminal"
	SourceCache         Source = "cache"
)

// PoolQuote is one pool's view of a token price as reported by an external
// aggregator. Price fields are pointers: aggregators routinely omit them
// for illiquid pairs, and "unknown" must never collapse into 0.0.
type PoolQuote struct {
	PoolAddress  string
	DexID        string
	BaseMint     string
	QuoteMint    string
	PriceNative  *float64 // price in SOL
	PriceUSD     *float64
	LiquidityUSD float64
	CreatedAt    time.Time
	Source       Source
}

// TokenPrice is the pipeline's answer for one token. PriceSOL or PriceUSD
// being nil means that denomination could not be established; callers must
// check, not assume zero.
type TokenPrice struct {
	Mint         string
	PriceSOL     *float64
	PriceUSD     *float64
	Source       Source
	PoolAddress  string
	LiquidityUSD float64
	Slot         uint64
	FetchedAt    time.Time

	// IsCached marks answers served from the price table instead of a
	// fresh pipeline run.
	IsCached bool

	// DivergencePct is set when both an on-chain and an aggregator price
	// existed; it measures how far apart they were.
	DivergencePct *float64
}

// HasPrice reports whether at least one denomination is known.
func (p *TokenPrice) HasPrice() bool {
	return p != nil && (p.PriceSOL != nil || p.PriceUSD != nil)
}

func ptr(v float64) *float64 { return &v }
