// internal/pricing/reconcile.go
package pricing

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ReconcilerOptions tunes quote selection and divergence checks.
type ReconcilerOptions struct {
	// MinLiquidityUSD is the threshold below which an aggregator pool is
	// considered too thin to trust as a reference.
	MinLiquidityUSD float64
	// MaxDivergencePct is the on-chain vs aggregator gap, in percent,
	// above which a divergence warning is logged.
	MaxDivergencePct float64
}

func DefaultReconcilerOptions() ReconcilerOptions {
	return ReconcilerOptions{
		MinLiquidityUSD:  1_000,
		MaxDivergencePct: 10,
	}
}

// Reconciler merges the on-chain price with aggregator quotes. The
// on-chain price is ground truth when present; aggregators supply the USD
// leg, a liquidity reading and a sanity check. When there is no on-chain
// price the best aggregator quote stands in.
type Reconciler struct {
	opts   ReconcilerOptions
	logger *zap.Logger
}

func NewReconciler(opts ReconcilerOptions, logger *zap.Logger) *Reconciler {
	if opts.MinLiquidityUSD <= 0 {
		opts.MinLiquidityUSD = DefaultReconcilerOptions().MinLiquidityUSD
	}
	if opts.MaxDivergencePct <= 0 {
		opts.MaxDivergencePct = DefaultReconcilerOptions().MaxDivergencePct
	}
	return &Reconciler{opts: opts, logger: logger.Named("reconciler")}
}

// BestQuote picks the reference quote: the most liquid pool at or above
// the liquidity threshold. If nothing qualifies, the richest pool is used
// anyway; a thin reference beats no reference, the caller sees the
// liquidity figure and can judge.
func (r *Reconciler) BestQuote(quotes []PoolQuote) *PoolQuote {
	priced := make([]PoolQuote, 0, len(quotes))
	for _, q := range quotes {
		if q.PriceNative != nil || q.PriceUSD != nil {
			priced = append(priced, q)
		}
	}
	if len(priced) == 0 {
		return nil
	}

	sort.SliceStable(priced, func(i, j int) bool {
		return priced[i].LiquidityUSD > priced[j].LiquidityUSD
	})

	best := priced[0]
	if best.LiquidityUSD < r.opts.MinLiquidityUSD {
		r.logger.Debug("no quote above liquidity threshold, using richest",
			zap.String("pool", best.PoolAddress),
			zap.Float64("liquidity_usd", best.LiquidityUSD),
			zap.Float64("threshold_usd", r.opts.MinLiquidityUSD))
	}
	return &best
}

// Reconcile produces the final TokenPrice for a mint. onchain may be nil
// (no decodable pool); quotes may be empty (aggregators unaware of the
// token). Both nil and empty yield a priceless result, never a zero price.
func (r *Reconciler) Reconcile(mint string, onchain *TokenPrice, quotes []PoolQuote) *TokenPrice {
	best := r.BestQuote(quotes)

	if onchain != nil && onchain.PriceSOL != nil {
		result := *onchain
		result.Mint = mint

		if best != nil {
			result.LiquidityUSD = best.LiquidityUSD

			if best.PriceNative != nil && *best.PriceNative > 0 {
				div := math.Abs(*onchain.PriceSOL-*best.PriceNative) / *best.PriceNative * 100
				result.DivergencePct = &div

				if div > r.opts.MaxDivergencePct {
					r.logger.Warn("on-chain price diverges from aggregator",
						zap.String("mint", mint),
						zap.String("onchain_pool", onchain.PoolAddress),
						zap.String("aggregator_pool", best.PoolAddress),
						zap.String("aggregator", string(best.Source)),
						zap.Float64("onchain_sol", *onchain.PriceSOL),
						zap.Float64("aggregator_sol", *best.PriceNative),
						zap.Float64("divergence_pct", div),
						zap.Float64("liquidity_usd", best.LiquidityUSD))
				}

				// Derive the USD leg from the aggregator's SOL/USD ratio
				// applied to our own SOL price.
				if best.PriceUSD != nil && *best.PriceUSD > 0 {
					usd := *onchain.PriceSOL * (*best.PriceUSD / *best.PriceNative)
					result.PriceUSD = &usd
				}
			} else if best.PriceUSD != nil && result.PriceUSD == nil {
				result.PriceUSD = best.PriceUSD
			}
		}
		return &result
	}

	// No on-chain price; fall back to the aggregator outright.
	if best != nil {
		return &TokenPrice{
			Mint:         mint,
			PriceSOL:     best.PriceNative,
			PriceUSD:     best.PriceUSD,
			Source:       best.Source,
			PoolAddress:  best.PoolAddress,
			LiquidityUSD: best.LiquidityUSD,
			FetchedAt:    time.Now().UTC(),
		}
	}

	return &TokenPrice{
		Mint:      mint,
		Source:    SourceOnChain,
		FetchedAt: time.Now().UTC(),
	}
}
