package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const dsTokenPayload = `{
	"schemaVersion": "1.0.0",
	"pairs": [
		{
			"chainId": "solana",
			"dexId": "raydium",
			"pairAddress": "PoolAAA",
			"baseToken": {"address": "MintAAA", "symbol": "AAA"},
			"quoteToken": {"address": "So11111111111111111111111111111111111111112", "symbol": "SOL"},
			"priceNative": "0.000123",
			"priceUsd": "0.0185",
			"liquidity": {"usd": 54000.5, "base": 1000, "quote": 200},
			"pairCreatedAt": 1700000000000
		},
		{
			"chainId": "solana",
			"dexId": "meteora",
			"pairAddress": "PoolBBB",
			"baseToken": {"address": "MintAAA", "symbol": "AAA"},
			"quoteToken": {"address": "USDCMint", "symbol": "USDC"}
		},
		{
			"chainId": "ethereum",
			"dexId": "uniswap",
			"pairAddress": "PoolETH",
			"baseToken": {"address": "0xabc", "symbol": "AAA"},
			"quoteToken": {"address": "0xdef", "symbol": "WETH"},
			"priceNative": "0.5"
		}
	]
}`

func newDSClient(t *testing.T, handler http.HandlerFunc) *DexScreenerClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewDexScreenerClient(zap.NewNop(),
		WithDexScreenerBaseURL(server.URL),
		WithDexScreenerLimiter(ratelimit.NewUnlimited()))
}

func TestDexScreenerTokenPools(t *testing.T) {
	client := newDSClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokens/MintAAA", r.URL.Path)
		_, _ = w.Write([]byte(dsTokenPayload))
	})

	quotes, err := client.TokenPools(context.Background(), "MintAAA")
	require.NoError(t, err)
	require.Len(t, quotes, 2, "non-solana pairs are dropped")

	first := quotes[0]
	assert.Equal(t, "PoolAAA", first.PoolAddress)
	assert.Equal(t, "raydium", first.DexID)
	require.NotNil(t, first.PriceNative)
	assert.InDelta(t, 0.000123, *first.PriceNative, 1e-12)
	require.NotNil(t, first.PriceUSD)
	assert.InDelta(t, 0.0185, *first.PriceUSD, 1e-12)
	assert.InDelta(t, 54000.5, first.LiquidityUSD, 1e-9)
	assert.False(t, first.CreatedAt.IsZero())

	// The second pair omits every optional field; that must surface as
	// nil prices, never as zeros.
	second := quotes[1]
	assert.Nil(t, second.PriceNative)
	assert.Nil(t, second.PriceUSD)
	assert.Zero(t, second.LiquidityUSD)
}

func TestDexScreenerRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	client := newDSClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(dsTokenPayload))
	})

	quotes, err := client.TokenPools(context.Background(), "MintAAA")
	require.NoError(t, err)
	assert.NotEmpty(t, quotes)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDexScreenerRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newDSClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(dsTokenPayload))
	})

	quotes, err := client.TokenPools(context.Background(), "MintAAA")
	require.NoError(t, err, "one 503 must not kill the lookup")
	assert.NotEmpty(t, quotes)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDexScreenerFailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	client := newDSClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.TokenPools(context.Background(), "MintAAA")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not retry")
}

func TestDexScreenerPairPrice(t *testing.T) {
	client := newDSClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pairs/solana/PoolAAA", r.URL.Path)
		_, _ = w.Write([]byte(dsTokenPayload))
	})

	quote, err := client.PairPrice(context.Background(), "PoolAAA")
	require.NoError(t, err)
	assert.Equal(t, "PoolAAA", quote.PoolAddress)
	assert.Equal(t, SourceDexScreener, quote.Source)
}

func TestDexScreenerPairNotFound(t *testing.T) {
	client := newDSClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":[]}`))
	})

	_, err := client.PairPrice(context.Background(), "Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRateLimiterSpacesRequests(t *testing.T) {
	mock := clock.NewMock()
	limiter := ratelimit.New(60, ratelimit.Per(time.Minute),
		ratelimit.WithoutSlack, ratelimit.WithClock(mock))

	times := make(chan time.Time)
	go func() {
		for i := 0; i < 3; i++ {
			times <- limiter.Take()
		}
	}()

	var got []time.Time
	for len(got) < 3 {
		select {
		case ts := <-times:
			got = append(got, ts)
		default:
			mock.Add(50 * time.Millisecond)
			runtime.Gosched()
		}
	}

	// 60 per minute means one second between permits.
	assert.GreaterOrEqual(t, got[1].Sub(got[0]), time.Second)
	assert.GreaterOrEqual(t, got[2].Sub(got[0]), 2*time.Second)
}
