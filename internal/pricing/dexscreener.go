// internal/pricing/dexscreener.go
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const (
	dexScreenerBaseURL = "https://api.dexscreener.com/latest/dex"
	solanaChainID      = "solana"

	// Documented DexScreener quota for the pairs endpoints.
	dexScreenerRPM   = 60
	dexScreenerBurst = 2
)

// dsResponse mirrors the DexScreener response shape. Numeric prices arrive
// as strings and are sometimes absent entirely, so everything optional is a
// pointer and parsing is lenient.
type dsResponse struct {
	SchemaVersion string   `json:"schemaVersion"`
	Pairs         []dsPair `json:"pairs"`
}

type dsPair struct {
	ChainID       string       `json:"chainId"`
	DexID         string       `json:"dexId"`
	PairAddress   string       `json:"pairAddress"`
	BaseToken     dsToken      `json:"baseToken"`
	QuoteToken    dsToken      `json:"quoteToken"`
	PriceNative   *string      `json:"priceNative"`
	PriceUSD      *string      `json:"priceUsd"`
	Liquidity     *dsLiquidity `json:"liquidity"`
	PairCreatedAt int64        `json:"pairCreatedAt"`
}

type dsToken struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type dsLiquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// DexScreenerClient queries the DexScreener aggregator with client-side
// rate limiting. 429s and 5xx back off and retry; other non-200s fail
// fast.
type DexScreenerClient struct {
	baseURL string
	client  *http.Client
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

// DexScreenerOption customizes the client; used by tests to point at a
// local server and inject a mock clock.
type DexScreenerOption func(*DexScreenerClient)

func WithDexScreenerBaseURL(url string) DexScreenerOption {
	return func(c *DexScreenerClient) { c.baseURL = url }
}

func WithDexScreenerLimiter(l ratelimit.Limiter) DexScreenerOption {
	return func(c *DexScreenerClient) { c.limiter = l }
}

func NewDexScreenerClient(logger *zap.Logger, opts ...DexScreenerOption) *DexScreenerClient {
	c := &DexScreenerClient{
		baseURL: dexScreenerBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: ratelimit.New(dexScreenerRPM, ratelimit.Per(time.Minute), ratelimit.WithSlack(dexScreenerBurst)),
		logger:  logger.Named("dexscreener"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenPools returns every Solana pool DexScreener knows for the mint.
func (c *DexScreenerClient) TokenPools(ctx context.Context, mint string) ([]PoolQuote, error) {
	url := fmt.Sprintf("%s/tokens/%s", c.baseURL, mint)

	response, err := c.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dexscreener token pools for %s: %w", mint, err)
	}

	quotes := make([]PoolQuote, 0, len(response.Pairs))
	for i := range response.Pairs {
		pair := &response.Pairs[i]
		if pair.ChainID != solanaChainID {
			continue
		}
		quotes = append(quotes, pair.toQuote())
	}
	return quotes, nil
}

// PairPrice returns the quote for one specific pool address.
func (c *DexScreenerClient) PairPrice(ctx context.Context, pairAddress string) (*PoolQuote, error) {
	url := fmt.Sprintf("%s/pairs/%s/%s", c.baseURL, solanaChainID, pairAddress)

	response, err := c.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dexscreener pair %s: %w", pairAddress, err)
	}
	if len(response.Pairs) == 0 {
		return nil, fmt.Errorf("dexscreener pair not found: %s", pairAddress)
	}

	quote := response.Pairs[0].toQuote()
	return &quote, nil
}

func (p *dsPair) toQuote() PoolQuote {
	quote := PoolQuote{
		PoolAddress: p.PairAddress,
		DexID:       p.DexID,
		BaseMint:    p.BaseToken.Address,
		QuoteMint:   p.QuoteToken.Address,
		Source:      SourceDexScreener,
	}
	if p.PriceNative != nil {
		if v, err := strconv.ParseFloat(*p.PriceNative, 64); err == nil {
			quote.PriceNative = &v
		}
	}
	if p.PriceUSD != nil {
		if v, err := strconv.ParseFloat(*p.PriceUSD, 64); err == nil {
			quote.PriceUSD = &v
		}
	}
	if p.Liquidity != nil {
		quote.LiquidityUSD = p.Liquidity.USD
	}
	if p.PairCreatedAt > 0 {
		quote.CreatedAt = time.UnixMilli(p.PairCreatedAt).UTC()
	}
	return quote
}

// rateLimitedError marks a 429 so the backoff policy retries it.
type rateLimitedError struct{ status int }

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: status %d", e.status)
}

func (c *DexScreenerClient) doRequest(ctx context.Context, url string) (*dsResponse, error) {
	operation := func() (*dsResponse, error) {
		c.limiter.Take()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &rateLimitedError{status: resp.StatusCode}
		}
		// 5xx is an upstream hiccup, retried like a 429; other non-200s
		// are the caller's problem and never get better on retry.
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("server error: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, backoff.Permanent(fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
		}

		var response dsResponse
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return &response, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("dexscreener retry",
			zap.String("url", url),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(4),
		backoff.WithNotify(notify))
}
