// internal/pricing/geckoterminal.go
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
	geckoTerminalBaseURL = "https://api.geckoterminal.com/api/v2"
	geckoNetwork         = "solana"

	// Free-tier quota.
	geckoTerminalRPM = 30
)

// GeckoTerminal speaks JSON:API: resources under "data" with string
// attributes, relationships resolved against "included".
type gtPoolsResponse struct {
	Data     []gtResource `json:"data"`
	Included []gtResource `json:"included"`
}

type gtResource struct {
	ID            string                    `json:"id"`
	Type          string                    `json:"type"`
	Attributes    gtAttributes              `json:"attributes"`
	Relationships map[string]gtRelationship `json:"relationships"`
}

type gtAttributes struct {
	Address                string  `json:"address"`
	Name                   string  `json:"name"`
	Symbol                 string  `json:"symbol"`
	BaseTokenPriceNative   *string `json:"base_token_price_native_currency"`
	BaseTokenPriceUSD      *string `json:"base_token_price_usd"`
	QuoteTokenPriceNative  *string `json:"quote_token_price_native_currency"`
	ReserveInUSD           *string `json:"reserve_in_usd"`
	PoolCreatedAt          *string `json:"pool_created_at"`
	PriceInUSDForTokenPage *string `json:"price_usd"`
}

type gtRelationship struct {
	Data *gtRelData `json:"data"`
}

type gtRelData struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// GeckoTerminalClient is the secondary aggregator, consulted when
// DexScreener has no answer for a token.
type GeckoTerminalClient struct {
	baseURL string
	client  *http.Client
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

type GeckoTerminalOption func(*GeckoTerminalClient)

func WithGeckoTerminalBaseURL(url string) GeckoTerminalOption {
	return func(c *GeckoTerminalClient) { c.baseURL = url }
}

func WithGeckoTerminalLimiter(l ratelimit.Limiter) GeckoTerminalOption {
	return func(c *GeckoTerminalClient) { c.limiter = l }
}

func NewGeckoTerminalClient(logger *zap.Logger, opts ...GeckoTerminalOption) *GeckoTerminalClient {
	c := &GeckoTerminalClient{
		baseURL: geckoTerminalBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: ratelimit.New(geckoTerminalRPM, ratelimit.Per(time.Minute), ratelimit.WithSlack(5)),
		logger:  logger.Named("geckoterminal"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenPools returns the pools GeckoTerminal tracks for the mint, richest
// first (the API orders by reserve).
func (c *GeckoTerminalClient) TokenPools(ctx context.Context, mint string) ([]PoolQuote, error) {
	url := fmt.Sprintf("%s/networks/%s/tokens/%s/pools", c.baseURL, geckoNetwork, mint)

	response, err := c.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("geckoterminal token pools for %s: %w", mint, err)
	}

	// Relationship targets (token resources) are delivered in "included";
	// index them by id for mint resolution.
	tokens := make(map[string]string, len(response.Included))
	for _, inc := range response.Included {
		if inc.Type == "token" {
			tokens[inc.ID] = inc.Attributes.Address
		}
	}

	quotes := make([]PoolQuote, 0, len(response.Data))
	for i := range response.Data {
		res := &response.Data[i]
		if res.Type != "pool" {
			continue
		}

		quote := PoolQuote{
			PoolAddress: res.Attributes.Address,
			DexID:       relID(res.Relationships, "dex"),
			Source:      SourceGeckoTerminal,
		}
		if id := relID(res.Relationships, "base_token"); id != "" {
			quote.BaseMint = tokens[id]
		}
		if id := relID(res.Relationships, "quote_token"); id != "" {
			quote.QuoteMint = tokens[id]
		}
		if v, ok := parseOptFloat(res.Attributes.BaseTokenPriceNative); ok {
			quote.PriceNative = &v
		}
		if v, ok := parseOptFloat(res.Attributes.BaseTokenPriceUSD); ok {
			quote.PriceUSD = &v
		}
		if v, ok := parseOptFloat(res.Attributes.ReserveInUSD); ok {
			quote.LiquidityUSD = v
		}
		if res.Attributes.PoolCreatedAt != nil {
			if ts, err := time.Parse(time.RFC3339, *res.Attributes.PoolCreatedAt); err == nil {
				quote.CreatedAt = ts.UTC()
			}
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

func relID(rels map[string]gtRelationship, name string) string {
	rel, ok := rels[name]
	if !ok || rel.Data == nil {
		return ""
	}
	return rel.Data.ID
}

func parseOptFloat(s *string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *GeckoTerminalClient) doRequest(ctx context.Context, url string) (*gtPoolsResponse, error) {
	operation := func() (*gtPoolsResponse, error) {
		c.limiter.Take()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &rateLimitedError{status: resp.StatusCode}
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("server error: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, backoff.Permanent(fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
		}

		var response gtPoolsResponse
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return &response, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("geckoterminal retry",
			zap.String("url", url),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(3),
		backoff.WithNotify(notify))
}
