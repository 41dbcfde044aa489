// internal/rpc/client.go
package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// AccountInfo is the subset of on-chain account state the pricing pipeline
// needs. A nil *AccountInfo in a result slice means the account does not
// exist at the queried commitment.
type AccountInfo struct {
	Data     []byte
	Lamports uint64
	Owner    solana.PublicKey
}

// MultipleAccountsResult pairs the fetched accounts with the slot the node
// answered at. Accounts is index-aligned with the request keys.
type MultipleAccountsResult struct {
	Slot     uint64
	Accounts []*AccountInfo
}

// AccountsClient is the narrow surface the account fetcher depends on.
type AccountsClient interface {
	GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) (*MultipleAccountsResult, error)
}

// Client is a thin adapter over solana-go with request rate limiting.
type Client struct {
	rpc     *solrpc.Client
	logger  *zap.Logger
	limiter ratelimit.Limiter
	timeout time.Duration
}

// Options configures the RPC adapter.
type Options struct {
	// RequestsPerSecond caps outgoing RPC calls; public endpoints ban
	// clients that burst past their quota.
	RequestsPerSecond int
	// Burst is the slack the limiter allows after idle periods.
	Burst int
	// Timeout bounds every individual RPC call.
	Timeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		RequestsPerSecond: 10,
		Burst:             5,
		Timeout:           10 * time.Second,
	}
}

func NewClient(rpcURL string, opts Options, logger *zap.Logger) *Client {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultOptions().RequestsPerSecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Client{
		rpc:     solrpc.New(rpcURL),
		logger:  logger.Named("rpc-client"),
		limiter: ratelimit.New(opts.RequestsPerSecond, ratelimit.WithSlack(opts.Burst)),
		timeout: opts.Timeout,
	}
}

// GetMultipleAccounts fetches up to 100 accounts in one call. The caller is
// responsible for chunking; the node rejects larger batches.
func (c *Client) GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) (*MultipleAccountsResult, error) {
	if len(pubkeys) == 0 {
		return &MultipleAccountsResult{}, nil
	}

	c.limiter.Take()
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.rpc.GetMultipleAccountsWithOpts(cctx, pubkeys, &solrpc.GetMultipleAccountsOpts{
		Commitment: solrpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
	})
	if err != nil {
		c.logger.Debug("GetMultipleAccounts error",
			zap.Int("batch_size", len(pubkeys)),
			zap.Error(err))
		return nil, fmt.Errorf("getMultipleAccounts (%d keys): %w", len(pubkeys), err)
	}

	out := &MultipleAccountsResult{
		Slot:     res.Context.Slot,
		Accounts: make([]*AccountInfo, len(pubkeys)),
	}
	for i, info := range res.Value {
		if info == nil {
			continue
		}
		out.Accounts[i] = &AccountInfo{
			Data:     info.Data.GetBinary(),
			Lamports: info.Lamports,
			Owner:    info.Owner,
		}
	}
	return out, nil
}

// GetSlot returns the current confirmed slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	c.limiter.Take()
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	slot, err := c.rpc.GetSlot(cctx, solrpc.CommitmentConfirmed)
	if err != nil {
		c.logger.Debug("GetSlot error", zap.Error(err))
		return 0, fmt.Errorf("getSlot: %w", err)
	}
	return slot, nil
}
