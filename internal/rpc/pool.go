// internal/rpc/pool.go
package rpc

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Pool rotates account fetches across several RPC endpoints so one rate
// limit does not stall the whole pipeline.
type Pool struct {
	clients []*Client
	logger  *zap.Logger

	mu    sync.Mutex
	index int
}

var _ AccountsClient = (*Pool)(nil)

func NewPool(rpcURLs []string, opts Options, logger *zap.Logger) *Pool {
	clients := make([]*Client, 0, len(rpcURLs))
	for _, url := range rpcURLs {
		clients = append(clients, NewClient(url, opts, logger))
	}
	return &Pool{
		clients: clients,
		logger:  logger.Named("rpc-pool"),
	}
}

// next returns the next client in round-robin order.
func (p *Pool) next() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	client := p.clients[p.index]
	p.index = (p.index + 1) % len(p.clients)
	return client
}

func (p *Pool) GetMultipleAccounts(ctx context.Context, addresses []solana.PublicKey) (*MultipleAccountsResult, error) {
	client := p.next()
	result, err := client.GetMultipleAccounts(ctx, addresses)
	if err != nil && len(p.clients) > 1 {
		// One failover attempt on the next endpoint; the fetcher's own
		// retry loop covers the rest.
		p.logger.Warn("endpoint failed, trying next",
			zap.Int("accounts", len(addresses)),
			zap.Error(err))
		return p.next().GetMultipleAccounts(ctx, addresses)
	}
	return result, err
}

func (p *Pool) GetSlot(ctx context.Context) (uint64, error) {
	return p.next().GetSlot(ctx)
}
