// internal/positions/book.go
package positions

import (
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Book tracks which token mints currently have open positions. The
// blacklist consults it before banning a token: a token we hold must stay
// priceable no matter how broken its pools look, or the exit path goes
// blind.
type Book struct {
	mu     sync.RWMutex
	open   map[solana.PublicKey]int
	logger *zap.Logger
}

func NewBook(logger *zap.Logger) *Book {
	return &Book{
		open:   make(map[solana.PublicKey]int),
		logger: logger.Named("positions"),
	}
}

// Open registers a new position in mint.
func (b *Book) Open(mint solana.PublicKey) {
	b.mu.Lock()
	b.open[mint]++
	count := b.open[mint]
	b.mu.Unlock()
	b.logger.Info("position opened",
		zap.String("mint", mint.String()),
		zap.Int("open_count", count))
}

// Close unregisters one position in mint.
func (b *Book) Close(mint solana.PublicKey) {
	b.mu.Lock()
	if b.open[mint] > 0 {
		b.open[mint]--
	}
	if b.open[mint] == 0 {
		delete(b.open, mint)
	}
	count := b.open[mint]
	b.mu.Unlock()
	b.logger.Info("position closed",
		zap.String("mint", mint.String()),
		zap.Int("open_count", count))
}

// HasOpenPosition reports whether any position in mint is open.
func (b *Book) HasOpenPosition(mint solana.PublicKey) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.open[mint] > 0
}

// OpenMints lists every mint with at least one open position.
func (b *Book) OpenMints() []solana.PublicKey {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]solana.PublicKey, 0, len(b.open))
	for mint := range b.open {
		out = append(out, mint)
	}
	return out
}

func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.open)
}
