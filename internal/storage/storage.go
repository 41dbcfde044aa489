// internal/storage/storage.go
package storage

import (
	"context"

	"solana-pricebot/internal/storage/models"
)

// Storage is the persistence surface for the pricing pipeline.
type Storage interface {
	// Blacklist
	SaveBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) error
	DeleteBlacklistEntry(ctx context.Context, poolID string) error
	ListBlacklistEntries(ctx context.Context) ([]*models.BlacklistEntry, error)

	// Pools
	SavePoolRecord(ctx context.Context, record *models.PoolRecord) error
	GetPoolRecord(ctx context.Context, poolID string) (*models.PoolRecord, error)
	ListPoolRecordsByToken(ctx context.Context, mint string) ([]*models.PoolRecord, error)

	RunMigrations() error
	Close() error
}
