// internal/storage/models/pool.go
package models

import "time"

// PoolRecord caches decoded pool layout and the last observed price so the
// bot can resume pricing a pool without re-deriving its structure.
type PoolRecord struct {
	BaseModel
	PoolID        string `gorm:"uniqueIndex;not null;type:varchar(44)"`
	Protocol      string `gorm:"not null;type:varchar(32)"`
	ProgramID     string `gorm:"not null;type:varchar(44)"`
	BaseMint      string `gorm:"index;not null;type:varchar(44)"`
	QuoteMint     string `gorm:"index;not null;type:varchar(44)"`
	BaseVault     string `gorm:"type:varchar(44)"`
	QuoteVault    string `gorm:"type:varchar(44)"`
	BaseDecimals  uint8
	QuoteDecimals uint8
	FeeRate       float64   `gorm:"type:decimal(10,8)"`
	LastPrice     float64   `gorm:"type:decimal(30,18)"`
	LastSlot      uint64    `gorm:"not null;default:0"`
	LastSeen      time.Time `gorm:"index;not null"`
}
