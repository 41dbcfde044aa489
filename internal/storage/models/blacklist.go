// internal/storage/models/blacklist.go
package models

import (
	"strings"
	"time"
)

// BlacklistEntry records a pool (and optionally its token) that the pricing
// pipeline must skip. Rows survive restarts; the in-memory blacklist is
// rebuilt from them on startup.
type BlacklistEntry struct {
	BaseModel
	PoolID    string `gorm:"uniqueIndex;not null;type:varchar(44)"`
	TokenMint string `gorm:"index;type:varchar(44)"`
	// Scope is "pool" for pool-level entries and "token" for token-wide
	// bans; token entries store the mint in both PoolID and TokenMint.
	Scope  string `gorm:"not null;default:pool;type:varchar(8)"`
	Reason string `gorm:"not null;type:varchar(64)"`
	Detail string `gorm:"type:text"`
	// MissingAccounts keeps the account addresses whose absence caused the
	// blacklisting, comma-separated for diagnostics.
	MissingAccounts string    `gorm:"type:text"`
	RetryCount      int       `gorm:"not null;default:0"`
	FirstSeen       time.Time `gorm:"not null"`
	LastSeen        time.Time `gorm:"index;not null"`
}

// SetMissingAccounts serializes the address list into the row.
func (e *BlacklistEntry) SetMissingAccounts(addrs []string) {
	e.MissingAccounts = strings.Join(addrs, ",")
}

// MissingAccountList deserializes the stored address list.
func (e *BlacklistEntry) MissingAccountList() []string {
	if e.MissingAccounts == "" {
		return nil
	}
	return strings.Split(e.MissingAccounts, ",")
}
