// internal/watchlist/watchlist.go
package watchlist

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solana-pricebot/internal/pricing"
)

// Loader reads watchlist entries from CSV files.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logger.Named("watchlist")}
}

// Load reads entries from a CSV file.
// CSV format: mint,pool,program_id,priority
// pool and program_id may be blank; a blank pool is resolved from persisted
// pool records and a blank program_id from the pool account's owner.
// priority defaults to 0.
func (l *Loader) Load(path string) ([]pricing.WatchEntry, error) {
	l.logger.Debug("Loading watchlist", zap.String("path", path))

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file error: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read CSV error: %w", err)
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("no watchlist entries found (need header + at least one row)")
	}

	entries := make([]pricing.WatchEntry, 0, len(records)-1)

	for i, row := range records[1:] {
		if len(row) < 2 {
			l.logger.Warn("Skipping row with insufficient columns",
				zap.Int("row", i+2),
				zap.Int("columns", len(row)))
			continue
		}

		mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(row[0]))
		if err != nil {
			l.logger.Warn("Invalid mint address", zap.String("value", row[0]), zap.Error(err))
			continue
		}

		// A blank pool is allowed; the manager resolves it from persisted
		// pool records.
		var pool solana.PublicKey
		if strings.TrimSpace(row[1]) != "" {
			pool, err = solana.PublicKeyFromBase58(strings.TrimSpace(row[1]))
			if err != nil {
				l.logger.Warn("Invalid pool address", zap.String("value", row[1]), zap.Error(err))
				continue
			}
		}

		var programID solana.PublicKey
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			programID, err = solana.PublicKeyFromBase58(strings.TrimSpace(row[2]))
			if err != nil {
				l.logger.Warn("Invalid program id, resolving from pool owner instead",
					zap.String("value", row[2]), zap.Error(err))
				programID = solana.PublicKey{}
			}
		}

		priority := 0
		if len(row) > 3 && strings.TrimSpace(row[3]) != "" {
			priority, err = strconv.Atoi(strings.TrimSpace(row[3]))
			if err != nil {
				l.logger.Warn("Invalid priority value", zap.String("value", row[3]), zap.Error(err))
				priority = 0
			}
		}

		entries = append(entries, pricing.WatchEntry{
			Mint:      mint,
			Pool:      pool,
			ProgramID: programID,
			Priority:  priority,
		})
	}

	l.logger.Info("Loaded watchlist", zap.Int("count", len(entries)))
	return entries, nil
}
