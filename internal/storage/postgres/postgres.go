// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"solana-pricebot/internal/storage"
	"solana-pricebot/internal/storage/models"
)

// migrationLockID is the pg advisory lock key guarding AutoMigrate.
const migrationLockID = 4217

// gormLogger adapts zap to GORM's logger.Interface.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	gormLogger := newGormLogger(zapLogger.Named("gorm"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger,
	}, nil
}

func (p *postgresStorage) RunMigrations() error {
	var lockObtained bool
	err := p.db.Raw("SELECT pg_try_advisory_lock(?)", migrationLockID).Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(?)", migrationLockID)

	err = p.db.AutoMigrate(
		&models.BlacklistEntry{},
		&models.PoolRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (p *postgresStorage) SaveBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pool_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"token_mint", "scope", "reason", "detail", "missing_accounts",
			"retry_count", "last_seen", "updated_at",
		}),
	}).Create(entry).Error
}

func (p *postgresStorage) DeleteBlacklistEntry(ctx context.Context, poolID string) error {
	return p.db.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Delete(&models.BlacklistEntry{}).Error
}

func (p *postgresStorage) ListBlacklistEntries(ctx context.Context) ([]*models.BlacklistEntry, error) {
	var entries []*models.BlacklistEntry
	err := p.db.WithContext(ctx).Find(&entries).Error
	return entries, err
}

func (p *postgresStorage) SavePoolRecord(ctx context.Context, record *models.PoolRecord) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pool_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"protocol", "program_id", "base_mint", "quote_mint",
			"base_vault", "quote_vault", "base_decimals", "quote_decimals",
			"fee_rate", "last_price", "last_slot", "last_seen", "updated_at",
		}),
	}).Create(record).Error
}

func (p *postgresStorage) GetPoolRecord(ctx context.Context, poolID string) (*models.PoolRecord, error) {
	var record models.PoolRecord
	err := p.db.WithContext(ctx).Where("pool_id = ?", poolID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (p *postgresStorage) ListPoolRecordsByToken(ctx context.Context, mint string) ([]*models.PoolRecord, error) {
	var records []*models.PoolRecord
	err := p.db.WithContext(ctx).
		Where("base_mint = ? OR quote_mint = ?", mint, mint).
		Order("last_seen desc").
		Find(&records).Error
	return records, err
}

func (p *postgresStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
