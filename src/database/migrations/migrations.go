package migrations

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DataMigration tracks executed data migrations.
// Table name is fixed to avoid collisions with other models.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

func ensureDataMigrationsTable(db *gorm.DB) error {
	return db.AutoMigrate(&DataMigration{})
}

// RunOnce runs fn only if migrationID was not executed before.
// It records the migration as executed only after fn succeeds, in the same
// transaction, so Run can drive the partial unique indexes on
// trading_orders and the legacy asset flag copy on every start.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	if db == nil {
		return nil
	}
	if migrationID == "" {
		return fmt.Errorf("migration id is empty")
	}
	if fn == nil {
		return fmt.Errorf("migration %q has nil fn", migrationID)
	}

	if err := ensureDataMigrationsTable(db); err != nil {
		return fmt.Errorf("ensure data migrations table: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var m DataMigration
		err := tx.First(&m, "id = ?", migrationID).Error
		if err == nil {
			// already applied
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}

		rec := DataMigration{
			ID:        migrationID,
			AppliedAt: time.Now().UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}

		return nil
	})
}

// Run executes all data migrations that go beyond schema auto-migrations:
//
//	00001 one PENDING or FILLED BUY per (api_key_id, symbol)
//	00002 legacy per-asset columns copied into trading_api_key_assets
//	00003 one PENDING or FILLED SELL per closed BUY
//
// Append new migrations at the bottom with a stable unique id.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	if err := RunOnce(db, "00001_unique_open_buy_per_symbol", createOpenBuyIndex); err != nil {
		return err
	}

	if err := RunOnce(db, "00002_legacy_asset_flags_to_assets", migrateLegacyAssetFlags); err != nil {
		return err
	}

	if err := RunOnce(db, "00003_unique_open_sell_per_buy", createOpenSellIndex); err != nil {
		return err
	}

	return nil
}

// OpenBuyIndexName is the partial unique index guaranteeing at most one
// non-closed BUY per (api_key_id, symbol).
const OpenBuyIndexName = "idx_trading_orders_open_buy"

func createOpenBuyIndex(db *gorm.DB) error {
	return db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS " + OpenBuyIndexName +
			" ON trading_orders (api_key_id, symbol)" +
			" WHERE side = 'BUY' AND status IN ('PENDING', 'FILLED')",
	).Error
}

// OpenSellIndexName is the partial unique index allowing a single
// non-rejected SELL per BUY, so a position can only be sold once.
const OpenSellIndexName = "idx_trading_orders_open_sell"

func createOpenSellIndex(db *gorm.DB) error {
	return db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS " + OpenSellIndexName +
			" ON trading_orders (buy_order_id)" +
			" WHERE side = 'SELL' AND status IN ('PENDING', 'FILLED')",
	).Error
}
