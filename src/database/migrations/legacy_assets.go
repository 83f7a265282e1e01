package migrations

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// legacyAssetColumns lists the per-asset flag and allocation columns that
// older schemas stored directly on trading_api_keys.
var legacyAssetColumns = []struct {
	Asset      string
	Enabled    string
	Allocation string
}{
	{Asset: "BTC", Enabled: "btc_4h_mainnet_enabled", Allocation: "btc_4h_mainnet_allocated_usdt"},
	{Asset: "ETH", Enabled: "eth_mainnet_enabled", Allocation: "eth_mainnet_allocated_usdt"},
	{Asset: "BNB", Enabled: "bnb_mainnet_enabled", Allocation: "bnb_mainnet_allocated_usdt"},
	{Asset: "PAXG", Enabled: "paxg_4h_mainnet_enabled", Allocation: "paxg_4h_mainnet_allocated_usdt"},
}

type legacyAssetRow struct {
	ID        uint
	Enabled   *bool
	Allocated *float64
}

type assetRow struct {
	APIKeyID      uint     `gorm:"column:api_key_id"`
	Asset         string   `gorm:"column:asset"`
	Enabled       bool     `gorm:"column:enabled"`
	AllocatedUSDT *float64 `gorm:"column:allocated_usdt"`
}

func (assetRow) TableName() string { return "trading_api_key_assets" }

// migrateLegacyAssetFlags copies legacy per-asset columns into
// trading_api_key_assets rows. Schemas without those columns are a no-op.
func migrateLegacyAssetFlags(db *gorm.DB) error {
	m := db.Migrator()
	for _, col := range legacyAssetColumns {
		if !m.HasColumn("trading_api_keys", col.Enabled) {
			continue
		}

		selectCols := "id, " + col.Enabled + " AS enabled"
		if m.HasColumn("trading_api_keys", col.Allocation) {
			selectCols += ", " + col.Allocation + " AS allocated"
		}

		var rows []legacyAssetRow
		if err := db.Table("trading_api_keys").Select(selectCols).Scan(&rows).Error; err != nil {
			return fmt.Errorf("read legacy %s columns: %w", col.Asset, err)
		}

		for _, r := range rows {
			rec := assetRow{
				APIKeyID:      r.ID,
				Asset:         col.Asset,
				Enabled:       r.Enabled != nil && *r.Enabled,
				AllocatedUSDT: r.Allocated,
			}
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
				return fmt.Errorf("insert %s asset for api key %d: %w", col.Asset, r.ID, err)
			}
		}
	}
	return nil
}
