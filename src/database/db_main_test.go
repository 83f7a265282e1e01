package database

import (
	"testing"

	"autotrader/src/database/migrations"
	"autotrader/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openSQLite(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := Open(Config{Driver: DriverSQLite, GormLogLevel: 1, MaxOpenConns: 1, MaxIdleConns: 1},
		"file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"}, "")
	require.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openSQLite(t, "migrate_idempotent")

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	assert.True(t, db.Migrator().HasIndex(&model.TradingOrder{}, migrations.OpenBuyIndexName))
	assert.True(t, db.Migrator().HasIndex(&model.TradingOrder{}, migrations.OpenSellIndexName))

	var applied int64
	require.NoError(t, db.Model(&migrations.DataMigration{}).Count(&applied).Error)
	assert.EqualValues(t, 3, applied)
}

func TestMigrateCopiesLegacyAssetColumns(t *testing.T) {
	db := openSQLite(t, "migrate_legacy_assets")

	require.NoError(t, db.AutoMigrate(&model.TradingAPIKey{}))
	require.NoError(t, db.Exec("ALTER TABLE trading_api_keys ADD COLUMN btc_4h_mainnet_enabled boolean").Error)
	require.NoError(t, db.Exec("ALTER TABLE trading_api_keys ADD COLUMN btc_4h_mainnet_allocated_usdt real").Error)
	require.NoError(t, db.Exec("ALTER TABLE trading_api_keys ADD COLUMN eth_mainnet_enabled boolean").Error)

	key := model.TradingAPIKey{UserID: 1, Name: "legacy", IsActive: true, MaxPositionSizeUSDT: 100}
	require.NoError(t, db.Create(&key).Error)
	require.NoError(t, db.Exec(
		"UPDATE trading_api_keys SET btc_4h_mainnet_enabled = ?, btc_4h_mainnet_allocated_usdt = ?, eth_mainnet_enabled = ? WHERE id = ?",
		true, 30.0, false, key.ID,
	).Error)

	require.NoError(t, Migrate(db))

	var loaded model.TradingAPIKey
	require.NoError(t, db.Preload("Assets").First(&loaded, key.ID).Error)
	assert.Len(t, loaded.Assets, 2)
	assert.True(t, loaded.AssetEnabled("BTC"))
	assert.Equal(t, 30.0, loaded.AllocationFor("BTC"))
	assert.False(t, loaded.AssetEnabled("ETH"))
	assert.Equal(t, 100.0, loaded.AllocationFor("ETH"))
}
