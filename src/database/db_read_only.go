package database

import (
	"fmt"

	"autotrader/src/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReadOnlyDB serves order history queries. The database user for this
// connection should have SELECT-only permissions. When no read-only URL is
// configured it points at MainDB.
var ReadOnlyDB *gorm.DB

// InitReadOnlyDB initializes the read-only connection. It does not run
// migrations; it checks that trading_orders is reachable.
func InitReadOnlyDB() error {
	config := GetConfig()
	if config.DatabaseURLReadOnly == "" {
		ReadOnlyDB = MainDB
		logrus.Info("[ReadOnlyDB] no read-only url configured, reusing MainDB")
		return nil
	}

	db, err := Open(config, config.DatabaseURLReadOnly)
	if err != nil {
		return fmt.Errorf("failed to connect to read-only database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from ReadOnlyDB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping ReadOnlyDB: %w", err)
	}

	var count int64
	if err := db.Model(&model.TradingOrder{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to access trading_orders: %w", err)
	}

	logrus.WithField("count", count).Info("[ReadOnlyDB] trading_orders reachable")

	ReadOnlyDB = db
	return nil
}

// Reader returns the read-only connection when initialized, else MainDB.
func Reader() *gorm.DB {
	if ReadOnlyDB != nil {
		return ReadOnlyDB
	}
	return MainDB
}
