package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"autotrader/src/database"
	"autotrader/src/model"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newSQLiteDB opens a private in-memory database with the full schema.
func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := database.Open(database.Config{
		Driver:       database.DriverSQLite,
		GormLogLevel: 1,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func buyOrder(apiKeyID uint, symbol string, createdAt time.Time) *model.TradingOrder {
	return &model.TradingOrder{
		UserID:    1,
		APIKeyID:  apiKeyID,
		Symbol:    symbol,
		Side:      model.SideBuy,
		Reason:    model.DefaultEntryPattern,
		Leverage:  1,
		CreatedAt: createdAt,
	}
}

func sellOrder(apiKeyID uint, symbol string, createdAt time.Time) *model.TradingOrder {
	return &model.TradingOrder{
		UserID:    1,
		APIKeyID:  apiKeyID,
		Symbol:    symbol,
		Side:      model.SideSell,
		Quantity:  0.001,
		Leverage:  1,
		CreatedAt: createdAt,
	}
}

func filled(price, qty float64, at time.Time) *model.OrderExecution {
	return &model.OrderExecution{
		ExchangeOrderID:  "1",
		ExecutedPrice:    &price,
		ExecutedQuantity: &qty,
		ExecutedAt:       &at,
	}
}
