package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"autotrader/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestOrderRepositorySearch(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB}

	createdAt := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	orders := []model.TradingOrder{
		{ID: 1, UserID: 1, APIKeyID: 1, Symbol: "BTCUSDT", Side: model.SideBuy, CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: 2, UserID: 1, APIKeyID: 2, Symbol: "ETHUSDT", Side: model.SideSell, CreatedAt: createdAt.Add(24 * time.Hour), UpdatedAt: createdAt.Add(24 * time.Hour)},
	}

	orderRows := func(returned ...model.TradingOrder) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{"id", "user_id", "api_key_id", "symbol", "side", "created_at", "updated_at"})
		for _, order := range returned {
			rows.AddRow(order.ID, order.UserID, order.APIKeyID, order.Symbol, order.Side, order.CreatedAt, order.UpdatedAt)
		}
		return rows
	}

	t.Run("filters by user", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trading_orders" WHERE user_id = $1 ORDER BY created_at DESC, id DESC`)).
			WithArgs(uint(1)).
			WillReturnRows(orderRows(orders[1], orders[0]))

		results, err := repo.Search(context.Background(), OrderSearchOptions{UserID: ptrUint(1)})
		if err != nil {
			t.Fatalf("unexpected error searching orders: %v", err)
		}

		if len(results) != 2 {
			t.Fatalf("expected 2 orders for user 1, got %d", len(results))
		}

		if results[0].Symbol != "ETHUSDT" || results[1].Symbol != "BTCUSDT" {
			t.Fatalf("orders not returned in expected order: %+v", results)
		}
	})

	t.Run("filters by api key and side", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trading_orders" WHERE api_key_id = $1 AND side = $2 ORDER BY created_at DESC, id DESC`)).
			WithArgs(uint(1), model.SideBuy).
			WillReturnRows(orderRows(orders[0]))

		results, err := repo.Search(context.Background(), OrderSearchOptions{APIKeyID: ptrUint(1), Side: ptrString(model.SideBuy)})
		if err != nil {
			t.Fatalf("unexpected error searching orders: %v", err)
		}

		if len(results) != 1 || results[0].Symbol != "BTCUSDT" {
			t.Fatalf("unexpected orders returned: %+v", results)
		}
	})

	t.Run("filters by symbol and created window", func(t *testing.T) {
		filters := OrderSearchOptions{
			UserID:        ptrUint(1),
			Symbol:        ptrString("ETHUSDT"),
			CreatedAfter:  ptrTime(createdAt.Add(-time.Hour)),
			CreatedBefore: ptrTime(createdAt.Add(36 * time.Hour)),
		}

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trading_orders" WHERE user_id = $1 AND symbol = $2 AND created_at >= $3 AND created_at <= $4 ORDER BY created_at DESC, id DESC`)).
			WithArgs(uint(1), *filters.Symbol, *filters.CreatedAfter, *filters.CreatedBefore).
			WillReturnRows(orderRows(orders[1]))

		results, err := repo.Search(context.Background(), filters)
		if err != nil {
			t.Fatalf("unexpected error searching orders: %v", err)
		}

		if len(results) != 1 || results[0].Symbol != "ETHUSDT" {
			t.Fatalf("unexpected orders returned: %+v", results)
		}
	})

	t.Run("applies pagination", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trading_orders" WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`)).
			WithArgs(uint(1), 1, 1).
			WillReturnRows(orderRows(orders[0]))

		results, err := repo.Search(context.Background(), OrderSearchOptions{UserID: ptrUint(1), Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("unexpected error searching orders: %v", err)
		}

		if len(results) != 1 {
			t.Fatalf("expected 1 order for pagination, got %d", len(results))
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestOrderRepositorySumPositivePnlQuery(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB}

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(pnl_usdt\), 0\) FROM "trading_orders" WHERE api_key_id = \$1 AND side = \$2 AND status = \$3 AND pnl_usdt > 0`).
		WithArgs(uint(7), model.SideSell, model.OrderStatusFilled).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("42.5"))

	total, err := repo.SumPositivePnl(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !total.Equal(decimal.RequireFromString("42.5")) {
		t.Fatalf("expected 42.5, got %s", total)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func ptrString(val string) *string {
	return &val
}

func ptrTime(val time.Time) *time.Time {
	return &val
}

func ptrUint(val uint) *uint {
	return &val
}

func ptrFloat(val float64) *float64 {
	return &val
}
