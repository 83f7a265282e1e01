package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"autotrader/src/database"
	"autotrader/src/model"
)

// ErrNotPending is returned when a terminal transition targets an order that
// already left PENDING.
var ErrNotPending = errors.New("order is not pending")

// OrderRepository handles read/write operations for trading orders and their logs.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with MainDB")

	return &OrderRepository{
		db: database.MainDB,
	}
}

// NewReadOnlyOrderRepository serves order history from ReadOnlyDB.
func NewReadOnlyOrderRepository() *OrderRepository {
	return &OrderRepository{db: database.ReadOnlyDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// openSellAfterBuy matches a FILLED SELL on the same account and symbol placed
// after the outer BUY row.
const openSellAfterBuy = `NOT EXISTS (SELECT 1 FROM trading_orders s
	WHERE s.api_key_id = trading_orders.api_key_id
	AND s.symbol = trading_orders.symbol
	AND s.side = 'SELL' AND s.status = 'FILLED'
	AND s.created_at > trading_orders.created_at)`

// CreateOrder inserts a PENDING order and its first log entry.
func (r *OrderRepository) CreateOrder(ctx context.Context, order *model.TradingOrder) error {
	fields := map[string]interface{}{
		"repo":       "OrderRepository",
		"op":         "CreateOrder",
		"api_key_id": order.APIKeyID,
		"symbol":     order.Symbol,
		"side":       order.Side,
		"qty":        order.Quantity,
	}
	logger.WithFields(fields).Debug("Creating new order")

	if order.Status == "" {
		order.Status = model.OrderStatusPending
	}
	if order.OrderType == "" {
		order.OrderType = model.OrderTypeMarket
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Logs").Create(order).Error; err != nil {
			return err
		}
		entry := model.NewOrderLog(order, "created")
		return tx.Create(&entry).Error
	})
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to create order")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "CreateOrder",
		"order_id": order.ID,
	}).Info("Order created successfully")

	return nil
}

// UpdateOrderStatus moves a PENDING order to a terminal status and writes the
// execution fields. A log entry is written in the same transaction. A FILLED
// SELL also completes the BUY it closes, which frees the open-BUY slot even
// when RecordClose never runs.
func (r *OrderRepository) UpdateOrderStatus(
	ctx context.Context,
	orderID uint,
	status string,
	exec *model.OrderExecution,
) error {
	updates := map[string]interface{}{"status": status}
	message := status
	if exec != nil {
		if exec.ExchangeOrderID != "" {
			updates["binance_order_id"] = exec.ExchangeOrderID
		}
		if exec.ClientOrderID != "" {
			updates["client_order_id"] = exec.ClientOrderID
		}
		if exec.ExecutedPrice != nil {
			updates["executed_price"] = *exec.ExecutedPrice
		}
		if exec.ExecutedQuantity != nil {
			updates["executed_quantity"] = *exec.ExecutedQuantity
		}
		if exec.Commission != nil {
			updates["commission"] = *exec.Commission
		}
		if exec.CommissionAsset != "" {
			updates["commission_asset"] = exec.CommissionAsset
		}
		if exec.ExecutedAt != nil {
			updates["executed_at"] = *exec.ExecutedAt
		}
		if exec.FailureReason != "" {
			updates["failure_reason"] = exec.FailureReason
			message = exec.FailureReason
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.TradingOrder{}).
			Where("id = ? AND status = ?", orderID, model.OrderStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("order %d: %w", orderID, ErrNotPending)
		}

		var order model.TradingOrder
		if err := tx.First(&order, orderID).Error; err != nil {
			return err
		}
		entry := model.NewOrderLog(&order, message)
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		if status == model.OrderStatusFilled && order.Side == model.SideSell && order.BuyOrderID != nil {
			return completeBuy(tx, &order)
		}
		return nil
	})

	fields := map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "UpdateOrderStatus",
		"order_id": orderID,
		"status":   status,
	}
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to update order status")
		return err
	}

	logger.WithFields(fields).Info("Order status updated")
	return nil
}

// RecordClose stores the realized PnL on the SELL and completes the BUY it closed.
func (r *OrderRepository) RecordClose(
	ctx context.Context,
	sellOrderID uint,
	buyOrderID uint,
	pnlUSDT float64,
	pnlPercentage float64,
	reason string,
	closedAt time.Time,
) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.TradingOrder{}).
			Where("id = ?", sellOrderID).
			Updates(map[string]interface{}{
				"pnl_usdt":       pnlUSDT,
				"pnl_percentage": pnlPercentage,
				"close_reason":   reason,
			}).Error; err != nil {
			return err
		}

		res := tx.Model(&model.TradingOrder{}).
			Where("id = ? AND status = ?", buyOrderID, model.OrderStatusFilled).
			Updates(map[string]interface{}{
				"status":       model.OrderStatusCompleted,
				"close_reason": reason,
				"closed_at":    closedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// completed by the SELL fill, only the reason and close time change
			return tx.Model(&model.TradingOrder{}).
				Where("id = ? AND status = ?", buyOrderID, model.OrderStatusCompleted).
				Updates(map[string]interface{}{
					"close_reason": reason,
					"closed_at":    closedAt,
				}).Error
		}

		var buy model.TradingOrder
		if err := tx.First(&buy, buyOrderID).Error; err != nil {
			return err
		}
		entry := model.NewOrderLog(&buy, "closed: "+reason)
		return tx.Create(&entry).Error
	})

	fields := map[string]interface{}{
		"repo":          "OrderRepository",
		"op":            "RecordClose",
		"sell_order_id": sellOrderID,
		"buy_order_id":  buyOrderID,
		"pnl_usdt":      pnlUSDT,
	}
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to record position close")
		return err
	}

	logger.WithFields(fields).Info("Position closed")
	return nil
}

// completeBuy marks the BUY closed by a FILLED sell as COMPLETED inside tx.
func completeBuy(tx *gorm.DB, sell *model.TradingOrder) error {
	closedAt := time.Now().UTC()
	if sell.ExecutedAt != nil {
		closedAt = *sell.ExecutedAt
	}
	res := tx.Model(&model.TradingOrder{}).
		Where("id = ? AND side = ? AND status = ?", *sell.BuyOrderID, model.SideBuy, model.OrderStatusFilled).
		Updates(map[string]interface{}{
			"status":       model.OrderStatusCompleted,
			"close_reason": sell.Reason,
			"closed_at":    closedAt,
		})
	if res.Error != nil || res.RowsAffected == 0 {
		return res.Error
	}

	var buy model.TradingOrder
	if err := tx.First(&buy, *sell.BuyOrderID).Error; err != nil {
		return err
	}
	entry := model.NewOrderLog(&buy, "closed: "+sell.Reason)
	return tx.Create(&entry).Error
}

// FindByID fetches a single order by its primary ID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(ctx context.Context, id uint) (*model.TradingOrder, error) {
	var order model.TradingOrder

	err := r.db.WithContext(ctx).First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")

		return nil, err
	}

	return &order, nil
}

// GetOpenPosition returns the latest FILLED BUY for (apiKeyID, symbol) that
// has no later FILLED SELL. Returns (nil, nil) when there is none.
func (r *OrderRepository) GetOpenPosition(
	ctx context.Context,
	apiKeyID uint,
	symbol string,
) (*model.TradingOrder, error) {
	var buy model.TradingOrder

	err := r.db.WithContext(ctx).
		Where("api_key_id = ? AND symbol = ? AND side = ? AND status = ?",
			apiKeyID, symbol, model.SideBuy, model.OrderStatusFilled).
		Order("created_at DESC").
		First(&buy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":       "OrderRepository",
			"op":         "GetOpenPosition",
			"api_key_id": apiKeyID,
			"symbol":     symbol,
		}).WithError(err).Error("Failed to fetch latest filled buy")
		return nil, err
	}

	var sells int64
	err = r.db.WithContext(ctx).
		Model(&model.TradingOrder{}).
		Where("api_key_id = ? AND symbol = ? AND side = ? AND status = ? AND created_at > ?",
			apiKeyID, symbol, model.SideSell, model.OrderStatusFilled, buy.CreatedAt).
		Count(&sells).Error
	if err != nil {
		return nil, err
	}
	if sells > 0 {
		return nil, nil
	}

	return &buy, nil
}

// ListActivePositions returns every open position of the account across symbols.
func (r *OrderRepository) ListActivePositions(ctx context.Context, apiKeyID uint) ([]model.TradingOrder, error) {
	var orders []model.TradingOrder

	err := r.db.WithContext(ctx).
		Where("api_key_id = ? AND side = ? AND status = ?", apiKeyID, model.SideBuy, model.OrderStatusFilled).
		Where(openSellAfterBuy).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "OrderRepository",
			"op":         "ListActivePositions",
			"api_key_id": apiKeyID,
		}).WithError(err).Error("Failed to list active positions")
		return nil, err
	}

	return orders, nil
}

// ListOpenPositionsBySymbol returns the open positions of every account for
// one symbol. Used by the exit sweep.
func (r *OrderRepository) ListOpenPositionsBySymbol(ctx context.Context, symbol string) ([]model.TradingOrder, error) {
	var orders []model.TradingOrder

	err := r.db.WithContext(ctx).
		Where("symbol = ? AND side = ? AND status = ?", symbol, model.SideBuy, model.OrderStatusFilled).
		Where(openSellAfterBuy).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "ListOpenPositionsBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to list open positions")
		return nil, err
	}

	return orders, nil
}

// SumPositivePnl is the profit ledger: realized gains of the account's FILLED
// SELL orders. Losses are ignored.
func (r *OrderRepository) SumPositivePnl(ctx context.Context, apiKeyID uint) (decimal.Decimal, error) {
	var total decimal.Decimal

	err := r.db.WithContext(ctx).
		Model(&model.TradingOrder{}).
		Select("COALESCE(SUM(pnl_usdt), 0)").
		Where("api_key_id = ? AND side = ? AND status = ? AND pnl_usdt > 0",
			apiKeyID, model.SideSell, model.OrderStatusFilled).
		Row().
		Scan(&total)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "OrderRepository",
			"op":         "SumPositivePnl",
			"api_key_id": apiKeyID,
		}).WithError(err).Error("Failed to sum positive pnl")
		return decimal.Zero, err
	}

	return total, nil
}

// OrderSearchOptions defines the filters available when searching for orders.
type OrderSearchOptions struct {
	UserID        *uint
	APIKeyID      *uint
	Symbol        *string
	Side          *string
	Status        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// Search returns orders that match the provided filters ordered by newest first.
func (r *OrderRepository) Search(ctx context.Context, options OrderSearchOptions) ([]model.TradingOrder, error) {
	query := r.db.WithContext(ctx).Model(&model.TradingOrder{})

	if options.UserID != nil {
		query = query.Where("user_id = ?", *options.UserID)
	}
	if options.APIKeyID != nil {
		query = query.Where("api_key_id = ?", *options.APIKeyID)
	}
	if options.Symbol != nil {
		query = query.Where("symbol = ?", *options.Symbol)
	}
	if options.Side != nil {
		query = query.Where("side = ?", *options.Side)
	}
	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}
	if options.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *options.CreatedAfter)
	}
	if options.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *options.CreatedBefore)
	}

	query = query.Order("created_at DESC, id DESC")

	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}
	if options.Offset > 0 {
		query = query.Offset(options.Offset)
	}

	var orders []model.TradingOrder
	if err := query.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Search",
		}).WithError(err).Error("Failed to search orders")
		return nil, err
	}

	return orders, nil
}
