package model

import (
	"strings"
	"time"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MARKET"

	OrderStatusPending  = "PENDING"
	OrderStatusFilled   = "FILLED"
	OrderStatusRejected = "REJECTED"
	// OrderStatusCompleted marks a BUY whose position has been closed by a SELL.
	OrderStatusCompleted = "COMPLETED"

	CloseReasonTakeProfit = "TAKE_PROFIT"
	CloseReasonStopLoss   = "STOP_LOSS"
	CloseReasonMaxHold    = "MAX_HOLD"
	CloseReasonManual     = "MANUAL"

	DefaultEntryPattern = "U_PATTERN"

	QuoteAsset = "USDT"
)

// TradingOrder is one order sent (or about to be sent) to the exchange.
// A position is derived from these rows, it is never stored on its own.
type TradingOrder struct {
	ID       uint  `gorm:"primaryKey" json:"id"`
	UserID   uint  `gorm:"index" json:"user_id"`
	APIKeyID uint  `gorm:"index;not null" json:"api_key_id"`
	AlertID  *uint `gorm:"column:alerta_id;index" json:"alert_id,omitempty"`

	Symbol    string `gorm:"size:30;not null;index" json:"symbol"`
	Side      string `gorm:"size:10;not null" json:"side"`
	OrderType string `gorm:"size:20;not null;default:MARKET" json:"order_type"`

	// Requested size. BUY orders in quote mode leave Quantity at zero and
	// carry the USDT amount in QuoteQuantity.
	Quantity      float64  `gorm:"not null;default:0" json:"quantity"`
	QuoteQuantity *float64 `json:"quote_quantity,omitempty"`
	Price         *float64 `json:"price,omitempty"`

	Status        string `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	Reason        string `gorm:"size:50" json:"reason"`
	FailureReason string `gorm:"type:text" json:"failure_reason,omitempty"`

	ExchangeOrderID string `gorm:"column:binance_order_id;size:64" json:"exchange_order_id,omitempty"`
	ClientOrderID   string `gorm:"size:64" json:"client_order_id,omitempty"`

	ExecutedPrice    *float64 `json:"executed_price,omitempty"`
	ExecutedQuantity *float64 `json:"executed_quantity,omitempty"`
	Commission       *float64 `json:"commission,omitempty"`
	CommissionAsset  string   `gorm:"size:20" json:"commission_asset,omitempty"`

	PnlUSDT       *float64 `gorm:"column:pnl_usdt" json:"pnl_usdt,omitempty"`
	PnlPercentage *float64 `json:"pnl_percentage,omitempty"`

	Leverage      int      `gorm:"not null;default:1" json:"leverage"`
	MarginType    string   `gorm:"size:20" json:"margin_type,omitempty"`
	InitialMargin *float64 `json:"initial_margin,omitempty"`

	// SELL rows point back to the BUY they closed.
	BuyOrderID  *uint      `gorm:"index" json:"buy_order_id,omitempty"`
	CloseReason string     `gorm:"size:20" json:"close_reason,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`

	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

func (TradingOrder) TableName() string {
	return "trading_orders"
}

// EntryPrice is the executed price, falling back to the requested price.
func (o *TradingOrder) EntryPrice() float64 {
	if o.ExecutedPrice != nil && *o.ExecutedPrice > 0 {
		return *o.ExecutedPrice
	}
	if o.Price != nil {
		return *o.Price
	}
	return 0
}

// EntryQuantity is the executed quantity, falling back to the requested one.
func (o *TradingOrder) EntryQuantity() float64 {
	if o.ExecutedQuantity != nil && *o.ExecutedQuantity > 0 {
		return *o.ExecutedQuantity
	}
	return o.Quantity
}

// OpenedAt is when the position started counting hold time.
func (o *TradingOrder) OpenedAt() time.Time {
	if o.ExecutedAt != nil && !o.ExecutedAt.IsZero() {
		return *o.ExecutedAt
	}
	return o.CreatedAt
}

func (o *TradingOrder) BaseAsset() string {
	return BaseAssetOf(o.Symbol)
}

// BaseAssetOf strips the quote asset from a symbol: BTCUSDT -> BTC.
func BaseAssetOf(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), QuoteAsset)
}

// SymbolFor maps a scanner crypto name to its USDT pair: btc -> BTCUSDT.
func SymbolFor(crypto string) string {
	c := strings.ToUpper(strings.TrimSpace(crypto))
	if strings.HasSuffix(c, QuoteAsset) {
		return c
	}
	return c + QuoteAsset
}

// OrderExecution carries the fields written when an order reaches a
// terminal state.
type OrderExecution struct {
	ExchangeOrderID  string
	ClientOrderID    string
	ExecutedPrice    *float64
	ExecutedQuantity *float64
	Commission       *float64
	CommissionAsset  string
	ExecutedAt       *time.Time
	FailureReason    string
}
