package model

import "time"

// Position is the view of an open FILLED BUY used by the exit rules.
type Position struct {
	OrderID         uint
	APIKeyID        uint
	Symbol          string
	EntryPrice      float64
	EntryQuantity   float64
	Commission      float64
	CommissionAsset string
	OpenedAt        time.Time
}

// PositionFromOrder derives the position view from its BUY order.
func PositionFromOrder(o *TradingOrder) Position {
	p := Position{
		OrderID:         o.ID,
		APIKeyID:        o.APIKeyID,
		Symbol:          o.Symbol,
		EntryPrice:      o.EntryPrice(),
		EntryQuantity:   o.EntryQuantity(),
		CommissionAsset: o.CommissionAsset,
		OpenedAt:        o.OpenedAt(),
	}
	if o.Commission != nil {
		p.Commission = *o.Commission
	}
	return p
}

func (p Position) BaseAsset() string {
	return BaseAssetOf(p.Symbol)
}

// Fill is one partial execution of a market order.
type Fill struct {
	Price           float64
	Quantity        float64
	Commission      float64
	CommissionAsset string
}

// ExecutionReport is the exchange's answer to a market order.
type ExecutionReport struct {
	ExchangeOrderID  string
	ClientOrderID    string
	Status           string
	ExecutedPrice    float64
	ExecutedQuantity float64
	Fills            []Fill
	TransactTime     time.Time
}

// FirstFillPrice returns the first fill price, else the average price, else
// fallback.
func (r *ExecutionReport) FirstFillPrice(fallback float64) float64 {
	if len(r.Fills) > 0 && r.Fills[0].Price > 0 {
		return r.Fills[0].Price
	}
	if r.ExecutedPrice > 0 {
		return r.ExecutedPrice
	}
	return fallback
}

// TotalCommission sums commission over all fills. The asset is taken from
// the last fill that reports one.
func (r *ExecutionReport) TotalCommission() (float64, string) {
	total := 0.0
	asset := ""
	for _, f := range r.Fills {
		total += f.Commission
		if f.CommissionAsset != "" {
			asset = f.CommissionAsset
		}
	}
	return total, asset
}

const (
	FillKindBuy  = "BUY_FILLED"
	FillKindSell = "SELL_FILLED"
)

// FillEvent is published after an order is FILLED.
type FillEvent struct {
	Kind       string    `json:"kind"`
	OrderID    uint      `json:"order_id"`
	UserID     uint      `json:"user_id"`
	APIKeyID   uint      `json:"api_key_id"`
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	TotalUSDT  float64   `json:"total_usdt"`
	PnlUSDT    *float64  `json:"pnl_usdt,omitempty"`
	PnlPercent *float64  `json:"pnl_percentage,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	BuyOrderID *uint     `json:"buy_order_id,omitempty"`
	ExchangeID string    `json:"exchange_order_id,omitempty"`
	Source     string    `json:"source"`
	At         time.Time `json:"at"`
}
