package model

import "time"

// OrderLog is an append-only snapshot written on every order transition.
type OrderLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	OrderID uint          `gorm:"index" json:"order_id"`
	Order   *TradingOrder `gorm:"constraint:OnDelete:CASCADE" json:"order,omitempty"`

	APIKeyID uint     `gorm:"index" json:"api_key_id"`
	Symbol   string   `gorm:"size:30" json:"symbol"`
	Side     string   `gorm:"size:10" json:"side"`
	Quantity float64  `json:"quantity"`
	Price    *float64 `json:"price,omitempty"`

	Status  string `gorm:"size:20;not null" json:"status"`
	Message string `gorm:"type:text" json:"message"`

	CreatedAt time.Time `json:"created_at"`
}

func (OrderLog) TableName() string {
	return "order_logs"
}

// NewOrderLog snapshots the order in its current state.
func NewOrderLog(o *TradingOrder, message string) OrderLog {
	price := o.Price
	if o.ExecutedPrice != nil {
		price = o.ExecutedPrice
	}
	qty := o.Quantity
	if o.ExecutedQuantity != nil {
		qty = *o.ExecutedQuantity
	}
	return OrderLog{
		OrderID:  o.ID,
		APIKeyID: o.APIKeyID,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Quantity: qty,
		Price:    price,
		Status:   o.Status,
		Message:  message,
	}
}
