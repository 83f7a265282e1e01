package model

import "time"

// Exception is an unexpected failure persisted for later inspection.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Service   string `gorm:"size:100;index" json:"service"`   // e.g. "AutoTrader"
	Component string `gorm:"size:100;index" json:"component"` // e.g. "buy_path"
	Operation string `gorm:"size:100" json:"operation"`       // e.g. "gateway.SubmitMarketOrder"

	APIKeyID *uint  `gorm:"index" json:"api_key_id,omitempty"`
	OrderID  *uint  `gorm:"index" json:"order_id,omitempty"`
	Symbol   string `gorm:"size:30" json:"symbol,omitempty"`

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`
	Level   string `gorm:"size:20;index" json:"level"`

	// JSON encoded extra fields
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Exception) TableName() string {
	return "exceptions"
}
