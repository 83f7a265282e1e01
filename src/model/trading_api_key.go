package model

import (
	"strings"
	"time"
)

const (
	MarginTypeIsolated = "ISOLATED"
	MarginTypeCrossed  = "CROSSED"

	DefaultLeverage = 3
)

// TradingAPIKey is the per-account trading configuration. It is owned by the
// user-facing configuration surface; the trading engine only reads it.
type TradingAPIKey struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"not null;uniqueIndex:idx_user_key_name" json:"user_id"`
	Name   string `gorm:"size:100;not null;uniqueIndex:idx_user_key_name" json:"name"`

	APIKeyHash    string `gorm:"column:api_key;type:text" json:"-"`
	SecretKeyHash string `gorm:"column:secret_key;type:text" json:"-"`

	IsTestnet bool `gorm:"not null;default:false;index" json:"is_testnet"`
	IsActive  bool `gorm:"not null;index" json:"is_active"`

	// Futures (margin) mode. Bools carry no gorm default so false is written.
	FuturesEnabled bool   `gorm:"not null" json:"futures_enabled"`
	Leverage       int    `gorm:"column:default_leverage;not null;default:3" json:"default_leverage"`
	MarginType     string `gorm:"column:default_margin_type;size:20;not null;default:ISOLATED" json:"default_margin_type"`

	// Risk thresholds
	MaxPositionSizeUSDT    float64 `gorm:"column:max_position_size_usdt;not null;default:0" json:"max_position_size_usdt"`
	ProfitTarget           float64 `gorm:"not null;default:0.08" json:"profit_target"`
	StopLoss               float64 `gorm:"not null;default:0.03" json:"stop_loss"`
	MaxHoldHours           float64 `gorm:"not null;default:24" json:"max_hold_hours"`
	MaxConcurrentPositions int     `gorm:"not null;default:1" json:"max_concurrent_positions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Assets []TradingAPIKeyAsset `gorm:"foreignKey:APIKeyID;constraint:OnDelete:CASCADE" json:"assets,omitempty"`
}

func (TradingAPIKey) TableName() string {
	return "trading_api_keys"
}

// TradingAPIKeyAsset enables an asset for an account and optionally overrides
// the USDT allocation used for it.
type TradingAPIKeyAsset struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	APIKeyID      uint      `gorm:"not null;uniqueIndex:idx_api_key_asset" json:"api_key_id"`
	Asset         string    `gorm:"size:20;not null;uniqueIndex:idx_api_key_asset" json:"asset"`
	Enabled       bool      `gorm:"not null;default:false" json:"enabled"`
	AllocatedUSDT *float64  `gorm:"column:allocated_usdt" json:"allocated_usdt,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (TradingAPIKeyAsset) TableName() string {
	return "trading_api_key_assets"
}

// Thresholds are the exit rules configured for an account.
type Thresholds struct {
	ProfitTarget float64
	StopLoss     float64
	MaxHoldHours float64
}

func (k *TradingAPIKey) asset(asset string) *TradingAPIKeyAsset {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	for i := range k.Assets {
		if strings.ToUpper(k.Assets[i].Asset) == asset {
			return &k.Assets[i]
		}
	}
	return nil
}

// AssetEnabled reports whether auto trading is switched on for the asset.
func (k *TradingAPIKey) AssetEnabled(asset string) bool {
	a := k.asset(asset)
	return a != nil && a.Enabled
}

// AllocationFor returns the asset override when present and positive,
// otherwise the generic max position size.
func (k *TradingAPIKey) AllocationFor(asset string) float64 {
	if a := k.asset(asset); a != nil && a.AllocatedUSDT != nil && *a.AllocatedUSDT > 0 {
		return *a.AllocatedUSDT
	}
	return k.MaxPositionSizeUSDT
}

func (k *TradingAPIKey) EffectiveLeverage() int {
	if k.Leverage <= 0 {
		return DefaultLeverage
	}
	return k.Leverage
}

func (k *TradingAPIKey) EffectiveMarginType() string {
	if k.MarginType == "" {
		return MarginTypeIsolated
	}
	return strings.ToUpper(k.MarginType)
}

func (k *TradingAPIKey) Thresholds() Thresholds {
	return Thresholds{
		ProfitTarget: k.ProfitTarget,
		StopLoss:     k.StopLoss,
		MaxHoldHours: k.MaxHoldHours,
	}
}
