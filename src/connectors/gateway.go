package connectors

import (
	"context"
	"strings"

	"autotrader/src/model"
)

// Gateway is the per-account exchange surface the trading controller uses.
type Gateway interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context) (*Balance, error)
	ConfigureLeverageAndMargin(ctx context.Context, symbol string, leverage int, marginType string) error
	SubmitMarketOrder(ctx context.Context, req MarketOrderRequest) (*model.ExecutionReport, error)
	GetSymbolTradingRules(ctx context.Context, symbol string) (*SymbolRules, error)
}

const PositionSideLong = "LONG"

// MarketOrderRequest sizes an order either by base quantity or, for spot
// buys, by quote amount. Exactly one of Quantity and QuoteAmount is set.
type MarketOrderRequest struct {
	Symbol        string
	Side          string
	Quantity      float64
	QuoteAmount   float64
	PositionSide  string
	ClientOrderID string
}

// Balance is the account's funds as seen by one market.
type Balance struct {
	// Futures: availableBalance / totalWalletBalance. Spot: USDT free / free+locked.
	QuoteAvailable float64
	QuoteTotal     float64
	// Free amount per asset, upper-cased.
	Assets map[string]float64
}

// Available returns the free amount of the asset.
func (b *Balance) Available(asset string) float64 {
	if b == nil {
		return 0
	}
	asset = strings.ToUpper(asset)
	if asset == model.QuoteAsset {
		return b.QuoteAvailable
	}
	return b.Assets[asset]
}
