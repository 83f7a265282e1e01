package risk

import (
	"context"
	"fmt"

	"autotrader/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// ProfitLedger sums the realized gains of an account.
type ProfitLedger interface {
	SumPositivePnl(ctx context.Context, apiKeyID uint) (decimal.Decimal, error)
}

// Sizing is the USDT investment for one entry.
type Sizing struct {
	Base         decimal.Decimal
	Reinvestment decimal.Decimal
	Total        decimal.Decimal
}

// Tradable reports whether the sizing allows an order at all.
func (s Sizing) Tradable() bool {
	return s.Total.GreaterThan(decimal.Zero)
}

// Sizer turns account configuration and realized profit into an investment amount.
type Sizer struct {
	ledger   ProfitLedger
	reinvest bool
	share    decimal.Decimal
}

func NewSizer(ledger ProfitLedger, cfg Config) *Sizer {
	return &Sizer{
		ledger:   ledger,
		reinvest: cfg.ReinvestmentEnabled,
		share:    decimal.NewFromFloat(cfg.ReinvestmentShare),
	}
}

// SizeFor returns base + reinvestment for the asset. The base is the asset
// allocation override when positive, else the account max position size.
// Reinvestment is share * every positive realized PnL of the account, read
// from the full order history on each call. Total is never negative; a zero
// total means no trade.
func (s *Sizer) SizeFor(ctx context.Context, account *model.TradingAPIKey, asset string) (Sizing, error) {
	base := decimal.NewFromFloat(account.AllocationFor(asset))

	sizing := Sizing{Base: base, Reinvestment: decimal.Zero}
	if s.reinvest && s.ledger != nil {
		profit, err := s.ledger.SumPositivePnl(ctx, account.ID)
		if err != nil {
			return Sizing{}, fmt.Errorf("sum positive pnl for api key %d: %w", account.ID, err)
		}
		if profit.GreaterThan(decimal.Zero) {
			sizing.Reinvestment = profit.Mul(s.share)
		}
	}

	sizing.Total = sizing.Base.Add(sizing.Reinvestment)
	if sizing.Total.LessThan(decimal.Zero) {
		sizing.Total = decimal.Zero
	}

	logger.WithFields(map[string]interface{}{
		"component":    "Sizer",
		"api_key_id":   account.ID,
		"asset":        asset,
		"base":         sizing.Base.String(),
		"reinvestment": sizing.Reinvestment.String(),
		"total":        sizing.Total.String(),
	}).Info("Position sized")

	return sizing, nil
}
