package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"autotrader/src/connectors"
	"autotrader/src/model"
	"autotrader/src/tp_sl"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// reasonPositionClosing is reported when another SELL for the same BUY is
// already pending or filled.
const reasonPositionClosing = "position_closing"

// exitPosition evaluates one open BUY and sells it when an exit rule fires.
func (t *AutoTrader) exitPosition(ctx context.Context, buy *model.TradingOrder, price float64) Outcome {
	out := Outcome{APIKeyID: buy.APIKeyID, Symbol: buy.Symbol, BuyOrderID: buy.ID, Status: OutcomeHold}

	account, gw, err := t.accountGateway(ctx, buy.APIKeyID)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component":    "ExitPath",
			"api_key_id":   buy.APIKeyID,
			"buy_order_id": buy.ID,
		}).WithError(err).Error("Cannot load account for open position")
		t.capture(ctx, "exit_path", "accountGateway", err, map[string]interface{}{
			"api_key_id": buy.APIKeyID,
			"order_id":   buy.ID,
			"symbol":     buy.Symbol,
		})
		return aborted(out, err)
	}
	if account.IsTestnet != t.cfg.Testnet {
		out.Status = OutcomeSkipped
		out.Reason = "network_mismatch"
		return out
	}

	if price <= 0 {
		live, err := gw.GetPrice(ctx, buy.Symbol)
		if err != nil {
			return aborted(out, fmt.Errorf("get price: %w", err))
		}
		price = live
	}

	dec := tp_sl.Evaluate(model.PositionFromOrder(buy), price, account.Thresholds(), t.now())

	logger.WithFields(map[string]interface{}{
		"component":    "ExitPath",
		"api_key_id":   buy.APIKeyID,
		"buy_order_id": buy.ID,
		"symbol":       buy.Symbol,
		"price":        price,
		"pnl_usdt":     dec.PnlUSDT,
		"profit_pct":   dec.ProfitPct * 100,
		"hours_held":   dec.HoursHeld,
		"action":       dec.Action,
		"reason":       dec.Reason,
	}).Debug("Position evaluated")

	if !dec.ShouldClose() {
		return out
	}

	t.metrics.ExitTriggered(dec.Reason)
	return t.sell(ctx, gw, account, buy, price, dec.Reason)
}

// sell closes the position opened by buy: quantity, step-size and notional
// checks, PENDING SELL, submission, terminal status, PnL, SELL_FILLED.
func (t *AutoTrader) sell(
	ctx context.Context,
	gw connectors.Gateway,
	account *model.TradingAPIKey,
	buy *model.TradingOrder,
	price float64,
	reason string,
) Outcome {
	out := Outcome{APIKeyID: account.ID, Symbol: buy.Symbol, BuyOrderID: buy.ID}
	fields := map[string]interface{}{
		"component":    "SellPath",
		"api_key_id":   account.ID,
		"buy_order_id": buy.ID,
		"symbol":       buy.Symbol,
		"reason":       reason,
	}

	qty, err := t.sellQuantity(ctx, gw, account, buy)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Cannot determine sell quantity")
		return aborted(out, err)
	}

	limits := t.sellLimits(ctx, gw, buy.Symbol)
	qty, err = checkSellConstraints(qty, decimal.NewFromFloat(price), limits)
	if err != nil {
		logger.WithFields(fields).
			WithField("price", price).
			WithField("step_size", limits.step.String()).
			WithField("min_notional", limits.minNotional.String()).
			WithError(err).Error("Sell constraints not met, position left open")
		return aborted(out, err)
	}

	order := &model.TradingOrder{
		UserID:     buy.UserID,
		APIKeyID:   account.ID,
		Symbol:     buy.Symbol,
		Side:       model.SideSell,
		OrderType:  model.OrderTypeMarket,
		Quantity:   qty.InexactFloat64(),
		Price:      ptr(price),
		Status:     model.OrderStatusPending,
		Reason:     reason,
		BuyOrderID: ptr(buy.ID),
		Leverage:   buy.Leverage,
		MarginType: buy.MarginType,
	}
	if order.Leverage <= 0 {
		order.Leverage = 1
	}

	if err := t.orders.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.WithFields(fields).Warn("Position already being closed, sell skipped")
			out.Status = OutcomeSkipped
			out.Reason = reasonPositionClosing
			return out
		}
		t.capture(ctx, "sell_path", "orders.CreateOrder", err, fields)
		return aborted(out, err)
	}

	out = t.placeSell(ctx, gw, account, order, price)
	out.BuyOrderID = buy.ID
	if out.Status != model.OrderStatusFilled {
		return out
	}

	commission, commissionAsset := 0.0, ""
	if order.Commission != nil {
		commission = *order.Commission
		commissionAsset = order.CommissionAsset
	}
	pnl, pct := realizedPnl(buy, order.EntryQuantity(), order.EntryPrice(), commission, commissionAsset)
	order.PnlUSDT = ptr(pnl)
	order.PnlPercentage = ptr(pct)
	out.PnlUSDT = order.PnlUSDT
	out.PnlPercent = order.PnlPercentage

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.StoreTimeout)
	defer cancel()
	if err := t.orders.RecordClose(closeCtx, order.ID, buy.ID, pnl, pct, reason, t.now()); err != nil {
		logger.WithFields(fields).WithField("sell_order_id", order.ID).WithError(err).
			Error("Failed to record position close")
		t.capture(ctx, "sell_path", "orders.RecordClose", err, fields)
	}
	t.metrics.RealizedPnl(pnl)

	logger.WithFields(fields).
		WithField("sell_order_id", order.ID).
		WithField("pnl_usdt", pnl).
		WithField("pnl_pct", pct).
		Info("Position closed")

	t.publish(ctx, fillEvent(model.FillKindSell, order, ""))
	return out
}

// sellQuantity is the recorded quantity in futures mode and the smaller of
// the free base balance and the recorded quantity in spot mode.
func (t *AutoTrader) sellQuantity(
	ctx context.Context,
	gw connectors.Gateway,
	account *model.TradingAPIKey,
	buy *model.TradingOrder,
) (decimal.Decimal, error) {
	recorded := buy.EntryQuantity()
	if recorded <= 0 {
		return decimal.Zero, fmt.Errorf("buy order %d has no recorded quantity", buy.ID)
	}
	if account.FuturesEnabled {
		return decimal.NewFromFloat(recorded), nil
	}

	balance, err := gw.GetBalance(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return decimal.NewFromFloat(math.Min(balance.Available(buy.BaseAsset()), recorded)), nil
}

type sellLimits struct {
	step        decimal.Decimal
	minQty      decimal.Decimal
	minNotional decimal.Decimal
}

// sellLimits reads the symbol filters, falling back to the static step size
// table and the configured minimum notional.
func (t *AutoTrader) sellLimits(ctx context.Context, gw connectors.Gateway, symbol string) sellLimits {
	limits := sellLimits{
		step:        fallbackStepSize(model.BaseAssetOf(symbol)),
		minNotional: decimal.NewFromFloat(t.cfg.DefaultMinNotional),
	}

	rules, err := gw.GetSymbolTradingRules(ctx, symbol)
	if err != nil {
		logger.WithField("symbol", symbol).WithError(err).
			Warn("Trading rules unavailable, using static step size")
		return limits
	}
	if rules.StepSize.IsPositive() {
		limits.step = rules.StepSize
	}
	if rules.MinNotional.IsPositive() {
		limits.minNotional = rules.MinNotional
	}
	limits.minQty = rules.MinQty
	return limits
}

func checkSellConstraints(qty, price decimal.Decimal, limits sellLimits) (decimal.Decimal, error) {
	floored := floorToStep(qty, limits.step)
	if !floored.IsPositive() || floored.LessThan(limits.step) {
		return decimal.Zero, &ConstraintViolation{
			Reason: fmt.Sprintf("quantity %s below step size %s", qty.String(), limits.step.String()),
		}
	}
	if limits.minQty.IsPositive() && floored.LessThan(limits.minQty) {
		return decimal.Zero, &ConstraintViolation{
			Reason: fmt.Sprintf("quantity %s below minimum %s", floored.String(), limits.minQty.String()),
		}
	}
	if notional := floored.Mul(price); notional.LessThan(limits.minNotional) {
		return decimal.Zero, &ConstraintViolation{
			Reason: fmt.Sprintf("notional %s below minimum %s", notional.StringFixed(2), limits.minNotional.String()),
		}
	}
	return floored, nil
}

// placeSell submits the market sell for a persisted PENDING order. The
// order leaves this function FILLED or REJECTED.
func (t *AutoTrader) placeSell(
	ctx context.Context,
	gw connectors.Gateway,
	account *model.TradingAPIKey,
	order *model.TradingOrder,
	price float64,
) (out Outcome) {
	out = Outcome{APIKeyID: account.ID, Symbol: order.Symbol}
	done := t.guard(ctx, order, &out)
	defer done.finish()

	req := connectors.MarketOrderRequest{
		Symbol:        order.Symbol,
		Side:          model.SideSell,
		Quantity:      order.Quantity,
		ClientOrderID: connectors.NewClientOrderID(),
	}
	if account.FuturesEnabled {
		req.PositionSide = connectors.PositionSideLong
	}

	report, err := gw.SubmitMarketOrder(ctx, req)
	if err != nil {
		done.rejected(err)
		return
	}

	qty := report.ExecutedQuantity
	if qty <= 0 {
		qty = order.Quantity
	}
	exec := &model.OrderExecution{
		ExchangeOrderID:  report.ExchangeOrderID,
		ClientOrderID:    report.ClientOrderID,
		ExecutedPrice:    ptr(report.FirstFillPrice(price)),
		ExecutedQuantity: ptr(qty),
		ExecutedAt:       ptr(t.executedAt(report)),
	}
	if commission, asset := report.TotalCommission(); commission > 0 {
		exec.Commission = ptr(commission)
		exec.CommissionAsset = asset
	}
	done.filled(exec)
	return
}

// realizedPnl compares the sale proceeds, net of a USDT commission, with the
// BUY cost. pct is in percent.
func realizedPnl(buy *model.TradingOrder, sellQty, sellPrice, commission float64, commissionAsset string) (pnl, pct float64) {
	cost := buy.EntryQuantity() * buy.EntryPrice()
	proceeds := sellQty * sellPrice
	if commission > 0 && strings.EqualFold(commissionAsset, model.QuoteAsset) {
		proceeds -= commission
	}
	pnl = proceeds - cost
	if cost > 0 {
		pct = pnl / cost * 100
	}
	return pnl, pct
}
