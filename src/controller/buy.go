package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autotrader/src/connectors"
	"autotrader/src/model"
	"autotrader/src/risk"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const reasonNoAllocation = "no_allocation"

// buyForAccount runs: eligibility, sizing, balance check, PENDING row,
// submission, terminal status, BUY_FILLED. Nothing is written before the
// balance check passes.
func (t *AutoTrader) buyForAccount(ctx context.Context, account *model.TradingAPIKey, symbol string, sig Signal) Outcome {
	out := Outcome{APIKeyID: account.ID, Symbol: symbol, Status: OutcomeSkipped}
	asset := model.BaseAssetOf(symbol)
	fields := map[string]interface{}{
		"component":  "BuyPath",
		"api_key_id": account.ID,
		"symbol":     symbol,
	}

	dec, err := t.eligibility.CanOpen(ctx, account, symbol, t.cfg.Testnet)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Eligibility check failed")
	}
	if !dec.Allowed {
		t.metrics.EligibilitySkipped(dec.Reason)
		logger.WithFields(fields).WithField("reason", dec.Reason).Debug("Account not eligible")
		out.Reason = dec.Reason
		return out
	}

	sizing, err := t.sizer.SizeFor(ctx, account, asset)
	if err != nil {
		t.capture(ctx, "buy_path", "sizer.SizeFor", err, fields)
		return aborted(out, err)
	}
	if !sizing.Tradable() {
		t.metrics.EligibilitySkipped(reasonNoAllocation)
		logger.WithFields(fields).Info("No allocation for asset, skipping")
		out.Reason = reasonNoAllocation
		return out
	}
	investment := sizing.Total.InexactFloat64()

	gw, err := t.gateways.ForAccount(account)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrConfiguration, err)
		logger.WithFields(fields).WithError(err).Error("Cannot build gateway for account")
		t.capture(ctx, "buy_path", "gateways.ForAccount", err, fields)
		return aborted(out, err)
	}

	if err := t.checkBuyFunds(ctx, gw, account, investment, fields); err != nil {
		return aborted(out, err)
	}

	futures := account.FuturesEnabled
	order := &model.TradingOrder{
		UserID:        account.UserID,
		APIKeyID:      account.ID,
		AlertID:       sig.AlertID,
		Symbol:        symbol,
		Side:          model.SideBuy,
		OrderType:     model.OrderTypeMarket,
		QuoteQuantity: ptr(investment),
		Status:        model.OrderStatusPending,
		Reason:        sig.Pattern,
		Leverage:      1,
	}
	if order.Reason == "" {
		order.Reason = model.DefaultEntryPattern
	}
	if sig.EntryPrice > 0 {
		order.Price = ptr(sig.EntryPrice)
	}
	if futures {
		order.Leverage = account.EffectiveLeverage()
		order.MarginType = account.EffectiveMarginType()
		order.InitialMargin = ptr(investment / float64(order.Leverage))
	}

	if err := t.orders.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			t.metrics.EligibilitySkipped(risk.ReasonPositionOpen)
			out.Reason = risk.ReasonPositionOpen
			return out
		}
		t.capture(ctx, "buy_path", "orders.CreateOrder", err, fields)
		return aborted(out, err)
	}

	out = t.placeBuy(ctx, gw, account, order, investment)
	if out.Status == model.OrderStatusFilled {
		t.publish(ctx, fillEvent(model.FillKindBuy, order, sig.Source))
	}
	return out
}

// checkBuyFunds requires investment/leverage of available margin in futures
// mode and the full investment of free USDT in spot mode.
func (t *AutoTrader) checkBuyFunds(
	ctx context.Context,
	gw connectors.Gateway,
	account *model.TradingAPIKey,
	investment float64,
	fields map[string]interface{},
) error {
	balance, err := gw.GetBalance(ctx)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to read balance")
		return fmt.Errorf("read balance: %w", err)
	}

	required := investment
	if account.FuturesEnabled {
		required = investment / float64(account.EffectiveLeverage())
	}

	if balance.QuoteAvailable < required {
		err := &InsufficientFundsError{Available: balance.QuoteAvailable, Required: required}
		logger.WithFields(fields).
			WithField("available", balance.QuoteAvailable).
			WithField("required", required).
			WithField("futures", account.FuturesEnabled).
			Warn("Insufficient funds, buy skipped")
		return err
	}

	if !account.FuturesEnabled {
		if bnb := balance.Available("BNB"); bnb < t.cfg.LowBNBWarning {
			logger.WithFields(fields).WithField("bnb", bnb).
				Warn("Low BNB balance, spot fees will not use the BNB discount")
		}
	}
	return nil
}

// placeBuy submits the market buy for a persisted PENDING order. The order
// leaves this function FILLED or REJECTED.
func (t *AutoTrader) placeBuy(
	ctx context.Context,
	gw connectors.Gateway,
	account *model.TradingAPIKey,
	order *model.TradingOrder,
	investment float64,
) (out Outcome) {
	out = Outcome{APIKeyID: account.ID, Symbol: order.Symbol}
	done := t.guard(ctx, order, &out)
	defer done.finish()

	req := connectors.MarketOrderRequest{
		Symbol:        order.Symbol,
		Side:          model.SideBuy,
		ClientOrderID: connectors.NewClientOrderID(),
	}

	fallbackPrice := 0.0
	if order.Price != nil {
		fallbackPrice = *order.Price
	}

	if account.FuturesEnabled {
		price, err := gw.GetPrice(ctx, order.Symbol)
		if err != nil {
			done.rejected(fmt.Errorf("get price: %w", err))
			return
		}
		if price <= 0 {
			done.rejected(fmt.Errorf("invalid price %v for %s", price, order.Symbol))
			return
		}
		fallbackPrice = price

		if err := gw.ConfigureLeverageAndMargin(ctx, order.Symbol, order.Leverage, order.MarginType); err != nil {
			done.rejected(fmt.Errorf("configure leverage: %w", err))
			return
		}
		req.Quantity = investment / price
		req.PositionSide = connectors.PositionSideLong
	} else {
		req.QuoteAmount = investment
	}

	report, err := gw.SubmitMarketOrder(ctx, req)
	if err != nil {
		done.rejected(err)
		return
	}

	exec, err := t.buyExecution(report, fallbackPrice)
	if err != nil {
		done.rejected(err)
		return
	}
	done.filled(exec)
	return
}

// buyExecution takes price and commission from the first fill and the
// quantity from the order total.
func (t *AutoTrader) buyExecution(report *model.ExecutionReport, fallbackPrice float64) (*model.OrderExecution, error) {
	qty := report.ExecutedQuantity
	if qty <= 0 && len(report.Fills) > 0 {
		qty = report.Fills[0].Quantity
	}
	if qty <= 0 {
		return nil, fmt.Errorf("order %s reported no executed quantity", report.ExchangeOrderID)
	}

	exec := &model.OrderExecution{
		ExchangeOrderID:  report.ExchangeOrderID,
		ClientOrderID:    report.ClientOrderID,
		ExecutedPrice:    ptr(report.FirstFillPrice(fallbackPrice)),
		ExecutedQuantity: ptr(qty),
		ExecutedAt:       ptr(t.executedAt(report)),
	}
	if len(report.Fills) > 0 && report.Fills[0].Commission > 0 {
		exec.Commission = ptr(report.Fills[0].Commission)
		exec.CommissionAsset = report.Fills[0].CommissionAsset
	}
	return exec, nil
}

func (t *AutoTrader) executedAt(report *model.ExecutionReport) time.Time {
	if !report.TransactTime.IsZero() {
		return report.TransactTime
	}
	return t.now()
}

func fillEvent(kind string, order *model.TradingOrder, source string) model.FillEvent {
	if source == "" {
		source = "auto_trading"
	}
	price := order.EntryPrice()
	qty := order.EntryQuantity()
	ev := model.FillEvent{
		Kind:       kind,
		OrderID:    order.ID,
		UserID:     order.UserID,
		APIKeyID:   order.APIKeyID,
		Symbol:     order.Symbol,
		Quantity:   qty,
		Price:      price,
		TotalUSDT:  price * qty,
		PnlUSDT:    order.PnlUSDT,
		PnlPercent: order.PnlPercentage,
		BuyOrderID: order.BuyOrderID,
		ExchangeID: order.ExchangeOrderID,
		Source:     source,
		At:         order.OpenedAt(),
	}
	if kind == model.FillKindSell {
		ev.Reason = order.Reason
	}
	return ev
}
