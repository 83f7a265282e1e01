package controller

import (
	"context"
	"testing"
	"time"

	"autotrader/src/connectors"
	"autotrader/src/model"
	"autotrader/src/risk"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func btcReport(fills ...model.Fill) *model.ExecutionReport {
	total := 0.0
	for _, f := range fills {
		total += f.Quantity
	}
	return &model.ExecutionReport{
		ExchangeOrderID:  "8389765",
		ClientOrderID:    "at-test",
		Status:           "FILLED",
		ExecutedQuantity: total,
		Fills:            fills,
		TransactTime:     now.Add(time.Second),
	}
}

func TestBuyInsufficientMarginCreatesNoOrder(t *testing.T) {
	h := newHarness(tradingAccount(1, true, 45))
	gw := h.gateway(1, &fakeGateway{price: 50000, balance: &connectors.Balance{QuoteAvailable: 10}})

	report, err := h.trader.ExecuteBuySignal(context.Background(), "btc", Signal{EntryPrice: 50000})
	require.NoError(t, err)
	require.Len(t, report.Accounts, 1)

	out := report.Accounts[0]
	assert.Equal(t, OutcomeAborted, out.Status)
	var funds *InsufficientFundsError
	require.ErrorAs(t, out.Err, &funds)
	assert.Equal(t, 10.0, funds.Available)
	assert.InDelta(t, 15.0, funds.Required, 1e-9)

	assert.Empty(t, h.store.bySide(model.SideBuy))
	assert.Empty(t, gw.submitted)
	assert.True(t, h.logged(logrus.WarnLevel, "Insufficient funds, buy skipped"))
}

func TestBuyFuturesFilledWithFirstFill(t *testing.T) {
	alert := uint(77)
	h := newHarness(tradingAccount(1, true, 100))
	gw := h.gateway(1, &fakeGateway{
		price:   50000,
		balance: &connectors.Balance{QuoteAvailable: 1000},
		report: btcReport(
			model.Fill{Price: 50010, Quantity: 0.0012, Commission: 0.02, CommissionAsset: "USDT"},
			model.Fill{Price: 50020, Quantity: 0.0008, Commission: 0.01, CommissionAsset: "USDT"},
		),
	})

	report, err := h.trader.ExecuteBuySignal(context.Background(), "btc", Signal{EntryPrice: 49990, AlertID: &alert})
	require.NoError(t, err)
	require.Len(t, report.Accounts, 1)
	out := report.Accounts[0]
	assert.Equal(t, model.OrderStatusFilled, out.Status)

	require.Len(t, gw.submitted, 1)
	req := gw.submitted[0]
	assert.Equal(t, "BTCUSDT", req.Symbol)
	assert.Equal(t, model.SideBuy, req.Side)
	assert.InDelta(t, 0.002, req.Quantity, 1e-12)
	assert.Zero(t, req.QuoteAmount)
	assert.Equal(t, connectors.PositionSideLong, req.PositionSide)
	assert.NotEmpty(t, req.ClientOrderID)
	assert.Equal(t, 1, gw.configured)

	stored := h.store.byID(out.OrderID)
	require.NotNil(t, stored)
	assert.Equal(t, model.OrderStatusFilled, stored.Status)
	assert.Equal(t, 50010.0, *stored.ExecutedPrice)
	assert.InDelta(t, 0.002, *stored.ExecutedQuantity, 1e-12)
	assert.Equal(t, 0.02, *stored.Commission)
	assert.Equal(t, "USDT", stored.CommissionAsset)
	assert.Equal(t, "8389765", stored.ExchangeOrderID)
	assert.Equal(t, model.DefaultEntryPattern, stored.Reason)
	assert.Equal(t, alert, *stored.AlertID)
	assert.Equal(t, 3, stored.Leverage)
	assert.InDelta(t, 100.0/3, *stored.InitialMargin, 1e-9)
	assert.Zero(t, stored.Quantity)

	require.Len(t, h.notifier.events, 1)
	ev := h.notifier.events[0]
	assert.Equal(t, model.FillKindBuy, ev.Kind)
	assert.Equal(t, out.OrderID, ev.OrderID)
	assert.Equal(t, 50010.0, ev.Price)
	assert.Equal(t, 1, h.metrics.orders["BUY/FILLED"])
}

func TestBuySpotUsesQuoteAmount(t *testing.T) {
	h := newHarness(tradingAccount(1, false, 60))
	gw := h.gateway(1, &fakeGateway{
		balance: &connectors.Balance{QuoteAvailable: 60, Assets: map[string]float64{"BNB": 0.02}},
		report:  btcReport(model.Fill{Price: 3000, Quantity: 0.02, Commission: 0.00002, CommissionAsset: "ETH"}),
	})

	report, err := h.trader.ExecuteBuySignal(context.Background(), "eth", Signal{Pattern: "BREAKOUT"})
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, report.Accounts[0].Status)

	require.Len(t, gw.submitted, 1)
	assert.Equal(t, 60.0, gw.submitted[0].QuoteAmount)
	assert.Zero(t, gw.submitted[0].Quantity)
	assert.Empty(t, gw.submitted[0].PositionSide)
	assert.Zero(t, gw.configured)

	stored := h.store.byID(report.Accounts[0].OrderID)
	assert.Equal(t, "BREAKOUT", stored.Reason)
	assert.Equal(t, 1, stored.Leverage)
	assert.Nil(t, stored.InitialMargin)
	assert.True(t, h.logged(logrus.WarnLevel, "Low BNB balance, spot fees will not use the BNB discount"))
}

func TestBuyExchangeErrorRejectedVerbatim(t *testing.T) {
	h := newHarness(tradingAccount(1, true, 100))
	h.gateway(1, &fakeGateway{
		price:     50000,
		balance:   &connectors.Balance{QuoteAvailable: 1000},
		submitErr: &connectors.ExchangeError{HTTPStatus: 400, Code: -2019, Msg: "Margin is insufficient."},
	})

	report, err := h.trader.ExecuteBuySignal(context.Background(), "btc", Signal{})
	require.NoError(t, err)

	out := report.Accounts[0]
	assert.Equal(t, model.OrderStatusRejected, out.Status)
	assert.Equal(t, "Margin is insufficient.", out.Reason)

	stored := h.store.byID(out.OrderID)
	assert.Equal(t, model.OrderStatusRejected, stored.Status)
	assert.Equal(t, "Margin is insufficient.", stored.FailureReason)
	assert.Empty(t, h.notifier.events)
	assert.Equal(t, 1, h.metrics.orders["BUY/REJECTED"])
}

func TestBuyTimeoutRejected(t *testing.T) {
	h := newHarness(tradingAccount(1, true, 100))
	h.gateway(1, &fakeGateway{
		price:     50000,
		balance:   &connectors.Balance{QuoteAvailable: 1000},
		submitErr: &connectors.TransportError{Op: "POST /fapi/v1/order", Err: context.DeadlineExceeded},
	})

	report, err := h.trader.ExecuteBuySignal(context.Background(), "btc", Signal{})
	require.NoError(t, err)

	stored := h.store.byID(report.Accounts[0].OrderID)
	assert.Equal(t, model.OrderStatusRejected, stored.Status)
	assert.Contains(t, stored.FailureReason, "deadline exceeded")
}

func TestBuyConfigureFailureRejected(t *testing.T) {
	h := newHarness(tradingAccount(1, true, 100))
	gw := h.gateway(1, &fakeGateway{
		price:     50000,
		balance:   &connectors.Balance{QuoteAvailable: 1000},
		configErr: &connectors.ExchangeError{Code: -4028, Msg: "Leverage 200 is not valid"},
	})

	report, err := h.trader.ExecuteBuySignal(context.Background(), "btc", Signal{})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRejected, report.Accounts[0].Status)
	assert.Equal(t, "Leverage 200 is not valid", report.Accounts[0].Reason)
	assert.Empty(t, gw.submitted)
}

func TestBuyPanicRejectedAndSweepContinues(t *testing.T) {
	h := newHarness(tradingAccount(1, true, 100), tradingAccount(2, true, 100))
	h.gateway(1, &fakeGateway{price: 50000, balance: &connectors.Balance{QuoteAvailable: 1000}, panicMsg: "nil map write"})
	h.gateway(2, &fakeGateway{
		price:   50000,
		balance: &connectors.Balance{QuoteAvailable: 1000},
		report:  btcReport(model.Fill{Price: 50000, Quantity: 0.002}),
	})

	report, err := h.trader.ExecuteBuySignal(context.Background(), "btc", Signal{})
	require.NoError(t, err)
	require.Len(t, report.Accounts, 2)

	first := h.store.byID(report.Accounts[0].OrderID)
	assert.Equal(t, model.OrderStatusRejected, first.Status)
	assert.Equal(t, "panic: nil map write", first.FailureReason)
	assert.Equal(t, model.OrderStatusFilled, report.Accounts[1].Status)

	for _, o := range h.store.bySide(model.SideBuy) {
		assert.NotEqual(t, model.OrderStatusPending, o.Status, "order %d left pending", o.ID)
	}
}

func TestBuyConfigurationErrorIsIsolated(t *testing.T) {
	h := newHarness(tradingAccount(1, true, 100), tradingAccount(2, true, 100))
	h.factory.errs[1] = connectors.ErrMissingCredentials
	h.gateway(2, &fakeGateway{
		price:   50000,
		balance: &connectors.Balance{QuoteAvailable: 1000},
		report:  btcReport(model.Fill{Price: 50000, Quantity: 0.002}),
	})

	report, err := h.trader.ExecuteBuySignal(context.Background(), "btc", Signal{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAborted, report.Accounts[0].Status)
	assert.ErrorIs(t, report.Accounts[0].Err, ErrConfiguration)
	assert.Equal(t, model.OrderStatusFilled, report.Accounts[1].Status)
	assert.Len(t, h.store.bySide(model.SideBuy), 1)
}

func TestBuySkipsIneligibleAccounts(t *testing.T) {
	inactive := tradingAccount(2, true, 100)
	inactive.IsActive = false
	testnet := tradingAccount(3, true, 100)
	testnet.IsTestnet = true
	empty := tradingAccount(4, true, 0)

	h := newHarness(tradingAccount(1, true, 100), inactive, testnet, empty)
	h.store.seed(filledBuy(1, "BTCUSDT", 50000, 0.002, now.Add(-time.Hour)))

	report, err := h.trader.ExecuteBuySignal(context.Background(), "btc", Signal{})
	require.NoError(t, err)
	require.Len(t, report.Accounts, 4)

	reasons := map[uint]string{}
	for _, out := range report.Accounts {
		assert.Equal(t, OutcomeSkipped, out.Status)
		reasons[out.APIKeyID] = out.Reason
	}
	assert.Equal(t, risk.ReasonPositionOpen, reasons[1])
	assert.Equal(t, risk.ReasonInactive, reasons[2])
	assert.Equal(t, risk.ReasonNetworkMismatch, reasons[3])
	assert.Equal(t, reasonNoAllocation, reasons[4])
	assert.Equal(t, 1, h.metrics.skips[risk.ReasonPositionOpen])
	assert.Len(t, h.store.bySide(model.SideBuy), 1)
}

func TestBuyDuplicateOpenBuyIsSkipped(t *testing.T) {
	h := newHarness(tradingAccount(1, true, 100))
	gw := h.gateway(1, &fakeGateway{price: 50000, balance: &connectors.Balance{QuoteAvailable: 1000}})
	h.store.createErr = gorm.ErrDuplicatedKey

	report, err := h.trader.ExecuteBuySignal(context.Background(), "btc", Signal{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Accounts[0].Status)
	assert.Equal(t, risk.ReasonPositionOpen, report.Accounts[0].Reason)
	assert.Empty(t, gw.submitted)
}

func TestBuySizeIncludesReinvestment(t *testing.T) {
	h := newHarness(tradingAccount(1, false, 100))
	h.store.profit = d("40")
	gw := h.gateway(1, &fakeGateway{
		balance: &connectors.Balance{QuoteAvailable: 500, Assets: map[string]float64{"BNB": 1}},
		report:  btcReport(model.Fill{Price: 600, Quantity: 0.2}),
	})

	_, err := h.trader.ExecuteBuySignal(context.Background(), "bnb", Signal{})
	require.NoError(t, err)
	require.Len(t, gw.submitted, 1)
	assert.Equal(t, 120.0, gw.submitted[0].QuoteAmount)
}

func TestBuyPublishFailureDoesNotChangeOutcome(t *testing.T) {
	h := newHarness(tradingAccount(1, true, 100))
	h.notifier.err = assert.AnError
	h.gateway(1, &fakeGateway{
		price:   50000,
		balance: &connectors.Balance{QuoteAvailable: 1000},
		report:  btcReport(model.Fill{Price: 50000, Quantity: 0.002}),
	})

	report, err := h.trader.ExecuteBuySignal(context.Background(), "btc", Signal{})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, report.Accounts[0].Status)
	assert.True(t, h.logged(logrus.WarnLevel, "Failed to publish fill event"))
}

func TestBuyListFailureReturnsError(t *testing.T) {
	h := newHarness()
	h.accounts.listErr = assert.AnError

	_, err := h.trader.ExecuteBuySignal(context.Background(), "btc", Signal{})
	require.ErrorIs(t, err, assert.AnError)
}

func TestBuyExecutionFallsBackToLivePrice(t *testing.T) {
	trader := NewAutoTrader(Config{}, Deps{Now: func() time.Time { return now }})

	exec, err := trader.buyExecution(&model.ExecutionReport{ExecutedQuantity: 0.5}, 123.4)
	require.NoError(t, err)
	assert.Equal(t, 123.4, *exec.ExecutedPrice)
	assert.Equal(t, now, *exec.ExecutedAt)
	assert.Nil(t, exec.Commission)

	_, err = trader.buyExecution(&model.ExecutionReport{ExchangeOrderID: "1"}, 100)
	require.Error(t, err)
}
