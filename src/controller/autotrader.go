package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autotrader/src/connectors"
	"autotrader/src/model"
	"autotrader/src/risk"

	logger "github.com/sirupsen/logrus"
)

const serviceName = "AutoTrader"

// OrderStore is the order persistence the controller writes through.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *model.TradingOrder) error
	UpdateOrderStatus(ctx context.Context, orderID uint, status string, exec *model.OrderExecution) error
	RecordClose(ctx context.Context, sellOrderID, buyOrderID uint, pnlUSDT, pnlPercentage float64, reason string, closedAt time.Time) error
	FindByID(ctx context.Context, id uint) (*model.TradingOrder, error)
	ListOpenPositionsBySymbol(ctx context.Context, symbol string) ([]model.TradingOrder, error)
}

type AccountStore interface {
	GetAccountConfig(ctx context.Context, apiKeyID uint) (*model.TradingAPIKey, error)
	ListEnabledForAsset(ctx context.Context, asset string) ([]model.TradingAPIKey, error)
}

type GatewayFactory interface {
	ForAccount(account *model.TradingAPIKey) (connectors.Gateway, error)
}

// Notifier receives fill events. Delivery is best effort.
type Notifier interface {
	PublishFill(ctx context.Context, event model.FillEvent) error
}

type Metrics interface {
	OrderFinished(side, status string)
	ExitTriggered(reason string)
	EligibilitySkipped(reason string)
	RealizedPnl(pnlUSDT float64)
	ExitSweepObserved(symbol string, d time.Duration)
}

type ExceptionRecorder interface {
	Create(ctx context.Context, exc *model.Exception) error
}

type noopMetrics struct{}

func (noopMetrics) OrderFinished(string, string) {}
func (noopMetrics) ExitTriggered(string) {}
func (noopMetrics) EligibilitySkipped(string) {}
func (noopMetrics) RealizedPnl(float64) {}
func (noopMetrics) ExitSweepObserved(string, time.Duration) {}

// Outcome statuses besides the order statuses FILLED and REJECTED.
const (
	OutcomeSkipped = "SKIPPED"
	OutcomeAborted = "ABORTED"
	OutcomeHold    = "HOLD"
)

// Outcome is the result of one account's attempt inside a sweep.
type Outcome struct {
	APIKeyID uint   `json:"api_key_id"`
	OrderID  uint   `json:"order_id,omitempty"`
	Symbol   string `json:"symbol"`
	// BuyOrderID is the position a sell attempt was closing.
	BuyOrderID uint   `json:"buy_order_id,omitempty"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`

	PnlUSDT    *float64 `json:"pnl_usdt,omitempty"`
	PnlPercent *float64 `json:"pnl_percentage,omitempty"`

	// Err is set when the attempt was aborted before or without an order.
	Err error `json:"-"`
}

type Outcomes []Outcome

func (o Outcomes) Count(status string) int {
	n := 0
	for _, out := range o {
		if out.Status == status {
			n++
		}
	}
	return n
}

// Signal is a breakout entry reported by the scanner.
type Signal struct {
	EntryPrice float64 `json:"entry_price"`
	AlertID    *uint   `json:"alert_id,omitempty"`
	Pattern    string  `json:"pattern,omitempty"`
	Source     string  `json:"source,omitempty"`
}

type BuyReport struct {
	Crypto   string   `json:"crypto"`
	Symbol   string   `json:"symbol"`
	Accounts Outcomes `json:"accounts"`
}

type ExitReport struct {
	Crypto    string   `json:"crypto"`
	Symbol    string   `json:"symbol"`
	Price     float64  `json:"price,omitempty"`
	Positions Outcomes `json:"positions"`
}

// Deps are the collaborators of an AutoTrader. Notifier, Metrics,
// Exceptions and Now are optional.
type Deps struct {
	Orders      OrderStore
	Accounts    AccountStore
	Gateways    GatewayFactory
	Sizer       *risk.Sizer
	Eligibility *risk.Eligibility
	Notifier    Notifier
	Metrics     Metrics
	Exceptions  ExceptionRecorder
	Now         func() time.Time
}

// AutoTrader runs buy sweeps on breakout signals and exit sweeps on open
// positions. Accounts are processed sequentially; one account's failure
// never reaches the others.
type AutoTrader struct {
	cfg         Config
	orders      OrderStore
	accounts    AccountStore
	gateways    GatewayFactory
	sizer       *risk.Sizer
	eligibility *risk.Eligibility
	notifier    Notifier
	metrics     Metrics
	exceptions  ExceptionRecorder
	now         func() time.Time

	// exits serializes exit sweeps and manual closes per symbol.
	exits symbolLocks
}

func NewAutoTrader(cfg Config, deps Deps) *AutoTrader {
	t := &AutoTrader{
		cfg:         cfg,
		orders:      deps.Orders,
		accounts:    deps.Accounts,
		gateways:    deps.Gateways,
		sizer:       deps.Sizer,
		eligibility: deps.Eligibility,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		exceptions:  deps.Exceptions,
		now:         deps.Now,
	}
	if t.metrics == nil {
		t.metrics = noopMetrics{}
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.cfg.StoreTimeout <= 0 {
		t.cfg.StoreTimeout = 10 * time.Second
	}
	return t
}

// ExecuteBuySignal runs the buy path for every account that enabled the
// asset. The returned error only covers listing the accounts.
func (t *AutoTrader) ExecuteBuySignal(ctx context.Context, crypto string, sig Signal) (BuyReport, error) {
	symbol := model.SymbolFor(crypto)
	report := BuyReport{Crypto: crypto, Symbol: symbol}

	accounts, err := t.accounts.ListEnabledForAsset(ctx, model.BaseAssetOf(symbol))
	if err != nil {
		t.capture(ctx, "buy_sweep", "accounts.ListEnabledForAsset", err, map[string]interface{}{"symbol": symbol})
		return report, fmt.Errorf("list accounts for %s: %w", symbol, err)
	}

	logger.WithFields(map[string]interface{}{
		"component":   "AutoTrader",
		"symbol":      symbol,
		"entry_price": sig.EntryPrice,
		"pattern":     sig.Pattern,
		"accounts":    len(accounts),
	}).Info("Buy signal received")

	for i := range accounts {
		if ctx.Err() != nil {
			break
		}
		account := &accounts[i]
		base := Outcome{APIKeyID: account.ID, Symbol: symbol}
		out := t.isolate(ctx, "buy_path", base, func() Outcome {
			return t.buyForAccount(ctx, account, symbol, sig)
		})
		report.Accounts = append(report.Accounts, out)
	}

	logger.WithFields(map[string]interface{}{
		"component": "AutoTrader",
		"symbol":    symbol,
		"filled":    report.Accounts.Count(model.OrderStatusFilled),
		"rejected":  report.Accounts.Count(model.OrderStatusRejected),
		"skipped":   report.Accounts.Count(OutcomeSkipped),
		"aborted":   report.Accounts.Count(OutcomeAborted),
	}).Info("Buy sweep finished")

	return report, nil
}

// CheckExitConditions evaluates every open position on the symbol and sells
// the ones whose exit rule fired. A price <= 0 makes each account read the
// live price through its own gateway. Sweeps and manual closes on the same
// symbol run one at a time.
func (t *AutoTrader) CheckExitConditions(ctx context.Context, crypto string, price float64) (ExitReport, error) {
	symbol := model.SymbolFor(crypto)
	report := ExitReport{Crypto: crypto, Symbol: symbol, Price: price}
	unlock, err := t.exits.lock(ctx, symbol)
	if err != nil {
		return report, fmt.Errorf("exit sweep for %s: %w", symbol, err)
	}
	defer unlock()

	start := t.now()
	defer func() { t.metrics.ExitSweepObserved(symbol, t.now().Sub(start)) }()

	positions, err := t.orders.ListOpenPositionsBySymbol(ctx, symbol)
	if err != nil {
		t.capture(ctx, "exit_sweep", "orders.ListOpenPositionsBySymbol", err, map[string]interface{}{"symbol": symbol})
		return report, fmt.Errorf("list open positions for %s: %w", symbol, err)
	}

	for i := range positions {
		if ctx.Err() != nil {
			break
		}
		buy := &positions[i]
		base := Outcome{APIKeyID: buy.APIKeyID, Symbol: symbol, BuyOrderID: buy.ID}
		out := t.isolate(ctx, "exit_path", base, func() Outcome {
			return t.exitPosition(ctx, buy, price)
		})
		report.Positions = append(report.Positions, out)
	}

	logger.WithFields(map[string]interface{}{
		"component": "AutoTrader",
		"symbol":    symbol,
		"price":     price,
		"positions": len(positions),
		"closed":    report.Positions.Count(model.OrderStatusFilled),
		"held":      report.Positions.Count(OutcomeHold),
	}).Debug("Exit sweep finished")

	return report, nil
}

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionNotOpen  = errors.New("position is not open")
)

// ClosePositionManually sells the position opened by buyOrderID with reason
// MANUAL. A price <= 0 uses the live price.
func (t *AutoTrader) ClosePositionManually(ctx context.Context, buyOrderID uint, price float64) (Outcome, error) {
	buy, err := t.findPosition(ctx, buyOrderID)
	if err != nil {
		return Outcome{}, err
	}

	unlock, err := t.exits.lock(ctx, buy.Symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("close order %d: %w", buyOrderID, err)
	}
	defer unlock()

	// a sweep may have sold it while we waited
	if buy, err = t.findPosition(ctx, buyOrderID); err != nil {
		return Outcome{}, err
	}
	if buy.Side != model.SideBuy || buy.Status != model.OrderStatusFilled {
		return Outcome{}, fmt.Errorf("order %d (%s %s): %w", buyOrderID, buy.Side, buy.Status, ErrPositionNotOpen)
	}

	account, gw, err := t.accountGateway(ctx, buy.APIKeyID)
	if err != nil {
		return Outcome{}, err
	}

	base := Outcome{APIKeyID: buy.APIKeyID, Symbol: buy.Symbol, BuyOrderID: buy.ID}
	out := t.isolate(ctx, "manual_close", base, func() Outcome {
		if price <= 0 {
			live, err := gw.GetPrice(ctx, buy.Symbol)
			if err != nil {
				return aborted(base, err)
			}
			price = live
		}
		return t.sell(ctx, gw, account, buy, price, model.CloseReasonManual)
	})
	return out, nil
}

func (t *AutoTrader) findPosition(ctx context.Context, buyOrderID uint) (*model.TradingOrder, error) {
	buy, err := t.orders.FindByID(ctx, buyOrderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", buyOrderID, err)
	}
	if buy == nil {
		return nil, fmt.Errorf("order %d: %w", buyOrderID, ErrPositionNotFound)
	}
	return buy, nil
}

// symbolLocks hands out one lock per symbol. The zero value is ready to use.
type symbolLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// lock blocks until the symbol is free or ctx is done.
func (l *symbolLocks) lock(ctx context.Context, symbol string) (func(), error) {
	l.mu.Lock()
	if l.slots == nil {
		l.slots = make(map[string]chan struct{})
	}
	slot, ok := l.slots[symbol]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[symbol] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *AutoTrader) accountGateway(ctx context.Context, apiKeyID uint) (*model.TradingAPIKey, connectors.Gateway, error) {
	account, err := t.accounts.GetAccountConfig(ctx, apiKeyID)
	if err != nil {
		return nil, nil, fmt.Errorf("load api key %d: %w", apiKeyID, err)
	}
	if account == nil {
		return nil, nil, fmt.Errorf("%w: api key %d not found", ErrConfiguration, apiKeyID)
	}
	gw, err := t.gateways.ForAccount(account)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return account, gw, nil
}

// isolate converts a panic in fn into an ABORTED outcome.
func (t *AutoTrader) isolate(ctx context.Context, component string, base Outcome, fn func() Outcome) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logger.WithFields(map[string]interface{}{
				"component":  component,
				"api_key_id": base.APIKeyID,
				"symbol":     base.Symbol,
			}).WithError(err).Error("Recovered panic, account skipped")
			t.capture(ctx, component, "panic", err, map[string]interface{}{
				"api_key_id": base.APIKeyID,
				"symbol":     base.Symbol,
			})
			out = aborted(base, err)
		}
	}()
	return fn()
}

func aborted(base Outcome, err error) Outcome {
	base.Status = OutcomeAborted
	base.Reason = err.Error()
	base.Err = err
	return base
}

// publish hands a fill to the notifier. Failures are logged only.
func (t *AutoTrader) publish(ctx context.Context, event model.FillEvent) {
	if t.notifier == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.StoreTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("kind", event.Kind).Errorf("Recovered panic while publishing fill: %v", r)
		}
	}()

	if err := t.notifier.PublishFill(pubCtx, event); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "AutoTrader",
			"kind":      event.Kind,
			"order_id":  event.OrderID,
		}).WithError(err).Warn("Failed to publish fill event")
	}
}

func (t *AutoTrader) capture(ctx context.Context, component, operation string, err error, contextData map[string]interface{}) {
	Capture(context.WithoutCancel(ctx), t.exceptions, serviceName, component, operation, "error", err, contextData)
}
