package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"autotrader/src/connectors"
	"autotrader/src/model"
	"autotrader/src/repository"
	"autotrader/src/risk"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type closeCall struct {
	sellID, buyID uint
	pnl, pct      float64
	reason        string
}

// fakeStore keeps orders in memory and derives positions the way the
// order repository does: a FILLED BUY is open until it is COMPLETED. It
// enforces the same open BUY and open SELL unique indexes.
type fakeStore struct {
	mu        sync.Mutex
	orders    []*model.TradingOrder
	nextID    uint
	createErr error
	updateErr error
	closeErr  error
	profit    decimal.Decimal
	closes    []closeCall
}

func newFakeStore() *fakeStore { return &fakeStore{nextID: 100} }

func (s *fakeStore) seed(o *model.TradingOrder) *model.TradingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		s.nextID++
		o.ID = s.nextID
	}
	cp := *o
	s.orders = append(s.orders, &cp)
	return o
}

func (s *fakeStore) CreateOrder(ctx context.Context, order *model.TradingOrder) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Status != model.OrderStatusPending && o.Status != model.OrderStatusFilled {
			continue
		}
		switch {
		case order.Side == model.SideBuy && o.Side == model.SideBuy &&
			o.APIKeyID == order.APIKeyID && o.Symbol == order.Symbol:
			return gorm.ErrDuplicatedKey
		case order.Side == model.SideSell && o.Side == model.SideSell &&
			order.BuyOrderID != nil && o.BuyOrderID != nil && *o.BuyOrderID == *order.BuyOrderID:
			return gorm.ErrDuplicatedKey
		}
	}
	s.nextID++
	order.ID = s.nextID
	order.CreatedAt = now
	cp := *order
	s.orders = append(s.orders, &cp)
	return nil
}

func (s *fakeStore) UpdateOrderStatus(ctx context.Context, orderID uint, status string, exec *model.OrderExecution) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.ID != orderID {
			continue
		}
		if o.Status != model.OrderStatusPending {
			return fmt.Errorf("order %d: %w", orderID, repository.ErrNotPending)
		}
		o.Status = status
		if exec != nil {
			applyExecution(o, exec)
		}
		if status == model.OrderStatusFilled && o.Side == model.SideSell && o.BuyOrderID != nil {
			s.complete(*o.BuyOrderID, o.Reason, now)
		}
		return nil
	}
	return fmt.Errorf("order %d not found", orderID)
}

func (s *fakeStore) RecordClose(ctx context.Context, sellID, buyID uint, pnl, pct float64, reason string, at time.Time) error {
	if s.closeErr != nil {
		return s.closeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, closeCall{sellID, buyID, pnl, pct, reason})
	for _, o := range s.orders {
		if o.ID == sellID {
			o.PnlUSDT, o.PnlPercentage = &pnl, &pct
		}
	}
	s.complete(buyID, reason, at)
	return nil
}

// complete must be called with mu held.
func (s *fakeStore) complete(buyID uint, reason string, at time.Time) {
	for _, o := range s.orders {
		if o.ID == buyID && o.Side == model.SideBuy {
			o.Status = model.OrderStatusCompleted
			o.CloseReason = reason
			o.ClosedAt = &at
		}
	}
}

func (s *fakeStore) FindByID(ctx context.Context, id uint) (*model.TradingOrder, error) {
	if o := s.byID(id); o != nil {
		return o, nil
	}
	return nil, nil
}

func (s *fakeStore) ListOpenPositionsBySymbol(ctx context.Context, symbol string) ([]model.TradingOrder, error) {
	return s.open(func(o *model.TradingOrder) bool { return o.Symbol == symbol }), nil
}

func (s *fakeStore) GetOpenPosition(ctx context.Context, apiKeyID uint, symbol string) (*model.TradingOrder, error) {
	open := s.open(func(o *model.TradingOrder) bool { return o.APIKeyID == apiKeyID && o.Symbol == symbol })
	if len(open) == 0 {
		return nil, nil
	}
	return &open[0], nil
}

func (s *fakeStore) ListActivePositions(ctx context.Context, apiKeyID uint) ([]model.TradingOrder, error) {
	return s.open(func(o *model.TradingOrder) bool { return o.APIKeyID == apiKeyID }), nil
}

func (s *fakeStore) SumPositivePnl(ctx context.Context, apiKeyID uint) (decimal.Decimal, error) {
	return s.profit, nil
}

func (s *fakeStore) open(match func(o *model.TradingOrder) bool) []model.TradingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TradingOrder
	for _, o := range s.orders {
		if o.Side == model.SideBuy && o.Status == model.OrderStatusFilled && match(o) {
			out = append(out, *o)
		}
	}
	return out
}

func (s *fakeStore) byID(id uint) *model.TradingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.ID == id {
			cp := *o
			return &cp
		}
	}
	return nil
}

func (s *fakeStore) bySide(side string) []model.TradingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TradingOrder
	for _, o := range s.orders {
		if o.Side == side {
			out = append(out, *o)
		}
	}
	return out
}

type fakeAccounts struct {
	keys    map[uint]*model.TradingAPIKey
	listErr error
}

func newFakeAccounts(keys ...*model.TradingAPIKey) *fakeAccounts {
	a := &fakeAccounts{keys: map[uint]*model.TradingAPIKey{}}
	for _, k := range keys {
		a.keys[k.ID] = k
	}
	return a
}

func (a *fakeAccounts) GetAccountConfig(ctx context.Context, apiKeyID uint) (*model.TradingAPIKey, error) {
	k, ok := a.keys[apiKeyID]
	if !ok {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

func (a *fakeAccounts) ListEnabledForAsset(ctx context.Context, asset string) ([]model.TradingAPIKey, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	var out []model.TradingAPIKey
	for _, k := range a.keys {
		if k.AssetEnabled(asset) {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeGateway struct {
	mu sync.Mutex

	price      float64
	priceErr   error
	balance    *connectors.Balance
	balanceErr error
	configErr  error
	report     *model.ExecutionReport
	submitErr  error
	panicMsg   string
	rules      *connectors.SymbolRules
	rulesErr   error
	// hold delays every submission, keeping a sell in flight
	hold time.Duration

	submitted  []connectors.MarketOrderRequest
	configured int
}

func (g *fakeGateway) submissions() []connectors.MarketOrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]connectors.MarketOrderRequest(nil), g.submitted...)
}

func (g *fakeGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return g.price, g.priceErr
}

func (g *fakeGateway) GetBalance(ctx context.Context) (*connectors.Balance, error) {
	if g.balanceErr != nil {
		return nil, g.balanceErr
	}
	if g.balance == nil {
		return &connectors.Balance{}, nil
	}
	return g.balance, nil
}

func (g *fakeGateway) ConfigureLeverageAndMargin(ctx context.Context, symbol string, leverage int, marginType string) error {
	g.mu.Lock()
	g.configured++
	g.mu.Unlock()
	return g.configErr
}

func (g *fakeGateway) SubmitMarketOrder(ctx context.Context, req connectors.MarketOrderRequest) (*model.ExecutionReport, error) {
	g.mu.Lock()
	g.submitted = append(g.submitted, req)
	g.mu.Unlock()
	if g.hold > 0 {
		time.Sleep(g.hold)
	}
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	return g.report, nil
}

func (g *fakeGateway) GetSymbolTradingRules(ctx context.Context, symbol string) (*connectors.SymbolRules, error) {
	if g.rulesErr != nil {
		return nil, g.rulesErr
	}
	if g.rules == nil {
		return nil, fmt.Errorf("no rules for %s", symbol)
	}
	return g.rules, nil
}

type fakeFactory struct {
	gateways map[uint]*fakeGateway
	errs     map[uint]error
}

func (f *fakeFactory) ForAccount(account *model.TradingAPIKey) (connectors.Gateway, error) {
	if err := f.errs[account.ID]; err != nil {
		return nil, err
	}
	gw, ok := f.gateways[account.ID]
	if !ok {
		return nil, connectors.ErrMissingCredentials
	}
	return gw, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []model.FillEvent
	err    error
}

func (n *fakeNotifier) PublishFill(ctx context.Context, event model.FillEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

type fakeMetrics struct {
	mu     sync.Mutex
	orders map[string]int
	exits  map[string]int
	skips  map[string]int
	pnl    float64
	sweeps int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{orders: map[string]int{}, exits: map[string]int{}, skips: map[string]int{}}
}

func (m *fakeMetrics) OrderFinished(side, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[side+"/"+status]++
}

func (m *fakeMetrics) ExitTriggered(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exits[reason]++
}

func (m *fakeMetrics) EligibilitySkipped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skips[reason]++
}

func (m *fakeMetrics) RealizedPnl(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pnl += pnl
}

func (m *fakeMetrics) ExitSweepObserved(symbol string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
}

type harness struct {
	store    *fakeStore
	accounts *fakeAccounts
	factory  *fakeFactory
	notifier *fakeNotifier
	metrics  *fakeMetrics
	hook     *test.Hook
	trader   *AutoTrader
}

func newHarness(accounts ...*model.TradingAPIKey) *harness {
	h := &harness{
		store:    newFakeStore(),
		accounts: newFakeAccounts(accounts...),
		factory:  &fakeFactory{gateways: map[uint]*fakeGateway{}, errs: map[uint]error{}},
		notifier: &fakeNotifier{},
		metrics:  newFakeMetrics(),
		hook:     test.NewGlobal(),
	}
	h.trader = NewAutoTrader(Config{DefaultMinNotional: 5, StoreTimeout: time.Second, LowBNBWarning: 0.1}, Deps{
		Orders:      h.store,
		Accounts:    h.accounts,
		Gateways:    h.factory,
		Sizer:       risk.NewSizer(h.store, risk.Config{ReinvestmentEnabled: true, ReinvestmentShare: 0.5}),
		Eligibility: risk.NewEligibility(h.store),
		Notifier:    h.notifier,
		Metrics:     h.metrics,
		Now:         func() time.Time { return now },
	})
	return h
}

func (h *harness) gateway(apiKeyID uint, gw *fakeGateway) *fakeGateway {
	h.factory.gateways[apiKeyID] = gw
	return gw
}

func (h *harness) logged(level logrus.Level, msg string) bool {
	for _, e := range h.hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

func tradingAccount(id uint, futures bool, size float64) *model.TradingAPIKey {
	return &model.TradingAPIKey{
		ID:                     id,
		UserID:                 10 + id,
		IsActive:               true,
		FuturesEnabled:         futures,
		Leverage:               3,
		MarginType:             model.MarginTypeIsolated,
		MaxPositionSizeUSDT:    size,
		ProfitTarget:           0.08,
		StopLoss:               0.03,
		MaxHoldHours:           24,
		MaxConcurrentPositions: 1,
		Assets: []model.TradingAPIKeyAsset{
			{Asset: "BTC", Enabled: true},
			{Asset: "ETH", Enabled: true},
			{Asset: "BNB", Enabled: true},
		},
	}
}

func filledBuy(apiKeyID uint, symbol string, price, qty float64, openedAt time.Time) *model.TradingOrder {
	return &model.TradingOrder{
		UserID:           10 + apiKeyID,
		APIKeyID:         apiKeyID,
		Symbol:           symbol,
		Side:             model.SideBuy,
		OrderType:        model.OrderTypeMarket,
		Status:           model.OrderStatusFilled,
		Reason:           model.DefaultEntryPattern,
		ExecutedPrice:    &price,
		ExecutedQuantity: &qty,
		ExecutedAt:       &openedAt,
		CreatedAt:        openedAt,
		Leverage:         3,
	}
}
