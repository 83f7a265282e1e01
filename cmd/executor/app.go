package executor

import (
	"context"
	"fmt"
	"net/http"

	"autotrader/src/connectors"
	"autotrader/src/controller"
	"autotrader/src/database"
	"autotrader/src/events"
	"autotrader/src/metrics"
	"autotrader/src/repository"
	"autotrader/src/risk"

	"github.com/sirupsen/logrus"
)

// App holds the wired trading engine shared by every command.
type App struct {
	Trader    *controller.AutoTrader
	Orders    *repository.OrderRepository
	APIKeys   *repository.APIKeyRepository
	Metrics   *metrics.Metrics
	Ticker    connectors.PublicTicker
	Publisher events.Publisher

	closers []func() error
}

// NewApp connects the main database and builds the AutoTrader with its
// stores, gateways, publisher and metrics.
func NewApp(ctx context.Context) (*App, error) {
	if err := database.InitMainDB(); err != nil {
		return nil, fmt.Errorf("main database: %w", err)
	}

	publisher, closePublisher, err := events.New(ctx, events.GetConfig())
	if err != nil {
		return nil, fmt.Errorf("fill publisher: %w", err)
	}

	orders := repository.NewOrderRepository()
	apiKeys := repository.NewAPIKeyRepository()
	ticker := connectors.NewGoexTicker(&http.Client{Timeout: connectors.GetConfig().PriceTimeout})
	m := metrics.New()

	trader := controller.NewAutoTrader(controller.GetConfig(), controller.Deps{
		Orders:      orders,
		Accounts:    apiKeys,
		Gateways:    connectors.NewFactory(connectors.GetConfig(), ticker),
		Sizer:       risk.NewSizer(orders, risk.GetConfig()),
		Eligibility: risk.NewEligibility(orders),
		Notifier:    publisher,
		Metrics:     m,
		Exceptions:  repository.NewExceptionRepository(),
	})

	return &App{
		Trader:    trader,
		Orders:    orders,
		APIKeys:   apiKeys,
		Metrics:   m,
		Ticker:    ticker,
		Publisher: publisher,
		closers:   []func() error{closePublisher},
	}, nil
}

func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			logrus.WithError(err).Warn("Failed to release resource")
		}
	}
}
