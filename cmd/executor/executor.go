package executor

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"autotrader/src/database"
	"autotrader/src/executors"
	"autotrader/src/feed"
	"autotrader/src/handler"
	"autotrader/src/model"
	"autotrader/src/repository"
	"autotrader/src/server"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Executor struct{}

// Start runs the HTTP server, the periodic exit loop and, when enabled, the
// websocket price stream until SIGINT or SIGTERM.
func (t *Executor) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	app, err := NewApp(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to build trading engine")
		return err
	}
	defer app.Close()

	if config.DatabaseReadOnly {
		if err := database.InitReadOnlyDB(); err != nil {
			logrus.WithError(err).Error("Failed to connect to read-only database")
			return err
		}
	}

	loopCfg := executors.GetConfig()
	loop := executors.NewExitLoop(loopCfg, app.Trader, app.Ticker)

	g, gctx := errgroup.WithContext(ctx)

	if config.ServerEnabled {
		serverCfg := server.GetConfig()
		orders := app.Orders
		if config.DatabaseReadOnly {
			orders = repository.NewReadOnlyOrderRepository()
		}
		router := server.NewRouter(serverCfg, server.Routes{
			Trader:      app.Trader,
			Orders:      handler.SearchOrdersHandler(orders),
			Allocations: handler.SetAssetAllocationHandler(app.APIKeys),
			Metrics:     app.Metrics.Handler(),
		})
		g.Go(func() error { return server.Run(gctx, serverCfg, router) })
	}

	g.Go(func() error { return loop.Run(gctx) })

	if streamCfg := feed.GetConfig(); streamCfg.Enabled {
		symbols := make([]string, 0, len(loopCfg.Cryptos))
		for _, crypto := range loopCfg.Cryptos {
			if crypto = strings.TrimSpace(crypto); crypto != "" {
				symbols = append(symbols, model.SymbolFor(crypto))
			}
		}
		stream := feed.NewPriceStream(streamCfg, app.Metrics)
		g.Go(func() error {
			err := stream.Run(gctx, symbols, loop.OnPrice)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	logrus.WithField("cryptos", loopCfg.Cryptos).Info("Auto trader executor started")
	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("Executor stopped with error")
		return err
	}
	logrus.Info("Executor stopped")
	return nil
}
