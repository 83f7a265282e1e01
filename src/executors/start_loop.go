package executors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autotrader/src/connectors"
	"autotrader/src/controller"
	"autotrader/src/model"

	logger "github.com/sirupsen/logrus"
)

// ExitChecker runs one exit sweep for a crypto.
type ExitChecker interface {
	CheckExitConditions(ctx context.Context, crypto string, price float64) (controller.ExitReport, error)
}

// ExitLoop periodically sweeps open positions of the configured cryptos.
// It is also the price stream callback.
type ExitLoop struct {
	cfg     Config
	checker ExitChecker
	ticker  connectors.PublicTicker
}

// NewExitLoop builds the loop. ticker may be nil, in which case every
// position is priced by its own account's gateway.
func NewExitLoop(cfg Config, checker ExitChecker, ticker connectors.PublicTicker) *ExitLoop {
	if cfg.LoopPeriod <= 0 {
		cfg.LoopPeriod = time.Minute
	}
	if !cfg.UsePublicTicker {
		ticker = nil
	}
	return &ExitLoop{cfg: cfg, checker: checker, ticker: ticker}
}

func (l *ExitLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.LoopPeriod)
	defer ticker.Stop()

	logger.WithFields(map[string]interface{}{
		"period":  l.cfg.LoopPeriod.String(),
		"cryptos": l.cfg.Cryptos,
	}).Info("Exit loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Exit loop stopped")
			return nil

		case <-ticker.C:
			l.Sweep(ctx)
		}
	}
}

// Sweep checks every configured crypto once. A failing crypto is logged
// and the next one runs.
func (l *ExitLoop) Sweep(ctx context.Context) {
	for _, crypto := range l.cfg.Cryptos {
		crypto = strings.ToLower(strings.TrimSpace(crypto))
		if crypto == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if err := l.check(ctx, crypto, l.price(ctx, crypto)); err != nil {
			logger.WithField("crypto", crypto).WithError(err).Error("Exit sweep failed")
		}
	}
}

// OnPrice runs an exit sweep for a symbol reported by the price stream.
func (l *ExitLoop) OnPrice(ctx context.Context, symbol string, price float64) {
	crypto := strings.ToLower(model.BaseAssetOf(symbol))
	if err := l.check(ctx, crypto, price); err != nil {
		logger.WithFields(map[string]interface{}{
			"crypto": crypto,
			"price":  price,
		}).WithError(err).Error("Exit sweep from price stream failed")
	}
}

// price returns the public ticker price, or 0 so the sweep falls back to
// each account's gateway.
func (l *ExitLoop) price(ctx context.Context, crypto string) float64 {
	if l.ticker == nil {
		return 0
	}
	p, err := l.ticker.LastPrice(ctx, model.SymbolFor(crypto))
	if err != nil {
		logger.WithField("crypto", crypto).WithError(err).Warn("Public ticker unavailable, using account gateways")
		return 0
	}
	return p
}

func (l *ExitLoop) check(ctx context.Context, crypto string, price float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	report, err := l.checker.CheckExitConditions(ctx, crypto, price)
	if err != nil {
		return err
	}
	if len(report.Positions) == 0 {
		return nil
	}
	logger.WithFields(map[string]interface{}{
		"crypto":    crypto,
		"price":     report.Price,
		"positions": len(report.Positions),
		"closed":    report.Positions.Count(model.OrderStatusFilled),
		"rejected":  report.Positions.Count(model.OrderStatusRejected),
		"aborted":   report.Positions.Count(controller.OutcomeAborted),
	}).Info("Exit sweep done")
	return nil
}
