package connectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"autotrader/src/model"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
)

// PublicTicker reads last prices without credentials.
type PublicTicker interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// GoexTicker is the public Binance spot ticker through goex.
type GoexTicker struct {
	api goex.API
}

func NewGoexTicker(httpClient *http.Client) *GoexTicker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GoexTicker{
		api: binance.NewWithConfig(&goex.APIConfig{
			HttpClient: httpClient,
			Endpoint:   binance.GLOBAL_API_BASE_URL,
		}),
	}
}

// LastPrice returns the last trade price of BTCUSDT-style symbols.
func (g *GoexTicker) LastPrice(ctx context.Context, symbol string) (float64, error) {
	pair := goex.NewCurrencyPair2(model.BaseAssetOf(symbol) + "_" + model.QuoteAsset)

	type result struct {
		price float64
		err   error
	}
	done := make(chan result, 1)
	go func() {
		ticker, err := g.api.GetTicker(pair)
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{price: ticker.Last}
	}()

	select {
	case <-ctx.Done():
		return 0, &TransportError{Op: "public ticker " + strings.ToUpper(symbol), Err: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			return 0, &TransportError{Op: "public ticker " + strings.ToUpper(symbol), Err: r.err}
		}
		if r.price <= 0 {
			return 0, fmt.Errorf("public ticker %s returned no price", symbol)
		}
		return r.price, nil
	}
}
