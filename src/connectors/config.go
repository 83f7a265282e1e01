package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SpotBaseURL           string `envconfig:"BINANCE_SPOT_BASE_URL" default:"https://api.binance.com"`
	SpotTestnetBaseURL    string `envconfig:"BINANCE_SPOT_TESTNET_BASE_URL" default:"https://testnet.binance.vision"`
	FuturesBaseURL        string `envconfig:"BINANCE_FUTURES_BASE_URL" default:"https://fapi.binance.com"`
	FuturesTestnetBaseURL string `envconfig:"BINANCE_FUTURES_TESTNET_BASE_URL" default:"https://testnet.binancefuture.com"`

	RecvWindow   int64         `envconfig:"BINANCE_RECV_WINDOW" default:"5000"`
	HTTPTimeout  time.Duration `envconfig:"BINANCE_HTTP_TIMEOUT" default:"15s"`
	PriceTimeout time.Duration `envconfig:"BINANCE_PRICE_TIMEOUT" default:"5s"`
	RulesTTL     time.Duration `envconfig:"BINANCE_RULES_TTL" default:"300s"`

	// Retries apply to public exchangeInfo reads only. Signed calls are never retried.
	PublicRetryCount int `envconfig:"BINANCE_PUBLIC_RETRY_COUNT" default:"2"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// baseURLs returns the trading and spot base URLs for the account mode.
func (c Config) baseURLs(futures, testnet bool) (trading string, spot string) {
	spot = c.SpotBaseURL
	if testnet {
		spot = c.SpotTestnetBaseURL
	}
	if !futures {
		return spot, spot
	}
	if testnet {
		return c.FuturesTestnetBaseURL, spot
	}
	return c.FuturesBaseURL, spot
}
