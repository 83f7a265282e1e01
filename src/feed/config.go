package feed

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Enabled bool   `envconfig:"PRICE_STREAM_ENABLED" default:"false"`
	URL     string `envconfig:"PRICE_STREAM_URL" default:"wss://fstream.binance.com/stream"`
	// Throttle is the minimum time between two callbacks for one symbol.
	Throttle         time.Duration `envconfig:"PRICE_STREAM_THROTTLE" default:"15s"`
	ReadTimeout      time.Duration `envconfig:"PRICE_STREAM_READ_TIMEOUT" default:"30s"`
	HandshakeTimeout time.Duration `envconfig:"PRICE_STREAM_HANDSHAKE_TIMEOUT" default:"15s"`
	MaxBackoff       time.Duration `envconfig:"PRICE_STREAM_MAX_BACKOFF" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
