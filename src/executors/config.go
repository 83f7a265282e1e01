package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod time.Duration `envconfig:"EXIT_LOOP_PERIOD" default:"60s"`
	Cryptos    []string      `envconfig:"EXIT_CRYPTOS" default:"btc,eth,bnb,paxg"`
	// UsePublicTicker prices the sweep from the public ticker instead of
	// each account's own gateway.
	UsePublicTicker bool `envconfig:"EXIT_USE_PUBLIC_TICKER" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
