package controller

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Testnet selects which accounts a sweep trades for: only keys whose
	// network mode matches are eligible.
	Testnet bool `envconfig:"TRADING_TESTNET" default:"false"`

	DefaultMinNotional float64       `envconfig:"DEFAULT_MIN_NOTIONAL" default:"5"`
	StoreTimeout       time.Duration `envconfig:"STORE_TIMEOUT" default:"10s"`
	LowBNBWarning      float64       `envconfig:"LOW_BNB_WARNING" default:"0.1"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
