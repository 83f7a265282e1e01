package risk

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ReinvestmentEnabled bool    `envconfig:"REINVESTMENT_ENABLED" default:"true"`
	ReinvestmentShare   float64 `envconfig:"REINVESTMENT_SHARE" default:"0.5"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
