package keys

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the defaults applied to newly stored keys.
type Config struct {
	Leverage               int     `envconfig:"KEY_DEFAULT_LEVERAGE" default:"3"`
	MaxPositionSizeUSDT    float64 `envconfig:"KEY_DEFAULT_MAX_POSITION_USDT" default:"100"`
	MaxConcurrentPositions int     `envconfig:"KEY_DEFAULT_MAX_CONCURRENT" default:"1"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
