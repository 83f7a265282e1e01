package executor

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// DatabaseReadOnly also opens the read-only connection for order history.
	DatabaseReadOnly bool `envconfig:"EXECUTOR_READ_ONLY_DB" default:"true"`
	ServerEnabled    bool `envconfig:"EXECUTOR_SERVER_ENABLED" default:"true"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
