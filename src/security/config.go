package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// CredentialsKey is the base64 encoded 32-byte secretbox key protecting
	// exchange API keys at rest.
	CredentialsKey string `envconfig:"EXCHANGE_CREDENTIALS_KEY"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
