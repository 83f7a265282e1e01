package events

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RedisAddr empty disables the redis publisher.
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	Channel       string `envconfig:"REDIS_CHANNEL" default:"trading:fills"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
