package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads <configName>.yaml from configPath (falling back to . and ./config)
// and layers environment variables on top. A missing file is not an error: the
// services are expected to run from env vars alone inside containers.
func Load(configPath, configName string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}

// PathFromArgs returns the config directory given as the first CLI argument,
// or CONFIG_PATH, or ./config.
func PathFromArgs(args []string) string {
	if len(args) > 1 && args[1] != "" {
		return args[1]
	}
	return GetEnv("CONFIG_PATH", "./config")
}

// GetEnv returns environment variable value or default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
