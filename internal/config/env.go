package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys that override config file values.
const (
	EnvBaseURL      = "BLEPIPE_BASE_URL"
	EnvAuthToken    = "BLEPIPE_AUTH_TOKEN"
	EnvRelayAddress = "BLEPIPE_RELAY_ADDRESS"
	EnvAdapterPath  = "BLEPIPE_ADAPTER_PATH"
	EnvMQTTBroker   = "BLEPIPE_MQTT_BROKER"
	EnvLogLevel     = "BLEPIPE_LOG_LEVEL"
)

var envKeys = []string{EnvBaseURL, EnvAuthToken, EnvRelayAddress, EnvAdapterPath, EnvMQTTBroker, EnvLogLevel}

// ReadEnv collects overrides from envFile and the process environment.
// Non-empty process values win. A missing envFile is not an error.
func ReadEnv(envFile string) (map[string]string, error) {
	values := make(map[string]string)

	if envFile != "" {
		fileValues, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			for _, key := range envKeys {
				if v, ok := fileValues[key]; ok {
					values[key] = v
				}
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read env file %q: %w", envFile, err)
		}
	}

	for _, key := range envKeys {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			values[key] = v
		}
	}
	return values, nil
}

// ApplyEnv overlays non-empty overrides onto cfg.
func ApplyEnv(cfg *Config, values map[string]string) []Warning {
	warnings := make([]Warning, 0)
	apply := func(key string, dst *string) {
		v := strings.TrimSpace(values[key])
		if v == "" {
			return
		}
		*dst = v
		if key != EnvAuthToken {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("%s overrides config value", key)})
		}
	}

	apply(EnvBaseURL, &cfg.Forward.BaseURL)
	apply(EnvAuthToken, &cfg.Forward.AuthToken)
	apply(EnvRelayAddress, &cfg.Relay.Address)
	apply(EnvAdapterPath, &cfg.Adapter.Path)
	apply(EnvMQTTBroker, &cfg.MQTT.Broker)
	apply(EnvLogLevel, &cfg.LogLevel)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	return warnings
}
