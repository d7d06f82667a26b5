package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"coinwatch/src/helpers"
	"coinwatch/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()
	config.applyEnvOverrides()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, &helpers.ConfigurationError{
			CoinwatchError: helpers.CoinwatchError{Message: "config validation failed", Cause: err},
		}
	}

	return config, nil
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	if c.Upstream.RefreshIntervalMinutes == 0 {
		c.Upstream.RefreshIntervalMinutes = 30
	}
	if c.Upstream.BatchSize == 0 {
		c.Upstream.BatchSize = 10
	}
	if c.Upstream.RequestsPerSecond == 0 {
		c.Upstream.RequestsPerSecond = 20
	}
	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = 10
	}
	if c.Network.ConcurrentRequests == 0 {
		c.Network.ConcurrentRequests = 10
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 7
	}
	if c.Limits.MaxSSEConnections == 0 {
		c.Limits.MaxSSEConnections = 100
	}
	if c.Limits.MaxConnectionsPerIP == 0 {
		c.Limits.MaxConnectionsPerIP = 2
	}
	if c.Limits.RequestsPerSecond == 0 {
		c.Limits.RequestsPerSecond = 10
	}
	if c.Limits.WindowRequests == 0 {
		c.Limits.WindowRequests = 100
	}
	if c.Limits.WindowMinutes == 0 {
		c.Limits.WindowMinutes = 15
	}
	if c.Limits.WindowViolations == 0 {
		c.Limits.WindowViolations = 3
	}
	if c.Limits.BlacklistMinutes == 0 {
		c.Limits.BlacklistMinutes = 60
	}
	if c.Limits.SlowdownMaxMillis == 0 {
		c.Limits.SlowdownMaxMillis = 2000
	}
	if c.Limits.BreakerFailures == 0 {
		c.Limits.BreakerFailures = 5
	}
	if c.Limits.BreakerCooldownSecs == 0 {
		c.Limits.BreakerCooldownSecs = 60
	}
	if c.Limits.HeartbeatSeconds == 0 {
		c.Limits.HeartbeatSeconds = 30
	}
	if c.Limits.ConnectionTTLMinutes == 0 {
		c.Limits.ConnectionTTLMinutes = 5
	}
}

// -----------------------------------------------------------------------------

// applyEnvOverrides lets deployment inject the operational knobs without
// touching the YAML file.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("COINWATCH_HOST")); v != "" {
		c.Host = v
	}
	if v := envInt("COINWATCH_PORT"); v > 0 {
		c.Port = v
	}
	if v := envInt("REFRESH_INTERVAL_MINUTES"); v > 0 {
		c.Upstream.RefreshIntervalMinutes = v
	}
	if v := envInt("FETCH_BATCH_SIZE"); v > 0 {
		c.Upstream.BatchSize = v
	}
	if v := envInt("MAX_SSE_CONNECTIONS"); v > 0 {
		c.Limits.MaxSSEConnections = v
	}
	if v := strings.TrimSpace(os.Getenv("UPSTREAM_BASE_URL")); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_PATH")); v != "" {
		c.Storage.DBPath = v
	}
}

func envInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	if c.Storage.DBType == "" {
		return fmt.Errorf("storage type cannot be empty")
	}
	switch c.Storage.DBType {
	case "csv", "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage path cannot be empty for %s", c.Storage.DBType)
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.DBType)
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL cannot be empty")
	}
	if c.Upstream.RefreshIntervalMinutes <= 0 {
		return fmt.Errorf("refresh interval must be greater than 0")
	}
	if c.Upstream.BatchSize <= 0 {
		return fmt.Errorf("batch size must be greater than 0")
	}

	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Network.ConcurrentRequests <= 0 {
		return fmt.Errorf("concurrent requests must be greater than 0")
	}

	if c.Limits.MaxSSEConnections <= 0 {
		return fmt.Errorf("max connections must be greater than 0")
	}
	if c.Limits.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("per-IP connection cap must be greater than 0")
	}

	return nil
}
