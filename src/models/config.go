package models

// MConfig Structure
type MConfig struct {
	Name     string          `yaml:"name"`
	Host     string          `yaml:"host"`
	Port     int             `yaml:"port"`
	LogLevel string          `yaml:"log_level"`
	Logging  MLoggingConfig  `yaml:"logging"`
	Storage  MStorageConfig  `yaml:"storage"`
	Network  MNetworkConfig  `yaml:"network"`
	Upstream MUpstreamConfig `yaml:"upstream"`
	Limits   MLimitsConfig   `yaml:"limits"`
}

type MLoggingConfig struct {
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RetentionDays      int    `yaml:"retention_days"`
}

type MNetworkConfig struct {
	RequestTimeout     int    `yaml:"timeout"`
	MaxRetries         int    `yaml:"retries"`
	ConcurrentRequests int    `yaml:"concurrent_requests"`
	UserAgent          string `yaml:"user_agent"`
}

type MUpstreamConfig struct {
	BaseURL                string  `yaml:"base_url"`
	RefreshIntervalMinutes int     `yaml:"refresh_interval_minutes"`
	BatchSize              int     `yaml:"batch_size"`
	RequestsPerSecond      float64 `yaml:"requests_per_second"`
}

type MLimitsConfig struct {
	MaxSSEConnections    int `yaml:"max_sse_connections"`
	MaxConnectionsPerIP  int `yaml:"max_connections_per_ip"`
	RequestsPerSecond    int `yaml:"requests_per_second"`
	WindowRequests       int `yaml:"window_requests"`
	WindowMinutes        int `yaml:"window_minutes"`
	WindowViolations     int `yaml:"window_violations"`
	BlacklistMinutes     int `yaml:"blacklist_minutes"`
	SlowdownMaxMillis    int `yaml:"slowdown_max_millis"`
	BreakerFailures      int `yaml:"breaker_failures"`
	BreakerCooldownSecs  int `yaml:"breaker_cooldown_seconds"`
	HeartbeatSeconds     int `yaml:"heartbeat_seconds"`
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes"`
}
