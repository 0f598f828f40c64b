package config

import "time"

// Config is the root configuration for a coinsync instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Auth     AuthConfig     `yaml:"auth"`
	Stream   StreamConfig   `yaml:"stream"`
	Recorder RecorderConfig `yaml:"recorder"`
	Cache    CacheConfig    `yaml:"cache"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this coinsync instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds the remote service endpoints.
type APIConfig struct {
	RestURL string        `yaml:"rest_url"` // Inventory + profile REST base URL
	WSURL   string        `yaml:"ws_url"`   // Streaming price endpoint
	AuthURL string        `yaml:"auth_url"` // Token reissue base URL
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig holds token storage settings.
type AuthConfig struct {
	// TokenPath is the SQLite file holding the durable token pair.
	TokenPath string `yaml:"token_path"`
}

// StreamConfig holds streaming subscription settings.
type StreamConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// RecorderConfig holds tick persistence settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// CacheConfig holds the Redis quote mirror settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr"`
	DB         int           `yaml:"db"`
	TTL        time.Duration `yaml:"ttl"`
	BufferSize int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
