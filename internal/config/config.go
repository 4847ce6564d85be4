package config

import "time"

// DeliveryMode controls whether messages are broadcast before or after they are persisted.
type DeliveryMode string

const (
	// DeliveryBroadcastFirst broadcasts immediately and appends to the log asynchronously.
	DeliveryBroadcastFirst DeliveryMode = "broadcast_first"
	// DeliveryPersistFirst appends to the log and broadcasts only when the write succeeded.
	DeliveryPersistFirst DeliveryMode = "persist_first"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	// Fan-out engine.
	MaxMessageLength  int           `mapstructure:"max_message_length" yaml:"max_message_length"`
	MessagesPerMinute int           `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`
	HistoryOnJoin     int           `mapstructure:"history_on_join" yaml:"history_on_join"`
	LogPresence       bool          `mapstructure:"log_presence" yaml:"log_presence"`
	DeliveryMode      DeliveryMode  `mapstructure:"delivery_mode" yaml:"delivery_mode"`
	PingInterval      time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`

	// Persister.
	PersistQueueSize  int           `mapstructure:"persist_queue_size" yaml:"persist_queue_size"`
	PersistMaxRetries uint          `mapstructure:"persist_max_retries" yaml:"persist_max_retries"`
	PersistRetryBase  time.Duration `mapstructure:"persist_retry_base" yaml:"persist_retry_base"`

	// PersistFirstTimeout caps one persist_first write, retries included.
	PersistFirstTimeout time.Duration `mapstructure:"persist_first_timeout" yaml:"persist_first_timeout"`

	// RedisURL enables the cross-instance fan-out bus when set.
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`

	// BootstrapAdminPassword creates the default admin and @public channel on first start.
	BootstrapAdminUsername string `mapstructure:"bootstrap_admin_username" yaml:"bootstrap_admin_username"`
	BootstrapAdminPassword string `mapstructure:"bootstrap_admin_password" yaml:"bootstrap_admin_password"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		LogLevel:          "info",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		MaxMessageBytes:   1 << 20,

		DatabasePath: "channelchat.db",

		JWTSecret:   "change-me",
		JWTIssuer:   "channelchat",
		JWTAudience: "channelchat",
		JWTTTL:      7 * 24 * time.Hour,

		MaxMessageLength:  2000,
		MessagesPerMinute: 120,
		HistoryOnJoin:     50,
		LogPresence:       false,
		DeliveryMode:      DeliveryBroadcastFirst,
		PingInterval:      30 * time.Second,
		PingTimeout:       10 * time.Second,

		PersistQueueSize:  1024,
		PersistMaxRetries: 3,
		PersistRetryBase:  100 * time.Millisecond,

		PersistFirstTimeout: 2 * time.Second,

		BootstrapAdminUsername: "admin",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
}
