package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the chat core and its gateway
// implementations
type Config struct {
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	REST     RESTConfig     `mapstructure:"rest"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Presence PresenceConfig `mapstructure:"presence"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// MySQLConfig holds MySQL configuration for the SQL gateway
type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Charset      string `mapstructure:"charset"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN returns the MySQL data source name
func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database, c.Charset)
}

// RedisConfig holds Redis configuration for the pub/sub change feed
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RESTConfig holds configuration for the hosted data-API gateway
type RESTConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SigningSecret  string        `mapstructure:"signing_secret"`
	TokenRole      string        `mapstructure:"token_role"`
	TokenTTLHours  int           `mapstructure:"token_ttl_hours"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// FeedConfig holds configuration for the websocket change feed
type FeedConfig struct {
	URL              string        `mapstructure:"url"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxReconnectWait time.Duration `mapstructure:"max_reconnect_wait"`
}

// PresenceConfig holds heartbeat timing
type PresenceConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	GraceMargin       time.Duration `mapstructure:"grace_margin"`
}

// SyncConfig holds retry behavior for conversation creation
type SyncConfig struct {
	CreateRetries int           `mapstructure:"create_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values with defaults
func (cfg *Config) ApplyDefaults() {
	if cfg.MySQL.Charset == "" {
		cfg.MySQL.Charset = "utf8mb4"
	}
	if cfg.MySQL.MaxOpenConns == 0 {
		cfg.MySQL.MaxOpenConns = 100
	}
	if cfg.MySQL.MaxIdleConns == 0 {
		cfg.MySQL.MaxIdleConns = 10
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "orbit:"
	}
	if cfg.REST.TokenRole == "" {
		cfg.REST.TokenRole = "chat-core"
	}
	if cfg.REST.TokenTTLHours == 0 {
		cfg.REST.TokenTTLHours = 168 // 7 days
	}
	if cfg.REST.DialTimeout == 0 {
		cfg.REST.DialTimeout = 10 * time.Second
	}
	if cfg.REST.RequestTimeout == 0 {
		cfg.REST.RequestTimeout = 30 * time.Second
	}
	if cfg.Feed.PongWait == 0 {
		cfg.Feed.PongWait = 30 * time.Second
	}
	if cfg.Feed.PingPeriod == 0 {
		cfg.Feed.PingPeriod = (cfg.Feed.PongWait * 9) / 10
	}
	if cfg.Feed.MaxMessageSize == 0 {
		cfg.Feed.MaxMessageSize = 51200
	}
	if cfg.Feed.ReconnectBackoff == 0 {
		cfg.Feed.ReconnectBackoff = time.Second
	}
	if cfg.Feed.MaxReconnectWait == 0 {
		cfg.Feed.MaxReconnectWait = 30 * time.Second
	}
	if cfg.Presence.HeartbeatInterval == 0 {
		cfg.Presence.HeartbeatInterval = 60 * time.Second
	}
	if cfg.Presence.GraceMargin == 0 {
		cfg.Presence.GraceMargin = 5 * time.Second
	}
	if cfg.Sync.CreateRetries == 0 {
		cfg.Sync.CreateRetries = 3
	}
	if cfg.Sync.RetryBackoff == 0 {
		cfg.Sync.RetryBackoff = 200 * time.Millisecond
	}
}
