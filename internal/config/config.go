// Package config implements a viper-backed settings loader covering
// the server, auth, engine, broker, logging and document-store
// sections, with `PI5_`-prefixed environment variable overrides on top
// of defaults and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every engine setting.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
}

// ServerConfig holds Control API HTTP server settings.
type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
}

// AuthConfig holds the single static API key the Control API requires
// on every request (spec §7 carries no user/session model).
type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// EngineConfig holds Event Bus, polling and ring-buffer sizing.
type EngineConfig struct {
	EventBusBufferSize int           `mapstructure:"event_bus_buffer_size"`
	StatePollInterval  time.Duration `mapstructure:"state_poll_interval"`
	LogRingSize        int           `mapstructure:"log_ring_size"`
}

// BrokerConfig holds the Broker Adapter's connection settings.
type BrokerConfig struct {
	BaseURL      string             `mapstructure:"base_url"`
	WebSocketURL string             `mapstructure:"websocket_url"`
	Username     string             `mapstructure:"username"`
	APIKey       string             `mapstructure:"api_key"`
	APISecret    string             `mapstructure:"api_secret"`
	RateLimit    float64            `mapstructure:"rate_limit"`
	RateBurst    int                `mapstructure:"rate_burst"`
	Reconnection ReconnectionConfig `mapstructure:"reconnection"`
}

// ReconnectionConfig holds the Broker Adapter's backoff settings.
type ReconnectionConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// LoggingConfig holds zerolog output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig holds the Document Store's data directory root.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// Load reads configuration from configPath, applying `PI5_`-prefixed
// environment variable overrides on top.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("PI5")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if v.IsSet("AUTH_API_KEY") {
		cfg.Auth.APIKey = v.GetString("AUTH_API_KEY")
	}
	if v.IsSet("BROKER_API_KEY") {
		cfg.Broker.APIKey = v.GetString("BROKER_API_KEY")
	}
	if v.IsSet("BROKER_API_SECRET") {
		cfg.Broker.APISecret = v.GetString("BROKER_API_SECRET")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.cors_allowed_origins", "*")

	v.SetDefault("engine.event_bus_buffer_size", 1024)
	v.SetDefault("engine.state_poll_interval", 1*time.Second)
	v.SetDefault("engine.log_ring_size", 1000)

	v.SetDefault("broker.rate_limit", 5.0)
	v.SetDefault("broker.rate_burst", 10)
	v.SetDefault("broker.reconnection.max_attempts", 5)
	v.SetDefault("broker.reconnection.initial_delay", 1*time.Second)
	v.SetDefault("broker.reconnection.max_delay", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("store.data_dir", "./data")
}
