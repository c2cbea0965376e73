package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig                 `mapstructure:"app"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Redis      RedisConfig               `mapstructure:"redis"`
	NATS       NATSConfig                `mapstructure:"nats"`
	Worker     WorkerConfig              `mapstructure:"worker"`
	Backtest   BacktestConfig            `mapstructure:"backtest"`
	Exchanges  map[string]ExchangeConfig `mapstructure:"exchanges"`
	Monitoring MonitoringConfig          `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains settings for the second-level candle cache
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains worker bus settings
type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// WorkerConfig contains settings for the tick/order worker process
type WorkerConfig struct {
	Concurrency  int `mapstructure:"concurrency"`   // concurrent instance ticks
	TickRateMS   int `mapstructure:"tick_rate_ms"`  // live tick poll interval
	DrainGraceMS int `mapstructure:"drain_grace_ms"`
}

// BacktestConfig bounds the in-memory candle cache shared by simulations
type BacktestConfig struct {
	CacheMaxKeys        int `mapstructure:"cache_max_keys"`
	CacheMaxItemsPerKey int `mapstructure:"cache_max_items_per_key"`
}

// ExchangeConfig contains exchange-specific settings
type ExchangeConfig struct {
	APIKey      string `mapstructure:"api_key"`
	SecretKey   string `mapstructure:"secret_key"`
	Testnet     bool   `mapstructure:"testnet"`
	RateLimitMS int    `mapstructure:"rate_limit_ms"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("GENETICK")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "genetick")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "genetick")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "genetick.")

	// Worker defaults
	v.SetDefault("worker.concurrency", 8)
	v.SetDefault("worker.tick_rate_ms", 1000)
	v.SetDefault("worker.drain_grace_ms", 5000)

	// Backtest defaults
	v.SetDefault("backtest.cache_max_keys", 64)
	v.SetDefault("backtest.cache_max_items_per_key", 50000)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Exchange defaults
	v.SetDefault("exchanges.binance.testnet", true)
	v.SetDefault("exchanges.binance.rate_limit_ms", 200)
}

// Validate checks configuration consistency before anything starts up.
func (c *Config) Validate() error {
	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("invalid environment %q", c.App.Environment)
	}

	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port %d", c.Database.Port)
	}
	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("database pool size must be positive, got %d", c.Database.PoolSize)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Backtest.CacheMaxKeys <= 0 || c.Backtest.CacheMaxItemsPerKey <= 0 {
		return fmt.Errorf("backtest cache bounds must be positive")
	}
	if c.App.Environment == "production" {
		for name, ex := range c.Exchanges {
			if ex.Testnet {
				continue
			}
			if ex.APIKey == "" || ex.SecretKey == "" {
				return fmt.Errorf("exchange %q requires api credentials outside testnet", name)
			}
		}
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
