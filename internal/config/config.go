package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Schema variants accepted for database.schema. The snapshot schema is
// canonical; "basic" is kept as an alias for installs that predate it.
const (
	SchemaSnapshot = "snapshot"
	SchemaBasic    = "basic"
)

// MinUpdateInterval is the floor for the scan interval; anything lower would
// hammer the pricing API past its rate limits.
const MinUpdateInterval = 30 * time.Second

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	API       APIConfig       `mapstructure:"api"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Fees      FeesConfig      `mapstructure:"fees"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

// APIConfig defines the pricing API settings.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DatabaseConfig defines the storage backend settings. An empty URL selects
// the embedded SQLite store.
type DatabaseConfig struct {
	URL        string `mapstructure:"url"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Schema     string `mapstructure:"schema"`
}

// ScannerConfig defines the scan loop settings.
type ScannerConfig struct {
	MinSpread             float64  `mapstructure:"min_spread"`
	UpdateIntervalSeconds int      `mapstructure:"update_interval_seconds"`
	RequestDelaySeconds   float64  `mapstructure:"request_delay_seconds"`
	Volume                float64  `mapstructure:"volume"`
	Coins                 []string `mapstructure:"coins"`
	Fiats                 []string `mapstructure:"fiats"`
	Persist               bool     `mapstructure:"persist"`
	TopN                  int      `mapstructure:"top_n"`
}

// FeesConfig defines the withdrawal-fee source settings.
type FeesConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// AnalyticsConfig defines the defaults for historical analysis queries.
type AnalyticsConfig struct {
	Fiat      string `mapstructure:"fiat"`
	Days      int    `mapstructure:"days"`
	DailyDays int    `mapstructure:"daily_days"`
	PairLimit int    `mapstructure:"pair_limit"`
}

// UpdateInterval returns the scan interval clamped to the floor.
func (s ScannerConfig) UpdateInterval() time.Duration {
	interval := time.Duration(s.UpdateIntervalSeconds) * time.Second
	if interval < MinUpdateInterval {
		return MinUpdateInterval
	}
	return interval
}

// RequestDelay returns the mandatory pause between API requests.
func (s ScannerConfig) RequestDelay() time.Duration {
	return time.Duration(s.RequestDelaySeconds * float64(time.Second))
}

// Timeout returns the HTTP client timeout for the pricing API.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long fetched fees stay valid.
func (f FeesConfig) CacheTTL() time.Duration {
	return time.Duration(f.CacheTTLSeconds) * time.Second
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Defaults plus environment variables are enough to run; only a
		// malformed file is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, err
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.Database.Schema) {
	case SchemaSnapshot, SchemaBasic:
	default:
		return fmt.Errorf("unknown database schema %q (want %q or %q)",
			c.Database.Schema, SchemaSnapshot, SchemaBasic)
	}
	if c.Scanner.MinSpread < 0 {
		return fmt.Errorf("scanner.min_spread must not be negative, got %v", c.Scanner.MinSpread)
	}
	if c.Scanner.RequestDelaySeconds < 0 {
		return fmt.Errorf("scanner.request_delay_seconds must not be negative, got %v", c.Scanner.RequestDelaySeconds)
	}
	if len(c.Scanner.Coins) == 0 || len(c.Scanner.Fiats) == 0 {
		return fmt.Errorf("scanner.coins and scanner.fiats must not be empty")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("log_level", "info")

	viper.SetDefault("api.base_url", "https://criptoya.com/api")
	viper.SetDefault("api.timeout_seconds", 10)

	viper.SetDefault("database.url", "")
	viper.SetDefault("database.sqlite_path", "spreadwatch.db")
	viper.SetDefault("database.schema", SchemaSnapshot)

	viper.SetDefault("scanner.min_spread", 0.5)
	viper.SetDefault("scanner.update_interval_seconds", 30)
	viper.SetDefault("scanner.request_delay_seconds", 0.5)
	viper.SetDefault("scanner.volume", 1.0)
	viper.SetDefault("scanner.coins", []string{"BTC", "ETH", "USDT", "USDC"})
	viper.SetDefault("scanner.fiats", []string{"ARS", "USD"})
	viper.SetDefault("scanner.persist", false)
	viper.SetDefault("scanner.top_n", 10)

	viper.SetDefault("fees.cache_ttl_seconds", 3600)

	viper.SetDefault("analytics.fiat", "ARS")
	viper.SetDefault("analytics.days", 7)
	viper.SetDefault("analytics.daily_days", 30)
	viper.SetDefault("analytics.pair_limit", 20)
}
