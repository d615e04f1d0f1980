// Package config loads platform configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the root platform configuration
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Fees        FeeConfig      `mapstructure:"fees"`
	Escrow      EscrowConfig   `mapstructure:"escrow"`
	Rates       RatesConfig    `mapstructure:"rates"`
	Payments    PaymentsConfig `mapstructure:"payments"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds Redis settings for the rate cache
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FeeConfig is the static input surface of the fee calculator
type FeeConfig struct {
	BaseFeePercent      string `mapstructure:"base_fee_percent"`      // e.g. "0.05" for 5%
	MinFeeAmount        string `mapstructure:"min_fee_amount"`        // 0 disables the floor
	SmallTradeThreshold string `mapstructure:"small_trade_threshold"` // floor applies below this amount
	FirstTradeFree      bool   `mapstructure:"first_trade_free"`
}

// BaseFeePercentDecimal parses the base fee percentage
func (f FeeConfig) BaseFeePercentDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(f.BaseFeePercent)
}

// MinFeeAmountDecimal parses the minimum fee amount
func (f FeeConfig) MinFeeAmountDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(f.MinFeeAmount)
}

// SmallTradeThresholdDecimal parses the small-trade threshold
func (f FeeConfig) SmallTradeThresholdDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(f.SmallTradeThreshold)
}

// EscrowConfig holds escrow lifecycle timing settings
type EscrowConfig struct {
	DeliveryWindow time.Duration `mapstructure:"delivery_window"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	ExpiryWindow   time.Duration `mapstructure:"expiry_window"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// RatesConfig holds exchange-rate oracle settings
type RatesConfig struct {
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	MarkupPercent string        `mapstructure:"markup_percent"`
	USDNGNFixed   string        `mapstructure:"usd_ngn_fixed"` // optional fixed-rate override
}

// PaymentsConfig selects and configures the payment provider
type PaymentsConfig struct {
	Provider       string `mapstructure:"provider"` // blockbee, dynopay, kraken
	BlockBeeAPIKey string `mapstructure:"blockbee_api_key"`
	DynoPayAPIKey  string `mapstructure:"dynopay_api_key"`
	KrakenAPIKey   string `mapstructure:"kraken_api_key"`
	KrakenSecret   string `mapstructure:"kraken_secret"`
	CallbackURL    string `mapstructure:"callback_url"`
}

// LoadConfig loads configuration from config.yaml and environment variables
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("ESCROW")

	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config.yaml", "./configs/config.yaml", "/etc/escrowd/config.yaml"}
	}
	for _, path := range paths {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			// Missing files are fine, defaults and env cover them
			continue
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults applies default values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("fees.base_fee_percent", "0.05")
	v.SetDefault("fees.min_fee_amount", "0.50")
	v.SetDefault("fees.small_trade_threshold", "20.00")
	v.SetDefault("fees.first_trade_free", true)
	v.SetDefault("escrow.delivery_window", 24*time.Hour)
	v.SetDefault("escrow.grace_period", 12*time.Hour)
	v.SetDefault("escrow.expiry_window", 2*time.Hour)
	v.SetDefault("escrow.sweep_interval", 5*time.Minute)
	v.SetDefault("rates.cache_ttl", 5*time.Minute)
	v.SetDefault("rates.markup_percent", "0.015")
	v.SetDefault("payments.provider", "blockbee")
}

// validate checks configuration consistency before services start
func validate(cfg *Config) error {
	var violations []string

	if base, err := cfg.Fees.BaseFeePercentDecimal(); err != nil {
		violations = append(violations, fmt.Sprintf("fees.base_fee_percent: %v", err))
	} else if base.IsNegative() || base.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		violations = append(violations, "fees.base_fee_percent must be in [0,1)")
	}
	if min, err := cfg.Fees.MinFeeAmountDecimal(); err != nil {
		violations = append(violations, fmt.Sprintf("fees.min_fee_amount: %v", err))
	} else if min.IsNegative() {
		violations = append(violations, "fees.min_fee_amount must not be negative")
	}
	if _, err := cfg.Fees.SmallTradeThresholdDecimal(); err != nil {
		violations = append(violations, fmt.Sprintf("fees.small_trade_threshold: %v", err))
	}
	switch cfg.Payments.Provider {
	case "blockbee", "dynopay", "kraken":
	default:
		violations = append(violations, fmt.Sprintf("payments.provider: unsupported provider %q", cfg.Payments.Provider))
	}

	if len(violations) > 0 {
		return fmt.Errorf("%s", strings.Join(violations, "; "))
	}
	return nil
}
