package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds all configuration for farmdash
type Config struct {
	// Redis configuration
	RedisURL string

	// Database configuration
	Database DatabaseConfig

	// Chain configuration
	RPCEndpoints []string
	RPCRateLimit float64
	Account      string
	FarmsFile    string

	// Price configuration
	PriceAPIURL string
	PriceChain  string
	PriceTTL    time.Duration

	// Refresh configuration
	RefreshInterval   time.Duration
	ClaimTickInterval time.Duration
	ReadTimeout       time.Duration

	// Action configuration
	ResultPollInterval time.Duration
	StuckActionTimeout time.Duration

	// Logging configuration
	LogLevel string
	Env      string

	// Server configuration
	HTTPAddr    string
	MetricsPort string
}

// DatabaseConfig holds the postgres connection settings
type DatabaseConfig struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     string
	SSLMode  string
}

// DSN returns the postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			User:     getEnv("DB_USER", ""),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", ""),
			Port:     getEnv("DB_PORT", "5432"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Account:     getEnv("ACCOUNT_ADDRESS", ""),
		FarmsFile:   getEnv("FARMS_FILE", "farms.yaml"),
		PriceAPIURL: getEnv("PRICE_API_URL", "https://coins.llama.fi"),
		PriceChain:  getEnv("PRICE_CHAIN", "avax"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Env:         getEnv("API_ENV", "production"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsPort: getEnv("METRICS_PORT", "9100"),
	}

	// Parse RPC endpoints
	rpcEndpointsStr := getEnv("RPC_ENDPOINTS", "")
	if rpcEndpointsStr == "" {
		return cfg, fmt.Errorf("RPC_ENDPOINTS environment variable is required")
	}
	for _, endpoint := range strings.Split(rpcEndpointsStr, ",") {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			cfg.RPCEndpoints = append(cfg.RPCEndpoints, endpoint)
		}
	}

	var err error
	cfg.RPCRateLimit, err = parseFloatEnv("RPC_RATE_LIMIT", 2)
	if err != nil {
		return cfg, fmt.Errorf("invalid RPC_RATE_LIMIT: %w", err)
	}

	durations := []struct {
		key    string
		def    time.Duration
		target *time.Duration
	}{
		{"REFRESH_INTERVAL", 30 * time.Second, &cfg.RefreshInterval},
		{"CLAIM_TICK_INTERVAL", time.Second, &cfg.ClaimTickInterval},
		{"READ_TIMEOUT", 10 * time.Second, &cfg.ReadTimeout},
		{"PRICE_TTL", time.Minute, &cfg.PriceTTL},
		{"RESULT_POLL_INTERVAL", 2 * time.Second, &cfg.ResultPollInterval},
		{"STUCK_ACTION_TIMEOUT", 10 * time.Minute, &cfg.StuckActionTimeout},
	}
	for _, d := range durations {
		if *d.target, err = parseDurationEnv(d.key, d.def); err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", d.key, err)
		}
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}

	if c.RPCRateLimit <= 0 {
		return fmt.Errorf("RPC_RATE_LIMIT must be positive")
	}

	if c.Account == "" {
		return fmt.Errorf("ACCOUNT_ADDRESS is required")
	}
	if !common.IsHexAddress(c.Account) {
		return fmt.Errorf("invalid ACCOUNT_ADDRESS: %s", c.Account)
	}

	if c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive")
	}
	if c.ClaimTickInterval <= 0 {
		return fmt.Errorf("CLAIM_TICK_INTERVAL must be positive")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.LogLevel)
	}

	return nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseFloatEnv parses a float environment variable with a default value
func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(str, 64)
}

// parseDurationEnv parses a duration environment variable with a default value
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(str)
}
