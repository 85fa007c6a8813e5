package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoMegaBot/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading Parameters
	Symbol    string
	Leverage  int
	Quantity  float64 // Default quantity if not using dynamic sizing
	MaxOrders int     // Max trades per day
	StopLoss  float64 // Stop loss percentage (e.g., 0.0025 for 0.25%)
	MinProfit float64 // Minimum profit target percentage (e.g., 0.01 for 1%)
	MaxProfit float64 // Maximum profit target percentage (e.g., 0.03 for 3%)

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// Connection Settings (Example for Binance client)
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Other (Example)
	MinAvailableBalance float64 // Minimum available balance required for trading

	// §6.4 — C1/C7 exchange selection
	UseRealExchange bool   // false runs the engine against binanceclient.Mock
	ExchangeID      string // venue identifier tag, e.g. "binance"
	UseTestnet      bool

	// §6.2 — C3 key store (Redis)
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	// §6.2 — C3 encryption-at-rest
	EncryptionKey  string
	EncryptionSalt string

	// §4.3 — C3 key lifecycle defaults
	APIKeyDefaultExpiryDays           int
	APIKeyRotationGracePeriodHours    int
	APIKeyAutoRotationEnabled         bool
	APIKeyNotificationWindowDays      int

	// §6.4 — exchange-wide rate limit; parsed and validated here, not read
	// by any component
	RateLimitPerMinute int

	// §4.2 — C2 Reliable Executor tunables
	ExecutorMaxRetries      int
	ExecutorBaseDelay       time.Duration
	ExecutorCircuitCapacity int
	ExecutorOpenTimeout     time.Duration
	ExecutorVerifyMaxPolls  int
	ExecutorVerifyInterval  time.Duration
	ExecutorIdempotencyTTL  time.Duration

	// §4.6 — C6 Order Dispatcher risk limits
	RiskMaxDrawdownPct      float64
	RiskDailyLossLimitPct   float64
	RiskMaxConsecutiveLoss  int

	// §4.4 — C4 Market-Data Ingestor
	MarketDataStaleMultiplier int // heartbeat fires after N x timeframe with no bar
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Basic API Key validation (can be enhanced)
	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading Parameters
	cfg.Symbol = getEnv("SYMBOL", "ETHUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 4)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.Quantity, err = getEnvAsFloatRequired("QUANTITY", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid QUANTITY: %v", err))
	} else if cfg.Quantity <= 0 {
		errs = append(errs, "QUANTITY must be positive")
	}

	cfg.MaxOrders, err = getEnvAsIntRequired("MAX_ORDERS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ORDERS: %v", err))
	} else if cfg.MaxOrders < 0 {
		errs = append(errs, "MAX_ORDERS cannot be negative")
	}

	cfg.StopLoss, err = getEnvAsFloatRequired("STOP_LOSS", 0.0025)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS: %v", err))
	} else if cfg.StopLoss <= 0 || cfg.StopLoss >= 1.0 {
		errs = append(errs, "STOP_LOSS must be between 0.0 and 1.0 (exclusive)")
	}

	// Load Min/Max Profit targets
	cfg.MinProfit, err = getEnvAsFloatRequired("MIN_PROFIT", 0.01) // Default 1%
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_PROFIT: %v", err))
	} else if cfg.MinProfit <= 0 {
		errs = append(errs, "MIN_PROFIT must be positive")
	}

	cfg.MaxProfit, err = getEnvAsFloatRequired("MAX_PROFIT", 0.03) // Default 3%
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_PROFIT: %v", err))
	} else if cfg.MaxProfit <= 0 {
		errs = append(errs, "MAX_PROFIT must be positive")
	}

	if cfg.MinProfit >= cfg.MaxProfit {
		errs = append(errs, "MIN_PROFIT must be less than MAX_PROFIT")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trading_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Other
	cfg.MinAvailableBalance, err = getEnvAsFloatRequired("MIN_AVAILABLE_BALANCE", 100.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_AVAILABLE_BALANCE: %v", err))
	} else if cfg.MinAvailableBalance < 0 {
		errs = append(errs, "MIN_AVAILABLE_BALANCE cannot be negative")
	}

	// C1/C7 exchange selection
	cfg.UseRealExchange = getEnvAsBool("USE_REAL_EXCHANGE", false)
	cfg.ExchangeID = getEnv("EXCHANGE_ID", "binance")
	cfg.UseTestnet = getEnvAsBool("USE_TESTNET", true)

	// C3 key store (Redis)
	cfg.RedisHost = getEnv("REDIS_HOST", "localhost")
	cfg.RedisPort = getEnvAsInt("REDIS_PORT", 6379)
	cfg.RedisDB = getEnvAsInt("REDIS_DB", 0)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")

	// C3 encryption-at-rest — required whenever the key manager is reachable,
	// so absence is an error rather than a silently-insecure default.
	cfg.EncryptionKey = getEnv("ENCRYPTION_KEY", "")
	cfg.EncryptionSalt = getEnv("ENCRYPTION_SALT", "")
	if cfg.EncryptionKey == "" {
		errs = append(errs, "ENCRYPTION_KEY must be set")
	}
	if cfg.EncryptionSalt == "" {
		errs = append(errs, "ENCRYPTION_SALT must be set")
	}

	// C3 key lifecycle defaults
	cfg.APIKeyDefaultExpiryDays = getEnvAsInt("API_KEY_DEFAULT_EXPIRY_DAYS", 90)
	if cfg.APIKeyDefaultExpiryDays <= 0 {
		errs = append(errs, "API_KEY_DEFAULT_EXPIRY_DAYS must be positive")
	}
	cfg.APIKeyRotationGracePeriodHours = getEnvAsInt("API_KEY_ROTATION_GRACE_PERIOD_HOURS", 24)
	if cfg.APIKeyRotationGracePeriodHours < 0 {
		errs = append(errs, "API_KEY_ROTATION_GRACE_PERIOD_HOURS cannot be negative")
	}
	cfg.APIKeyAutoRotationEnabled = getEnvAsBool("API_KEY_AUTO_ROTATION_ENABLED", false)
	cfg.APIKeyNotificationWindowDays = getEnvAsInt("API_KEY_EXPIRY_NOTIFICATION_DAYS", 7)

	// Exchange-wide rate limit
	cfg.RateLimitPerMinute = getEnvAsInt("RATE_LIMIT_PER_MINUTE", 1200)
	if cfg.RateLimitPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_PER_MINUTE must be positive")
	}

	// C2 Reliable Executor tunables
	cfg.ExecutorMaxRetries = getEnvAsInt("EXECUTOR_MAX_RETRIES", 3)
	cfg.ExecutorBaseDelay = time.Duration(getEnvAsInt("EXECUTOR_BASE_DELAY_MS", 200)) * time.Millisecond
	cfg.ExecutorCircuitCapacity = getEnvAsInt("EXECUTOR_CIRCUIT_CAPACITY", 100)
	cfg.ExecutorOpenTimeout = time.Duration(getEnvAsInt("EXECUTOR_CIRCUIT_OPEN_TIMEOUT_SECONDS", 60)) * time.Second
	cfg.ExecutorVerifyMaxPolls = getEnvAsInt("EXECUTOR_VERIFY_MAX_POLLS", 5)
	cfg.ExecutorVerifyInterval = time.Duration(getEnvAsInt("EXECUTOR_VERIFY_INTERVAL_MS", 200)) * time.Millisecond
	cfg.ExecutorIdempotencyTTL = time.Duration(getEnvAsInt("EXECUTOR_IDEMPOTENCY_TTL_MINUTES", 5)) * time.Minute

	// C6 Order Dispatcher risk limits
	cfg.RiskMaxDrawdownPct = getEnvAsFloat("RISK_MAX_DRAWDOWN_PCT", 0.15)
	cfg.RiskDailyLossLimitPct = getEnvAsFloat("RISK_DAILY_LOSS_LIMIT_PCT", 0.05)
	cfg.RiskMaxConsecutiveLoss = getEnvAsInt("RISK_MAX_CONSECUTIVE_LOSSES", 5)
	if cfg.RiskMaxDrawdownPct <= 0 || cfg.RiskMaxDrawdownPct >= 1.0 {
		errs = append(errs, "RISK_MAX_DRAWDOWN_PCT must be between 0.0 and 1.0 (exclusive)")
	}
	if cfg.RiskDailyLossLimitPct <= 0 || cfg.RiskDailyLossLimitPct >= 1.0 {
		errs = append(errs, "RISK_DAILY_LOSS_LIMIT_PCT must be between 0.0 and 1.0 (exclusive)")
	}
	if cfg.RiskMaxConsecutiveLoss <= 0 {
		errs = append(errs, "RISK_MAX_CONSECUTIVE_LOSSES must be positive")
	}

	// C4 Market-Data Ingestor
	cfg.MarketDataStaleMultiplier = getEnvAsInt("MARKET_DATA_STALE_MULTIPLIER", 3)
	if cfg.MarketDataStaleMultiplier <= 0 {
		errs = append(errs, "MARKET_DATA_STALE_MULTIPLIER must be positive")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
