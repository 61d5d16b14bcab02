package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "sjsage522/pricewatch/pkg/errors"
)

// Supported price store drivers
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	// Tracked products
	ProductsFile string

	// Price store configuration
	StoreDriver string
	StoreDSN    string

	// Fetcher configuration
	FetchTimeout time.Duration
	RequestDelay time.Duration

	// Telegram configuration
	BotToken          string
	ChatID            string
	TelegramAPIBase   string
	NotifyOnFirstSeen bool

	// Redis configuration, publishing is disabled when RedisAddr is empty
	RedisAddr         string
	RedisDB           int
	RedisStream       string
	RedisStreamMaxLen int

	// Memcache configuration, site cooldown is disabled when MemcacheAddr is empty
	MemcacheAddr string
	SiteCooldown time.Duration

	// Reporting and dashboard
	ReportDir  string
	ServerAddr string

	// Per-product failure log, disabled when empty
	ErrorLogFile string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamMaxLen, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LEN", "1000"))
	fetchTimeout, _ := strconv.Atoi(getEnv("FETCH_TIMEOUT_SECONDS", "20"))
	requestDelay, _ := strconv.Atoi(getEnv("REQUEST_DELAY_MS", "3000"))
	cooldown, _ := strconv.Atoi(getEnv("SITE_COOLDOWN_SECONDS", "1800"))
	notifyFirst, _ := strconv.ParseBool(getEnv("NOTIFY_ON_FIRST_SEEN", "false"))

	return &Config{
		ProductsFile:      getEnv("PRODUCTS_FILE", "products.json"),
		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		StoreDSN:          getEnv("STORE_DSN", "prices.db"),
		FetchTimeout:      time.Duration(fetchTimeout) * time.Second,
		RequestDelay:      time.Duration(requestDelay) * time.Millisecond,
		BotToken:          os.Getenv("BOT_TOKEN"),
		ChatID:            os.Getenv("CHAT_ID"),
		TelegramAPIBase:   getEnv("TELEGRAM_API_BASE", "https://api.telegram.org"),
		NotifyOnFirstSeen: notifyFirst,
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisDB:           redisDB,
		RedisStream:       getEnv("REDIS_STREAM", "pricewatch:drops"),
		RedisStreamMaxLen: streamMaxLen,
		MemcacheAddr:      os.Getenv("MEMCACHE_ADDR"),
		SiteCooldown:      time.Duration(cooldown) * time.Second,
		ReportDir:         getEnv("REPORT_DIR", "report"),
		ServerAddr:        getEnv("SERVER_ADDR", ":8080"),
		ErrorLogFile:      os.Getenv("ERROR_LOG_FILE"),
		Environment:       getEnv("PRICEWATCH_ENVIRONMENT", "development"),
	}
}

// Validate checks the settings every command depends on
func (c *Config) Validate() error {
	if c.ProductsFile == "" {
		return apperrors.NewConfiguration("PRODUCTS_FILE must be set", nil)
	}

	switch c.StoreDriver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return apperrors.NewConfiguration(fmt.Sprintf("unsupported STORE_DRIVER %q", c.StoreDriver), nil)
	}

	if c.StoreDSN == "" {
		return apperrors.NewConfiguration("STORE_DSN must be set", nil)
	}

	if c.FetchTimeout <= 0 {
		return apperrors.NewConfiguration("FETCH_TIMEOUT_SECONDS must be positive", nil)
	}

	if c.RequestDelay < 0 {
		return apperrors.NewConfiguration("REQUEST_DELAY_MS must not be negative", nil)
	}

	if c.RedisAddr != "" && c.RedisStream == "" {
		return apperrors.NewConfiguration("REDIS_STREAM must be set when REDIS_ADDR is set", nil)
	}

	return nil
}

// ValidateNotifier checks the messaging credentials required by the run command
func (c *Config) ValidateNotifier() error {
	if c.BotToken == "" || c.ChatID == "" {
		return apperrors.NewConfiguration("BOT_TOKEN and CHAT_ID must be set", nil)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
