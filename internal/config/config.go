package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewBillingConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	SnowflakeNode int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RunMigrations bool

	RatingWorker RatingWorkerConfig
	RateLimit    RateLimitConfig
	Branding     BrandingConfig
}

// BrandingConfig feeds the HTML invoice view.
type BrandingConfig struct {
	CompanyName  string
	PrimaryColor string
	Currency     string
	FooterNotes  string
}

// RateLimitConfig configures the redis-backed ingestion limiter and worker lock.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	IngestCustomerRate  float64
	IngestCustomerBurst int
}

// RatingWorkerConfig controls the optional background rating loop.
type RatingWorkerConfig struct {
	Enabled      bool
	PollInterval time.Duration
	RunTimeout   time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "logibill"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		RunMigrations:     getenvBool("RUN_MIGRATIONS", true),
		RatingWorker: RatingWorkerConfig{
			Enabled:      getenvBool("RATING_WORKER_ENABLED", false),
			PollInterval: getenvDuration("RATING_WORKER_POLL_INTERVAL", 30*time.Second),
			RunTimeout:   getenvDuration("RATING_WORKER_RUN_TIMEOUT", 2*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:             getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:           getenv("REDIS_ADDR", ""),
			RedisPassword:       getenv("REDIS_PASSWORD", ""),
			RedisDB:             int(getenvInt64("REDIS_DB", 0)),
			IngestCustomerRate:  getenvFloat("RATE_LIMIT_INGEST_CUSTOMER_RATE", 50),
			IngestCustomerBurst: int(getenvInt64("RATE_LIMIT_INGEST_CUSTOMER_BURST", 200)),
		},
		Branding: BrandingConfig{
			CompanyName:  getenv("INVOICE_COMPANY_NAME", ""),
			PrimaryColor: getenv("INVOICE_PRIMARY_COLOR", ""),
			Currency:     getenv("INVOICE_CURRENCY", ""),
			FooterNotes:  getenv("INVOICE_FOOTER_NOTES", ""),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
