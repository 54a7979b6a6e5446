package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint  string
	Observability ObservabilityConfig

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AI         AIConfig
	CostGuard  CostGuardConfig
	Ledger     LedgerConfig
	Payment    PaymentConfig
	Scheduler  SchedulerConfig
	RateLimit  RateLimitConfig
	NodeNumber int64
}

// ObservabilityConfig holds logging and telemetry settings.
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	TracingEnabled bool
	OTLPProtocol   string
	SamplingRatio  float64
	SlowQuery      time.Duration
}

// AIConfig configures the content generator.
type AIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// CostGuardConfig holds default spend safety limits.
type CostGuardConfig struct {
	DefaultDailyCapUSD string
	SoftAlertRatio     string
	PauseDuration      time.Duration
	UsageRetentionDays int
}

// LedgerConfig holds token pricing for billable operations.
type LedgerConfig struct {
	QualificationTurnCost string
}

// PaymentConfig configures payment reconciliation.
type PaymentConfig struct {
	WebhookSecret         string
	TokensPerCurrencyUnit string
}

// SchedulerConfig holds cron specs for maintenance jobs.
type SchedulerConfig struct {
	Enabled         bool
	UsagePurgeSpec  string
	PauseSweepSpec  string
	JobTimeout      time.Duration
	PurgeBatchLimit int
}

// RateLimitConfig configures the per-tenant AI request token bucket.
type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Rate     float64
}

const maxAITimeout = 30 * time.Second

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	aiTimeout := time.Duration(getenvInt64("AI_TIMEOUT_SECONDS", 30)) * time.Second
	if aiTimeout <= 0 || aiTimeout > maxAITimeout {
		aiTimeout = maxAITimeout
	}

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "leadcore"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		Observability: ObservabilityConfig{
			LogLevel:       getenv("LOG_LEVEL", "info"),
			LogFormat:      getenv("LOG_FORMAT", "json"),
			TracingEnabled: getenvBool("OTEL_ENABLED", false),
			OTLPProtocol:   getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
			SamplingRatio:  getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			SlowQuery:      time.Duration(getenvInt64("DATABASE_SLOW_QUERY_MS", 200)) * time.Millisecond,
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "leadcore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		AI: AIConfig{
			APIKey:  strings.TrimSpace(getenv("AI_PROVIDER_API_KEY", "")),
			Model:   getenv("AI_MODEL", "gemini-2.0-flash"),
			Timeout: aiTimeout,
		},
		CostGuard: CostGuardConfig{
			DefaultDailyCapUSD: getenv("COSTGUARD_DEFAULT_DAILY_CAP_USD", "10"),
			SoftAlertRatio:     getenv("COSTGUARD_SOFT_ALERT_RATIO", "0.8"),
			PauseDuration:      time.Duration(getenvInt64("COSTGUARD_PAUSE_SECONDS", 86400)) * time.Second,
			UsageRetentionDays: int(getenvInt64("USAGE_RETENTION_DAYS", 90)),
		},
		Ledger: LedgerConfig{
			QualificationTurnCost: getenv("QUALIFICATION_TURN_COST", "1"),
		},
		Payment: PaymentConfig{
			WebhookSecret:         strings.TrimSpace(getenv("PAYMENT_WEBHOOK_SECRET", "")),
			TokensPerCurrencyUnit: getenv("TOKENS_PER_CURRENCY_UNIT", "1"),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			UsagePurgeSpec:  getenv("SCHEDULER_USAGE_PURGE_SPEC", "15 3 * * *"),
			PauseSweepSpec:  getenv("SCHEDULER_PAUSE_SWEEP_SPEC", "*/5 * * * *"),
			JobTimeout:      time.Duration(getenvInt64("SCHEDULER_JOB_TIMEOUT_SECONDS", 60)) * time.Second,
			PurgeBatchLimit: int(getenvInt64("SCHEDULER_PURGE_BATCH_LIMIT", 1000)),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getenvBool("AI_RATE_LIMIT_ENABLED", false),
			Capacity: int(getenvInt64("AI_RATE_LIMIT_CAPACITY", 20)),
			Rate:     getenvFloat("AI_RATE_LIMIT_PER_SECOND", 1),
		},
		NodeNumber: getenvInt64("NODE_NUMBER", 1),
	}

	return cfg
}

// IsProduction reports whether the service runs in production.
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
