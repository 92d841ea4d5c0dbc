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

	LogLevel  string
	LogFormat string
	Otel      OtelConfig

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
	DBAutoMigrate     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KillBill KillBillConfig
	Pipeline PipelineConfig

	// BillingTimezone decides which calendar day counts as "today" when batching.
	BillingTimezone string
	// MeterConfigFile points at the hot-reloaded meter.yaml; empty searches the default paths.
	MeterConfigFile string
}

type OtelConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

type KillBillConfig struct {
	URL       string
	Username  string
	Password  string
	APIKey    string
	APISecret string
	CreatedBy string
	Timeout   time.Duration
}

type PipelineConfig struct {
	Enabled      bool
	Interval     time.Duration
	StageTimeout time.Duration
	LockTTL      time.Duration
	// Stages limits which stages RunOnce executes; empty runs all of them.
	Stages []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "meter"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "killbill"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		Otel: OtelConfig{
			Enabled:       getenvBool("OTEL_ENABLED", false),
			Endpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			Protocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		KillBill: KillBillConfig{
			URL:       strings.TrimRight(getenv("KILLBILL_URL", "http://localhost:8080"), "/"),
			Username:  getenv("KILLBILL_USERNAME", "admin"),
			Password:  getenv("KILLBILL_PASSWORD", "password"),
			APIKey:    strings.TrimSpace(getenv("KILLBILL_API_KEY", "")),
			APISecret: strings.TrimSpace(getenv("KILLBILL_API_SECRET", "")),
			CreatedBy: getenv("KILLBILL_CREATED_BY", "meter"),
			Timeout:   getenvDuration("KILLBILL_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			Enabled:      getenvBool("PIPELINE_ENABLED", true),
			Interval:     getenvDuration("PIPELINE_INTERVAL", 15*time.Minute),
			StageTimeout: getenvDuration("PIPELINE_STAGE_TIMEOUT", 10*time.Minute),
			LockTTL:      getenvDuration("PIPELINE_LOCK_TTL", 45*time.Minute),
			Stages:       getenvList("PIPELINE_STAGES"),
		},
		BillingTimezone: getenv("BILLING_TIMEZONE", "UTC"),
		MeterConfigFile: strings.TrimSpace(getenv("METER_CONFIG_FILE", "")),
	}

	return cfg
}

// Location resolves BillingTimezone, falling back to UTC.
func (c Config) Location() *time.Location {
	name := strings.TrimSpace(c.BillingTimezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
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

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 || parsed > 1 {
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
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
