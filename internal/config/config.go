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

	HTTPAddr string

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

	// RetentionGracePeriod is the window between ScheduleDeletion and the
	// sweep marking the principal expired.
	RetentionGracePeriod      time.Duration
	AuditArchiveRetentionDays int

	SweepInterval  time.Duration
	SweepBatchSize int

	RateLimit RateLimitConfig

	Cloud CloudConfig

	Bootstrap BootstrapConfig
}

// BootstrapConfig seeds a first privileged principal so a fresh install is
// usable without manual SQL.
type BootstrapConfig struct {
	EnsureSuperAdmin bool
	SuperAdminEmail  string
}

// RateLimitConfig configures the redis-backed usage ingest limiter.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PrincipalRate  float64
	PrincipalBurst int
	EndpointRate   float64
	EndpointBurst  int

	SweepLockTTLSeconds int
}

// CloudConfig configures optional hosted-mode metric reporting.
type CloudConfig struct {
	OrganizationID string
	Metrics        CloudMetricsConfig
}

type CloudMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "quotaguard"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "quotaguard"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RetentionGracePeriod:      time.Duration(getenvInt("RETENTION_GRACE_PERIOD_DAYS", 14)) * 24 * time.Hour,
		AuditArchiveRetentionDays: getenvInt("AUDIT_ARCHIVE_RETENTION_DAYS", 0),

		SweepInterval:  time.Duration(getenvInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		SweepBatchSize: getenvInt("SWEEP_BATCH_SIZE", 50),

		RateLimit: RateLimitConfig{
			Enabled:             getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:           strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword:       strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:             getenvInt("RATE_LIMIT_REDIS_DB", 0),
			PrincipalRate:       getenvFloat("RATE_LIMIT_PRINCIPAL_RATE", 20),
			PrincipalBurst:      getenvInt("RATE_LIMIT_PRINCIPAL_BURST", 40),
			EndpointRate:        getenvFloat("RATE_LIMIT_ENDPOINT_RATE", 500),
			EndpointBurst:       getenvInt("RATE_LIMIT_ENDPOINT_BURST", 1000),
			SweepLockTTLSeconds: getenvInt("SWEEP_LOCK_TTL_SECONDS", 120),
		},

		Cloud: CloudConfig{
			OrganizationID: strings.TrimSpace(getenv("CLOUD_ORGANIZATION_ID", "")),
			Metrics: CloudMetricsConfig{
				Enabled:   getenvBool("CLOUD_METRICS_ENABLED", false),
				Exporter:  strings.TrimSpace(getenv("CLOUD_METRICS_EXPORTER", "prometheus_remote_write")),
				Endpoint:  strings.TrimSpace(getenv("CLOUD_METRICS_ENDPOINT", "")),
				AuthToken: strings.TrimSpace(getenv("CLOUD_METRICS_AUTH_TOKEN", "")),
			},
		},

		Bootstrap: BootstrapConfig{
			EnsureSuperAdmin: getenvBool("BOOTSTRAP_ENSURE_SUPERADMIN", true),
			SuperAdminEmail:  strings.TrimSpace(getenv("BOOTSTRAP_SUPERADMIN_EMAIL", "admin@quotaguard.local")),
		},
	}
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
