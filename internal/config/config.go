package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Module provides the application configuration and the hot-reloadable alert thresholds.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewThresholdsHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ConfigFile  string

	OTLPEndpoint  string
	HTTPAddr      string
	SnowflakeNode int64

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

	Redis         RedisConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig

	AuthJWTSecret string

	Payment      PaymentConfig
	Notification NotificationConfig
	Monitoring   MonitoringConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RateLimitConfig bounds authenticated API calls per user. It needs redis.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerSecond > 0 && c.Burst > 0
}

// ObservabilityConfig drives logging and OpenTelemetry export.
type ObservabilityConfig struct {
	LogLevel      string
	LogFormat     string
	OTLPProtocol  string
	OTelEnabled   bool
	SamplingRatio float64
}

type PaymentConfig struct {
	Currency string
}

type NotificationConfig struct {
	PushTimeout         time.Duration
	BulkPushConcurrency int
	CleanupAgeDays      int
}

type MonitoringConfig struct {
	SampleInterval  time.Duration
	AlertInterval   time.Duration
	RetryInterval   time.Duration
	CleanupInterval time.Duration
	MetricRetention time.Duration
	DataDir         string
	EnabledJobs     []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	_ = v.BindEnv("OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTLP_ENDPOINT")
	_ = v.BindEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL")

	environment := v.GetString("ENVIRONMENT")

	return Config{
		AppName:           v.GetString("APP_SERVICE"),
		AppVersion:        v.GetString("APP_VERSION"),
		Environment:       environment,
		ConfigFile:        strings.TrimSpace(v.GetString("CONFIG_FILE")),
		OTLPEndpoint:      v.GetString("OTLP_ENDPOINT"),
		HTTPAddr:          v.GetString("HTTP_ADDR"),
		SnowflakeNode:     v.GetInt64("SNOWFLAKE_NODE"),
		DBType:            v.GetString("DATABASE_TYPE"),
		DBHost:            v.GetString("DATABASE_HOST"),
		DBPort:            v.GetString("DATABASE_PORT"),
		DBName:            v.GetString("DATABASE_NAME"),
		DBUser:            v.GetString("DATABASE_USER"),
		DBPassword:        v.GetString("DATABASE_PASSWORD"),
		DBSSLMode:         v.GetString("DATABASE_SSLMODE"),
		DBMaxIdleConn:     v.GetInt("DATABASE_MAX_IDLE_CONN"),
		DBMaxOpenConn:     v.GetInt("DATABASE_MAX_OPEN_CONN"),
		DBConnMaxLifetime: v.GetInt("DATABASE_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTime: v.GetInt("DATABASE_CONN_MAX_IDLE_TIME"),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("API_RATE_LIMIT_RPS"),
			Burst:             v.GetInt("API_RATE_LIMIT_BURST"),
		},
		Observability: ObservabilityConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
			OTLPProtocol:  strings.ToLower(strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL"))),
			OTelEnabled:   otelEnabled(v, environment),
			SamplingRatio: v.GetFloat64("OTEL_SAMPLING_RATIO"),
		},
		AuthJWTSecret: strings.TrimSpace(v.GetString("AUTH_JWT_SECRET")),
		Payment: PaymentConfig{
			Currency: strings.ToUpper(strings.TrimSpace(v.GetString("PAYMENT_CURRENCY"))),
		},
		Notification: NotificationConfig{
			PushTimeout:         v.GetDuration("NOTIFICATION_PUSH_TIMEOUT"),
			BulkPushConcurrency: v.GetInt("NOTIFICATION_BULK_PUSH_CONCURRENCY"),
			CleanupAgeDays:      v.GetInt("NOTIFICATION_CLEANUP_AGE_DAYS"),
		},
		Monitoring: MonitoringConfig{
			SampleInterval:  v.GetDuration("MONITORING_SAMPLE_INTERVAL"),
			AlertInterval:   v.GetDuration("MONITORING_ALERT_INTERVAL"),
			RetryInterval:   v.GetDuration("MONITORING_RETRY_INTERVAL"),
			CleanupInterval: v.GetDuration("MONITORING_CLEANUP_INTERVAL"),
			MetricRetention: v.GetDuration("MONITORING_METRIC_RETENTION"),
			DataDir:         v.GetString("MONITORING_DATA_DIR"),
			EnabledJobs:     splitList(v.GetString("SCHEDULER_ENABLED_JOBS")),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_SERVICE", "smajobb")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("SNOWFLAKE_NODE", 1)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	v.SetDefault("OTEL_SAMPLING_RATIO", 0.1)

	v.SetDefault("DATABASE_TYPE", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "smajobb")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_IDLE_CONN", 10)
	v.SetDefault("DATABASE_MAX_OPEN_CONN", 50)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 3600)
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", 300)

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("API_RATE_LIMIT_RPS", 10)
	v.SetDefault("API_RATE_LIMIT_BURST", 40)

	v.SetDefault("PAYMENT_CURRENCY", "SEK")

	v.SetDefault("NOTIFICATION_PUSH_TIMEOUT", 5*time.Second)
	v.SetDefault("NOTIFICATION_BULK_PUSH_CONCURRENCY", 16)
	v.SetDefault("NOTIFICATION_CLEANUP_AGE_DAYS", 30)

	v.SetDefault("MONITORING_SAMPLE_INTERVAL", time.Minute)
	v.SetDefault("MONITORING_ALERT_INTERVAL", 5*time.Minute)
	v.SetDefault("MONITORING_RETRY_INTERVAL", 5*time.Minute)
	v.SetDefault("MONITORING_CLEANUP_INTERVAL", time.Hour)
	v.SetDefault("MONITORING_METRIC_RETENTION", 7*24*time.Hour)
	v.SetDefault("MONITORING_DATA_DIR", os.TempDir())
}

// otelEnabled honours OTEL_ENABLED when it parses and otherwise exports only
// from production.
func otelEnabled(v *viper.Viper, environment string) bool {
	if raw := strings.TrimSpace(v.GetString("OTEL_ENABLED")); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			return enabled
		}
	}
	return strings.EqualFold(strings.TrimSpace(environment), "production")
}

// IsProduction reports whether the service runs in the production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
