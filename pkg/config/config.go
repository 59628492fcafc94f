package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	RateLimit   RateLimitConfig
	Analytics   AnalyticsConfig
	Results     ResultsConfig
	Risk        RiskConfig
	Transcripts TranscriptsConfig
	Tracing     TracingConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// LogConfig selects log level, encoding and optional rotating file output.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// AnalyticsConfig governs caching of analytics responses.
type AnalyticsConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// ResultsConfig holds settings for the academic results core.
type ResultsConfig struct {
	VerificationBaseURL     string
	LockSemesterConcurrency int
	ImportMaxFileSize       int64
}

// RiskConfig sizes the dropout-risk worker queue.
type RiskConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// TranscriptsConfig controls parent signature links.
type TranscriptsConfig struct {
	SignatureLinkSecret  string
	SignatureLinkTTL     time.Duration
	RequireSignatureLink bool
}

// TracingConfig toggles OpenTelemetry export.
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	JaegerEndpoint string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:      v.GetString("LOG_LEVEL"),
		Format:     v.GetString("LOG_FORMAT"),
		File:       v.GetString("LOG_FILE"),
		MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
		MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
		MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:  v.GetBool("RATE_LIMIT_ENABLED"),
		Requests: v.GetInt("RATE_LIMIT_REQUESTS"),
		Window:   parseDuration(v.GetString("RATE_LIMIT_WINDOW"), time.Minute),
	}

	cfg.Analytics = AnalyticsConfig{
		CacheEnabled: v.GetBool("ENABLE_ANALYTICS_CACHE"),
		CacheTTL:     parseDuration(v.GetString("ANALYTICS_CACHE_TTL"), 10*time.Minute),
	}

	concurrency := v.GetInt("LOCK_SEMESTER_CONCURRENCY")
	if concurrency <= 0 || concurrency > 10 {
		concurrency = 10
	}
	maxImport := v.GetInt64("IMPORT_MAX_FILE_SIZE")
	if maxImport <= 0 {
		maxImport = 2 * 1024 * 1024
	}
	cfg.Results = ResultsConfig{
		VerificationBaseURL:     strings.TrimRight(v.GetString("VERIFICATION_BASE_URL"), "/"),
		LockSemesterConcurrency: concurrency,
		ImportMaxFileSize:       maxImport,
	}

	cfg.Risk = RiskConfig{
		Workers:    v.GetInt("RISK_WORKERS"),
		BufferSize: v.GetInt("RISK_QUEUE_BUFFER"),
		MaxRetries: v.GetInt("RISK_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("RISK_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Transcripts = TranscriptsConfig{
		SignatureLinkSecret:  v.GetString("SIGNATURE_LINK_SECRET"),
		SignatureLinkTTL:     parseDuration(v.GetString("SIGNATURE_LINK_TTL"), 7*24*time.Hour),
		RequireSignatureLink: v.GetBool("REQUIRE_SIGNATURE_LINK"),
	}

	cfg.Tracing = TracingConfig{
		Enabled:        v.GetBool("ENABLE_TRACING"),
		ServiceName:    v.GetString("TRACING_SERVICE_NAME"),
		JaegerEndpoint: v.GetString("JAEGER_ENDPOINT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campus_results")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 30)

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_REQUESTS", 300)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")

	v.SetDefault("ENABLE_ANALYTICS_CACHE", true)
	v.SetDefault("ANALYTICS_CACHE_TTL", "10m")

	v.SetDefault("VERIFICATION_BASE_URL", "http://localhost:8080/api/v1/results/verify")
	v.SetDefault("LOCK_SEMESTER_CONCURRENCY", 10)
	v.SetDefault("IMPORT_MAX_FILE_SIZE", 2*1024*1024)

	v.SetDefault("RISK_WORKERS", 2)
	v.SetDefault("RISK_QUEUE_BUFFER", 256)
	v.SetDefault("RISK_MAX_RETRIES", 3)
	v.SetDefault("RISK_RETRY_DELAY", "2s")

	v.SetDefault("SIGNATURE_LINK_SECRET", "dev_signature_secret")
	v.SetDefault("SIGNATURE_LINK_TTL", "168h")
	v.SetDefault("REQUIRE_SIGNATURE_LINK", false)

	v.SetDefault("ENABLE_TRACING", false)
	v.SetDefault("TRACING_SERVICE_NAME", "campus-results-api")
	v.SetDefault("JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// viper reports a missing explicit config file as a plain *fs.PathError.
func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}
