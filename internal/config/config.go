package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// キャッシュバックエンド
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Admin API
	AdminAPIToken string

	// ConvertKit
	ConvertKitBaseURL   string
	ConvertKitTimeout   time.Duration
	ConvertKitRateLimit int // req/min
	FormsCacheTTL       time.Duration
	HTML5Enabled        bool

	// Cache
	CacheBackend            string
	RedisURL                string
	CacheNamespaceByAccount bool

	// Feed jobs
	AsyncFeedProcessing bool
	JobPollInterval     time.Duration
	JobMaxConcurrent    int
	JobMaxAttempts      int
	JobRetentionDays    int

	// Webhook
	SuccessWebhookURL     string
	SuccessWebhookTimeout time.Duration

	// Legacy
	LegacyTablePrefix string

	// Rate Limit
	RateLimitSubmissions int // req/min per IP

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AdminAPIToken = os.Getenv("ADMIN_API_TOKEN")
	if cfg.AdminAPIToken == "" {
		missing = append(missing, "ADMIN_API_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ConvertKitBaseURL = getEnvString("CONVERTKIT_BASE_URL", "https://api.convertkit.com/")
	cfg.ConvertKitTimeout = getEnvDuration("CONVERTKIT_TIMEOUT", 30*time.Second)
	cfg.ConvertKitRateLimit = getEnvInt("CONVERTKIT_RATE_LIMIT", 120)
	cfg.FormsCacheTTL = getEnvDuration("FORMS_CACHE_TTL", time.Hour)
	cfg.HTML5Enabled = getEnvBool("HTML5_ENABLED", true)
	cfg.CacheBackend = strings.ToLower(getEnvString("CACHE_BACKEND", CacheBackendMemory))
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.CacheNamespaceByAccount = getEnvBool("CACHE_NAMESPACE_BY_ACCOUNT", false)
	cfg.AsyncFeedProcessing = getEnvBool("ASYNC_FEED_PROCESSING", true)
	cfg.JobPollInterval = getEnvDuration("JOB_POLL_INTERVAL", 10*time.Second)
	cfg.JobMaxConcurrent = getEnvInt("JOB_MAX_CONCURRENT", 4)
	cfg.JobMaxAttempts = getEnvInt("JOB_MAX_ATTEMPTS", 5)
	cfg.JobRetentionDays = getEnvInt("JOB_RETENTION_DAYS", 30)
	cfg.SuccessWebhookURL = getEnvString("SUCCESS_WEBHOOK_URL", "")
	cfg.SuccessWebhookTimeout = getEnvDuration("SUCCESS_WEBHOOK_TIMEOUT", 10*time.Second)
	cfg.LegacyTablePrefix = getEnvString("LEGACY_TABLE_PREFIX", "wp_")
	cfg.RateLimitSubmissions = getEnvInt("RATE_LIMIT_SUBMISSIONS", 60)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	switch cfg.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when CACHE_BACKEND=%s", CacheBackendRedis)
		}
	default:
		return nil, fmt.Errorf("unsupported CACHE_BACKEND: %q", cfg.CacheBackend)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
