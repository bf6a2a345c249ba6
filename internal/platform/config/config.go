package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	strs "signlink/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr    string
	BaseURL string
	// APIKey guards external link issuance; AdminKey guards the dashboard and maintenance routes.
	APIKey   string
	AdminKey string

	DatabaseURL string
	Links       LinksConfig
	SMTP        SMTPConfig
	Redis       RedisConfig
	Kafka       KafkaConfig

	VerifyRateLimitPerMinute int
	LegacyLinksFile          string
	// TrustedProxies are addresses or CIDR ranges whose X-Forwarded-For is believed.
	TrustedProxies []string
}

// LinksConfig holds link lifetime and retention policy.
type LinksConfig struct {
	DefaultTTL     time.Duration
	RetentionGrace time.Duration
	AuditRetention time.Duration
}

// SMTPConfig holds outbound mail settings. An empty Host selects the log mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds the audit mirror settings. No brokers disables the mirror.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// Load reads .env.local and .env when present, then builds the config from the environment.
// Variables already set in the process environment win over file values.
func Load() Server {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	return FromEnv()
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:        getEnv("SIGNLINK_ADDR", ":8080"),
		BaseURL:     strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		APIKey:      os.Getenv("API_KEY"),
		AdminKey:    os.Getenv("ADMIN_KEY"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Links: LinksConfig{
			DefaultTTL:     time.Duration(getEnvInt("DEFAULT_LINK_TTL_HOURS", 24)) * time.Hour,
			RetentionGrace: days(getEnvInt("LINK_RETENTION_DAYS", 30)),
			AuditRetention: days(getEnvInt("AUDIT_RETENTION_DAYS", 90)),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnv("SMTP_FROM", "no-reply@signlink.local"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:    strs.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "signlink.audit"),
		},
		VerifyRateLimitPerMinute: getEnvInt("VERIFY_RATE_LIMIT_PER_MIN", 10),
		LegacyLinksFile:          os.Getenv("LEGACY_LINKS_FILE"),
		TrustedProxies:           strs.SplitList(os.Getenv("TRUSTED_PROXIES")),
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
