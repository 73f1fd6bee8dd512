package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Evidence  EvidenceConfig
	Workflow  WorkflowConfig
	Sessions  SessionsConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Proxy     ProxyConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// EvidenceConfig holds evidence upload settings
type EvidenceConfig struct {
	Type      string // "database" or "s3"
	MaxSizeMB int
	S3        S3Config
}

// S3Config holds S3-compatible object storage settings
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// WorkflowConfig holds settings for the reference capabilities and the
// report workflow timing
type WorkflowConfig struct {
	SimilarityScore    float64
	SimilarityDelayMS  int
	RecapText          string
	RecapDelayMS       int
	RecapDocument      string
	HighlightWindowMS  int
	SubmitRetrySeconds int
	SubmitRetryBaseMS  int
}

// SessionsConfig holds session lifecycle settings
type SessionsConfig struct {
	TTLMinutes int
	Max        int
}

// AuthConfig holds operator API authentication settings
type AuthConfig struct {
	// OperatorTokenHashes are sha256 hex digests of accepted operator tokens.
	// The case API is not served when empty.
	OperatorTokenHashes []string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled     bool
	ServiceName string
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
}

// SecurityConfig holds security filter settings
type SecurityConfig struct {
	FilterEnabled bool
	MaxBodySizeMB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// Load loads configuration from environment variables. Values from a .env
// file in the working directory are used for variables not already set.
// A missing .env is fine; one that does not parse is an error.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("PORT", 8080),
			Host:         getEnv("HOST", "0.0.0.0"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 120),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/ipenforcer.db"),
			},
		},
		Evidence: EvidenceConfig{
			Type:      getEnv("EVIDENCE_STORAGE_TYPE", "database"),
			MaxSizeMB: getEnvInt("EVIDENCE_MAX_SIZE_MB", 10),
			S3: S3Config{
				Endpoint:  getEnv("S3_ENDPOINT", ""),
				AccessKey: getEnv("S3_ACCESS_KEY", ""),
				SecretKey: getEnv("S3_SECRET_KEY", ""),
				Bucket:    getEnv("S3_BUCKET", "ipenforcer-evidence"),
				UseSSL:    getEnvBool("S3_USE_SSL", true),
			},
		},
		Workflow: WorkflowConfig{
			SimilarityScore:    getEnvFloat("SIMILARITY_SCORE", 0.83),
			SimilarityDelayMS:  getEnvInt("SIMILARITY_DELAY_MS", 3000),
			RecapText:          getEnv("RECAP_TEXT", "This is the legal contract recap"),
			RecapDelayMS:       getEnvInt("RECAP_DELAY_MS", 3000),
			RecapDocument:      getEnv("RECAP_DOCUMENT", "legal-contract"),
			HighlightWindowMS:  getEnvInt("HIGHLIGHT_WINDOW_MS", 3000),
			SubmitRetrySeconds: getEnvInt("SUBMIT_RETRY_SECONDS", 30),
			SubmitRetryBaseMS:  getEnvInt("SUBMIT_RETRY_BASE_MS", 200),
		},
		Sessions: SessionsConfig{
			TTLMinutes: getEnvInt("SESSION_TTL_MINUTES", 30),
			Max:        getEnvInt("SESSION_MAX", 10000),
		},
		Auth: AuthConfig{
			OperatorTokenHashes: getEnvStringSlice("OPERATOR_TOKEN_HASHES", nil),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled:     getEnvBool("METRICS_ENABLED", true),
			ServiceName: getEnv("METRICS_SERVICE_NAME", "ipenforcer"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 300),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 50),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Security: SecurityConfig{
			FilterEnabled: getEnvBool("SECURITY_FILTER_ENABLED", true),
			MaxBodySizeMB: getEnvInt("SECURITY_MAX_BODY_SIZE_MB", 12),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	// An S3 endpoint without an explicit type selects S3 evidence storage
	if cfg.Evidence.S3.Endpoint != "" && os.Getenv("EVIDENCE_STORAGE_TYPE") == "" {
		cfg.Evidence.Type = "s3"
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
