// Package config handles application configuration loading and validation
// from environment variables, providing a type-safe configuration structure.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FamilyLimits holds per-endpoint-family rate ceilings. Tenant and client-IP
// ceilings are enforced independently.
type FamilyLimits struct {
	TenantPerMinute int
	IPPerMinute     int
}

// Config holds all application configuration values loaded from environment
// variables.
type Config struct {
	// Server
	ListenAddr     string
	RequestTimeout time.Duration
	APIEnv         string

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabasePath   string // sqlite file path
	DatabaseURL    string // postgres DSN
	DatabasePool   int

	// Counter store
	RedisAddr string
	RedisDB   int

	// Secrets
	EncryptionKey   string // base64-encoded 32-byte AES key
	ManagementToken string // admin surface bearer token
	WebhookSecret   string // HMAC secret for payment webhook signatures

	// Upstream recognition engine
	FRSBaseURL         string
	FRSAPIKey          string
	FRSTimeout         time.Duration
	FRSVideoTimeout    time.Duration
	MatchThreshold     float64

	// Plans
	PlanCatalogPath string
	TrialPlanCode   string
	TrialDays       int

	// Rate limiting, per endpoint family
	RateCompare     FamilyLimits
	RateSearch      FamilyLimits
	RateBatch       FamilyLimits
	RateVideoSubmit FamilyLimits
	RateVideoStatus FamilyLimits

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Audit
	AuditBufferSize int

	// Abuse scanning
	ScanInterval time.Duration
	ScanEnabled  bool
}

// New creates a configuration from environment variables, applying defaults
// and validating required settings.
func New() (*Config, error) {
	cfg := &Config{
		ListenAddr:     getEnvString("LISTEN_ADDR", ":8080"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		APIEnv:         getEnvString("API_ENV", "development"),

		DatabaseDriver: getEnvString("DATABASE_DRIVER", "sqlite"),
		DatabasePath:   getEnvString("DATABASE_PATH", "./data/facegate.db"),
		DatabaseURL:    getEnvString("DATABASE_URL", ""),
		DatabasePool:   getEnvInt("DATABASE_POOL_SIZE", 10),

		RedisAddr: getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		EncryptionKey:   getEnvString("ENCRYPTION_KEY", ""),
		ManagementToken: getEnvString("MANAGEMENT_TOKEN", ""),
		WebhookSecret:   getEnvString("PAYMENT_WEBHOOK_SECRET", ""),

		FRSBaseURL:      getEnvString("FRS_BASE_URL", "http://localhost:9100"),
		FRSAPIKey:       getEnvString("FRS_API_KEY", ""),
		FRSTimeout:      getEnvDuration("FRS_TIMEOUT", 30*time.Second),
		FRSVideoTimeout: getEnvDuration("FRS_VIDEO_TIMEOUT", 5*time.Minute),
		MatchThreshold:  getEnvFloat("MATCH_THRESHOLD", 0.72),

		PlanCatalogPath: getEnvString("PLAN_CATALOG_PATH", ""),
		TrialPlanCode:   getEnvString("TRIAL_PLAN_CODE", "FREE"),
		TrialDays:       getEnvInt("TRIAL_DAYS", 14),

		RateCompare:     familyLimits("COMPARE", 60, 60),
		RateSearch:      familyLimits("SEARCH", 30, 30),
		RateBatch:       familyLimits("BATCH", 10, 10),
		RateVideoSubmit: familyLimits("VIDEO_SUBMIT", 10, 10),
		RateVideoStatus: familyLimits("VIDEO_STATUS", 120, 120),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "json"),
		LogFile:   getEnvString("LOG_FILE", ""),

		AuditBufferSize: getEnvInt("AUDIT_BUFFER_SIZE", 1000),

		ScanInterval: getEnvDuration("ABUSE_SCAN_INTERVAL", 10*time.Minute),
		ScanEnabled:  getEnvBool("ABUSE_SCAN_ENABLED", true),
	}

	if cfg.ManagementToken == "" {
		return nil, fmt.Errorf("MANAGEMENT_TOKEN environment variable is required")
	}
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY environment variable is required")
	}
	if cfg.MatchThreshold <= 0 || cfg.MatchThreshold > 1 {
		return nil, fmt.Errorf("MATCH_THRESHOLD must be in (0, 1], got %v", cfg.MatchThreshold)
	}
	if cfg.DatabaseDriver != "sqlite" && cfg.DatabaseDriver != "postgres" {
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.DatabaseDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
	}

	return cfg, nil
}

// familyLimits reads RATE_<FAMILY>_TENANT_PER_MIN and RATE_<FAMILY>_IP_PER_MIN.
func familyLimits(family string, tenantDefault, ipDefault int) FamilyLimits {
	return FamilyLimits{
		TenantPerMinute: getEnvInt("RATE_"+family+"_TENANT_PER_MIN", tenantDefault),
		IPPerMinute:     getEnvInt("RATE_"+family+"_IP_PER_MIN", ipDefault),
	}
}

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
