package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"einvoice/internal/fbr"
	"einvoice/internal/logger"
)

const (
	EnvSandbox    = "sandbox"
	EnvProduction = "production"
)

// Config is the process configuration, read from the environment.
type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// HTTP
	Port           string
	GinMode        string
	JWTSecret      string
	AllowedOrigins []string

	// FBR gateway
	FBREnvironment     string
	FBRBaseURL         string
	FBRTimeout         time.Duration
	FBRMaxRetries      int
	FBRRetryBackoff    time.Duration
	FBRRegressionDelay time.Duration
	FBRAutoPostDelay   time.Duration
	FBRPostClaimTTL    time.Duration
	FBRIncludeFurther  bool

	// Logging
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads the configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "einvoice"),
		DBSSLMode:      getEnv("DB_SSLMODE", "disable"),
		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")),
		FBREnvironment: strings.ToLower(getEnv("FBR_ENVIRONMENT", EnvSandbox)),
		FBRBaseURL:     getEnv("FBR_BASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:  getEnv("LOG_TIME_FORMAT", time.RFC3339),
		LogOutput:      getEnv("LOG_OUTPUT", "stdout"),
	}

	var err error
	if cfg.FBRTimeout, err = getDuration("FBR_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.FBRRetryBackoff, err = getDuration("FBR_RETRY_BACKOFF", time.Second); err != nil {
		return nil, err
	}
	if cfg.FBRRegressionDelay, err = getDuration("FBR_REGRESSION_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.FBRAutoPostDelay, err = getDuration("FBR_AUTO_POST_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.FBRPostClaimTTL, err = getDuration("FBR_POST_CLAIM_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FBRMaxRetries, err = getInt("FBR_MAX_RETRIES", 2); err != nil {
		return nil, err
	}
	if cfg.FBRIncludeFurther, err = getBool("FBR_INCLUDE_FURTHER_TAX", false); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.FBREnvironment != EnvSandbox && c.FBREnvironment != EnvProduction {
		return fmt.Errorf("FBR_ENVIRONMENT must be %q or %q, got %q", EnvSandbox, EnvProduction, c.FBREnvironment)
	}
	if c.FBRMaxRetries < 0 {
		return fmt.Errorf("FBR_MAX_RETRIES must not be negative")
	}
	if c.FBRTimeout <= 0 {
		return fmt.Errorf("FBR_TIMEOUT must be positive")
	}
	if c.FBRPostClaimTTL <= c.FBRTimeout {
		return fmt.Errorf("FBR_POST_CLAIM_TTL must be longer than FBR_TIMEOUT")
	}
	if c.GinMode == "release" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in release mode")
	}
	return nil
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

// Secret returns the JWT signing secret, falling back to a development key outside release mode.
func (c *Config) Secret() []byte {
	if c.JWTSecret == "" {
		return []byte("default_super_secret_key")
	}
	return []byte(c.JWTSecret)
}

// GatewayConfig returns the gateway client settings for env. FBR_BASE_URL, when set,
// points both environments at the same host (e.g. the local sandbox emulator).
func (c *Config) GatewayConfig(env fbr.Environment) fbr.ClientConfig {
	return fbr.ClientConfig{
		BaseURL:      c.FBRBaseURL,
		Environment:  env,
		Timeout:      c.FBRTimeout,
		MaxRetries:   c.FBRMaxRetries,
		RetryBackoff: c.FBRRetryBackoff,
	}
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
