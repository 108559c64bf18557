package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string
	UploadDir      string
	Port           string
	DBPath         string
	JWTSecret      string
	SessionTTL     time.Duration
	RedisAddr      string
	MaxUploadSize  int64
	CharBudget     int
	AllowedOrigins []string
	LogLevel       string
}

// AIConfigured reports whether a credential for the LLM provider is present.
func (c *Config) AIConfigured() bool {
	return c.OpenAIAPIKey != ""
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "./storage/phenbot.db"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaxUploadSize, err = getInt64("MAX_UPLOAD_SIZE", 32<<20); err != nil {
		return nil, err
	}
	budget, err := getInt64("CHAR_BUDGET", 4000)
	if err != nil {
		return nil, err
	}
	if budget <= 0 {
		return nil, fmt.Errorf("CHAR_BUDGET must be positive, got %d", budget)
	}
	cfg.CharBudget = int(budget)

	if cfg.JWTSecret == "" {
		// Tokens do not survive a restart without an explicit secret.
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JWTSecret = secret
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
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

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
