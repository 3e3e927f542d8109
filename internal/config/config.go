package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds server configuration loaded from environment variables.
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DBPath      string
	DatabaseURL string
	RedisURL    string

	JWTSecret string
	TokenTTL  time.Duration

	HandshakeTimeout  time.Duration
	SendBuffer        int
	EnforceMembership bool

	FilesDir     string
	FilesBaseURL string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:              envOrDefault("PORT", "8080"),
		Env:               envOrDefault("ENV", "development"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		DBPath:            envOrDefault("DB_PATH", "giftline.db"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		TokenTTL:          envOrDefaultDuration("TOKEN_TTL", 24*time.Hour),
		HandshakeTimeout:  envOrDefaultDuration("HANDSHAKE_TIMEOUT", 5*time.Second),
		SendBuffer:        envOrDefaultInt("SEND_BUFFER", 256),
		EnforceMembership: envOrDefaultBool("ENFORCE_MEMBERSHIP", true),
		FilesDir:          envOrDefault("FILES_DIR", "files"),
		FilesBaseURL:      envOrDefault("FILES_BASE_URL", "http://localhost:8080/files"),
	}
}

// IsDevelopment reports whether the server runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envOrDefaultBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
