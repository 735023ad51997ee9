package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server.
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string
	ValkeyURL   string
	JWTSecret   string

	AllowedOrigins []string

	// Connection limits
	IdleTimeout   time.Duration // no client frame for this long closes the connection
	MaxFrameBytes int64
	SendBuffer    int // outbound frames queued per connection before it is dropped

	CheckpointTTL   time.Duration
	AutoCreateRooms bool // memory store only
}

// Load reads configuration from environment variables, loading .env first
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ValkeyURL:   os.Getenv("VALKEY_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
	}

	for _, origin := range strings.Split(getEnv("ALLOWED_ORIGINS", "http://127.0.0.1:5173"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	var err error
	if cfg.IdleTimeout, err = getDuration("IDLE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CheckpointTTL, err = getDuration("CHECKPOINT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaxFrameBytes, err = getInt("MAX_FRAME_BYTES", 8192); err != nil {
		return nil, err
	}
	sendBuffer, err := getInt("SEND_BUFFER", 256)
	if err != nil {
		return nil, err
	}
	cfg.SendBuffer = int(sendBuffer)

	cfg.AutoCreateRooms = getEnv("AUTO_CREATE_ROOMS", strconv.FormatBool(cfg.IsDevelopment())) == "true"

	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET is required when ENV=%s", cfg.Env)
		}
		cfg.JWTSecret = "dev-secret"
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}

func getInt(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: invalid positive integer %q", key, value)
	}
	return n, nil
}
