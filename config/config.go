// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server binary needs to start.
type Config struct {
	Port        int
	DBPath      string
	JWTSecret   string
	TokenExpiry time.Duration
	LogLevel    string
	Seed        bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment variables
// win over .env values.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:        envInt("PORT", 8080),
		DBPath:      envString("DB_PATH", "replenishment.db"),
		JWTSecret:   envString("JWT_SECRET", ""),
		TokenExpiry: time.Duration(envInt("TOKEN_EXPIRY_MIN", 60)) * time.Minute,
		LogLevel:    envString("LOG_LEVEL", "info"),
		Seed:        envBool("SEED", false),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT: %d", cfg.Port)
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
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

func envBool(key string, fallback bool) bool {
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
