package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"collab-coordinator/internal/roster"
)

// Config carries everything the server needs from the environment.
type Config struct {
	Addr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	JWTSecret string

	StaleThreshold time.Duration
}

// Load reads configuration from the environment, picking up a .env file
// when one exists.
func Load() Config {
	_ = godotenv.Load() // a missing .env file is fine

	return Config{
		Addr:           getenv("ADDR", ":8080"),
		RedisAddr:      getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getenvInt("REDIS_DB", 0),
		KeyPrefix:      getenv("REDIS_KEY_PREFIX", "collab:"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		StaleThreshold: getenvDuration("STALE_THRESHOLD", roster.DefaultStaleThreshold),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
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

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
