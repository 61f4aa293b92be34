// Package config loads server configuration from the environment. In
// development a .env file is honored; flags in main may override
// individual values.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/edungeon/quizrace/game/client"
	"github.com/edungeon/quizrace/transport/throttle"
)

// Config holds all configuration for the server process.
type Config struct {
	Host     string
	TCPPort  string
	HTTPPort string
	Env      string

	MaxConnsPerIP       int
	MaxPacketsPerSecond int

	VerifyURL         string
	VerifySecret      string
	VerifyBypassToken string
}

// Load reads configuration from environment variables, loading .env first
// if present. PORT is honored as an alias for TCP_PORT because deploy
// platforms commonly provide only PORT.
func Load() *Config {
	_ = godotenv.Load()

	tcpPort := getEnv("TCP_PORT", "")
	if tcpPort == "" {
		tcpPort = getEnv("PORT", "7780")
	}

	return &Config{
		Host:                getEnv("HOST", ""),
		TCPPort:             tcpPort,
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		MaxConnsPerIP:       getEnvInt("MAX_CONNS_PER_IP", throttle.DefaultMaxPerIP),
		MaxPacketsPerSecond: getEnvInt("MAX_PACKETS_PER_SECOND", client.DefaultPacketsPerSecond),
		VerifyURL:           os.Getenv("VERIFY_URL"),
		VerifySecret:        os.Getenv("VERIFY_SECRET"),
		VerifyBypassToken:   os.Getenv("VERIFY_BYPASS_TOKEN"),
	}
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

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
