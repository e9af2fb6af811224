package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables. These are
// populated at startup by LoadConfig.
var (
	// LogLevel is the zerolog level for the engine ("debug", "info", ...).
	LogLevel string

	// KeeperIntervalSeconds is how often the keeper runs a harvest cycle.
	KeeperIntervalSeconds uint64

	// WebListenAddr is the bind address for the dashboard API server.
	WebListenAddr string

	// DBHost, DBPort, DBUser, DBPassword, DBName, DBSSLMode configure the
	// PostgreSQL connection used for receipts and snapshots.
	DBHost     string
	DBPort     uint64
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// KeeperInterval returns the keeper cycle interval as a duration.
func KeeperInterval() time.Duration {
	return time.Duration(KeeperIntervalSeconds) * time.Second
}

// LoadConfig loads configuration from environment variables and sets the
// global config vars. All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	LogLevel, err = getEnv("ENGINE_LOG_LEVEL")
	if err != nil {
		return err
	}

	KeeperIntervalSeconds, err = getEnvAsUint64("ENGINE_KEEPER_INTERVAL_SECONDS")
	if err != nil {
		return err
	}

	WebListenAddr, err = getEnv("ENGINE_WEB_LISTEN_ADDR")
	if err != nil {
		return err
	}

	DBHost, err = getEnv("DB_HOST")
	if err != nil {
		return err
	}

	DBPort, err = getEnvAsUint64("DB_PORT")
	if err != nil {
		return err
	}

	DBUser, err = getEnv("DB_USER")
	if err != nil {
		return err
	}

	DBPassword, err = getEnv("DB_PASSWORD")
	if err != nil {
		return err
	}

	DBName, err = getEnv("DB_NAME")
	if err != nil {
		return err
	}

	DBSSLMode, err = getEnv("DB_SSLMODE")
	if err != nil {
		return err
	}

	log.Debug().
		Str("LogLevel", LogLevel).
		Uint64("KeeperIntervalSeconds", KeeperIntervalSeconds).
		Str("WebListenAddr", WebListenAddr).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}
