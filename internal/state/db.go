// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS harvest_receipts (
			id SERIAL PRIMARY KEY,
			receipt_id VARCHAR(64) NOT NULL UNIQUE,
			strategy_id BIGINT NOT NULL,
			caller VARCHAR(255) NOT NULL,
			harvest_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			harvested NUMERIC(40, 0) NOT NULL,
			fees_native NUMERIC(40, 0) NOT NULL,
			balance_before NUMERIC(40, 0) NOT NULL,
			balance_after NUMERIC(40, 0) NOT NULL,
			success BOOLEAN NOT NULL,
			error_message TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_harvest_receipts_timestamp ON harvest_receipts(harvest_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_harvest_receipts_strategy ON harvest_receipts(strategy_id);

		CREATE TABLE IF NOT EXISTS vault_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			total_assets NUMERIC(40, 0) NOT NULL,
			total_shares NUMERIC(40, 0) NOT NULL,
			price_per_share NUMERIC(40, 0) NOT NULL,
			idle_assets NUMERIC(40, 0) NOT NULL,
			strategy_id BIGINT NOT NULL,
			paused BOOLEAN NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_vault_snapshots_timestamp ON vault_snapshots(snapshot_timestamp DESC);

		CREATE TABLE IF NOT EXISTS farm_pool_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			pool_id BIGINT NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			stake_denom VARCHAR(128) NOT NULL,
			alloc_point BIGINT NOT NULL,
			total_staked NUMERIC(40, 0) NOT NULL,
			acc_reward_per_share NUMERIC(60, 0) NOT NULL,
			total_locked_up NUMERIC(40, 0) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_farm_pool_snapshots_pool ON farm_pool_snapshots(pool_id, snapshot_timestamp DESC);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
