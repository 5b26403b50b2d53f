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
		-- Append-only routing-event ledger. Rows are immutable; the only
		-- deletions are retention pruning and explicit per-channel resets.
		CREATE TABLE IF NOT EXISTS routing_ledger (
			event_id BIGSERIAL PRIMARY KEY,
			chan_id BIGINT NOT NULL,
			event_timestamp TIMESTAMPTZ NOT NULL,
			amt_out_msat BIGINT NOT NULL,
			fee_msat BIGINT NOT NULL,
			true_fee_msat BIGINT NOT NULL,
			true_fee_ppm NUMERIC(20, 8) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_routing_ledger_chan_timestamp ON routing_ledger(chan_id, event_timestamp);

		-- Forwarding-feed cursor, single row.
		CREATE TABLE IF NOT EXISTS ingest_cursor (
			id INTEGER PRIMARY KEY DEFAULT 1,
			last_timestamp BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT ingest_cursor_single_row CHECK (id = 1)
		);
		INSERT INTO ingest_cursor (id, last_timestamp)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;

		-- Per-channel EMA of true-fee ppm. Survives ledger pruning.
		CREATE TABLE IF NOT EXISTS avg_fee_state (
			chan_id BIGINT PRIMARY KEY,
			ema_ppm NUMERIC(20, 8) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Per-channel inbound discount lifecycle state.
		CREATE TABLE IF NOT EXISTS inbound_discount_state (
			chan_id BIGINT PRIMARY KEY,
			discount_ppm BIGINT NOT NULL DEFAULT 0,
			current_pct BIGINT NOT NULL DEFAULT 0,
			has_crossed_trigger BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Per-channel stagnation state.
		CREATE TABLE IF NOT EXISTS stagnation_state (
			chan_id BIGINT PRIMARY KEY,
			is_stagnant BOOLEAN NOT NULL DEFAULT FALSE,
			last_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
			transition_time TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Versioned pipeline parameters; exactly one active set per config name.
		CREATE TABLE IF NOT EXISTS policy_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			alpha DOUBLE PRECISION NOT NULL,
			ema_floor_ppm BIGINT NOT NULL,
			retention_days INTEGER NOT NULL,
			adjustment_factor DOUBLE PRECISION NOT NULL,
			default_pivot DOUBLE PRECISION NOT NULL,
			low_fee_damping_ppm BIGINT NOT NULL,
			trigger_threshold DOUBLE PRECISION NOT NULL,
			remove_threshold DOUBLE PRECISION NOT NULL,
			initial_discount_pct BIGINT NOT NULL,
			increment_discount_pct BIGINT NOT NULL,
			max_discount_pct BIGINT NOT NULL,
			remote_fee_ceiling_ppm BIGINT NOT NULL,
			stagnation_window_hours INTEGER NOT NULL,
			stagnation_ratio_threshold DOUBLE PRECISION NOT NULL,
			stagnation_reduction_pct DOUBLE PRECISION NOT NULL,
			max_htlc_ratio DOUBLE PRECISION NOT NULL,
			reserve_offset DOUBLE PRECISION NOT NULL,
			min_max_forward_msat BIGINT NOT NULL,
			remote_fee_check_exempt JSONB,
			pivot_overrides JSONB,
			floor_rules JSONB,
			channel_groups JSONB,
			include_channels JSONB,
			exclude_channels JSONB,
			CONSTRAINT uq_policy_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_policy_parameters_config_active ON policy_parameters(config_name, is_active, activated_at DESC);

		-- Cycle counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);
		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;

		-- One row per completed pipeline run.
		CREATE TABLE IF NOT EXISTS cycle_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			cycle_number INTEGER NOT NULL,
			cycle_id VARCHAR(64) NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			params_id INTEGER REFERENCES policy_parameters(params_id),
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			channel_count INTEGER NOT NULL,
			events_ingested INTEGER NOT NULL,
			events_skipped INTEGER NOT NULL,
			override_count INTEGER NOT NULL,
			stage_results JSONB,
			overrides JSONB,
			duration_ms BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_timestamp ON cycle_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_cycle ON cycle_snapshots(cycle_number DESC);
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
