package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
	MaxConns int32  `json:"max_conns" yaml:"max_conns"`
}

// DSN builds the connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.With().Str("component", "postgres").Logger()
	logger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations creates the run, summary and event tables
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sim_runs (
			id VARCHAR(64) PRIMARY KEY,
			seed BIGINT NOT NULL,
			instruments INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			cumulative_r DOUBLE PRECISION NOT NULL DEFAULT 0,
			config JSONB,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS sim_summaries (
			run_id VARCHAR(64) NOT NULL REFERENCES sim_runs(id) ON DELETE CASCADE,
			instrument VARCHAR(32) NOT NULL,
			total_trades INTEGER NOT NULL,
			winning_trades INTEGER NOT NULL,
			losing_trades INTEGER NOT NULL,
			cumulative_r DOUBLE PRECISION NOT NULL,
			max_drawdown_r DOUBLE PRECISION NOT NULL,
			final_equity DOUBLE PRECISION NOT NULL,
			error TEXT,
			payload JSONB NOT NULL,
			PRIMARY KEY (run_id, instrument)
		)`,

		// Events may be exported before the run row exists, so no foreign key
		`CREATE TABLE IF NOT EXISTS sim_trade_events (
			run_id VARCHAR(64) NOT NULL,
			instrument VARCHAR(32) NOT NULL,
			seq INTEGER NOT NULL,
			event_time TIMESTAMPTZ NOT NULL,
			kind VARCHAR(20) NOT NULL,
			trade_id VARCHAR(64),
			side VARCHAR(8),
			price DOUBLE PRECISION,
			reason VARCHAR(32),
			r_multiple DOUBLE PRECISION,
			payload JSONB NOT NULL,
			PRIMARY KEY (run_id, instrument, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sim_trade_events_kind ON sim_trade_events(run_id, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_sim_trade_events_trade ON sim_trade_events(trade_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("statements", len(migrations)).Msg("Database migrations completed")
	return nil
}

// HealthCheck checks if the database is healthy
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
