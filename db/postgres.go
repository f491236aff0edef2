package db

import (
	"context"
	"fmt"

	"optiondesk/config"
	"optiondesk/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// InitDB creates the connection pool and ensures the schema exists.
func InitDB(ctx context.Context, cfg *config.PostgresConfig) (*Postgres, error) {
	log := logger.L()

	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.GetMaxConnLifetime()
	poolConfig.MaxConnIdleTime = cfg.GetMaxConnIdleTime()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Successfully connected to database", map[string]interface{}{
		"host":      cfg.Host,
		"port":      cfg.Port,
		"db":        cfg.DBName,
		"max_conns": cfg.MaxConnections,
	})

	p := &Postgres{pool: pool, log: log}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// GetPool returns the connection pool.
func (p *Postgres) GetPool() *pgxpool.Pool {
	return p.pool
}

// Close closes the database connection.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	// The unique index on (user_id, broker_name) backs the one-connection-
	// per-broker rule; the application-level existence check is kept for
	// friendlier errors but is not the authority.
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		broker_connected BOOLEAN NOT NULL DEFAULT FALSE,
		broker_connection_status TEXT NOT NULL DEFAULT 'disconnected',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS broker_connections (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		broker_name TEXT NOT NULL,
		broker_user_id TEXT,
		api_key TEXT NOT NULL,
		api_secret_encrypted TEXT NOT NULL,
		access_token_encrypted TEXT,
		refresh_token_encrypted TEXT,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		token_expires_at TIMESTAMPTZ,
		last_verified_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS broker_connections_user_broker
		ON broker_connections (user_id, broker_name);
	`

	if _, err := p.pool.Exec(ctx, schema); err != nil {
		p.log.Error("Failed to ensure schema", map[string]interface{}{
			"error": err.Error(),
		})
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
