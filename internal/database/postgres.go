package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/equitra/swingscan-go/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

var errNilPostgresPool = errors.New("database pool is nil")

// PostgresDB owns the pgx connection pool shared by the repositories.
type PostgresDB struct {
	Pool *pgxpool.Pool
}

// poolSettings translates the database section of the config into a pgx
// pool config. DATABASE_URL wins over the individual host fields when
// both are set.
func poolSettings(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
		)
	}

	settings, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		settings.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		settings.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != "" {
		lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			return nil, fmt.Errorf("invalid conn_max_lifetime %q: %w", cfg.ConnMaxLifetime, err)
		}
		settings.MaxConnLifetime = lifetime
	}
	if cfg.ConnMaxIdleTime != "" {
		idleTime, err := time.ParseDuration(cfg.ConnMaxIdleTime)
		if err != nil {
			return nil, fmt.Errorf("invalid conn_max_idle_time %q: %w", cfg.ConnMaxIdleTime, err)
		}
		settings.MaxConnIdleTime = idleTime
	}
	return settings, nil
}

func NewPostgresConnection(cfg config.DatabaseConfig) (*PostgresDB, error) {
	settings, err := poolSettings(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"host":   settings.ConnConfig.Host,
		"dbname": settings.ConnConfig.Database,
	}).Info("Connected to PostgreSQL")

	return &PostgresDB{Pool: pool}, nil
}

func (db *PostgresDB) Close() {
	if db.Pool == nil {
		return
	}
	db.Pool.Close()
	logrus.Info("PostgreSQL connection closed")
}

func (db *PostgresDB) HealthCheck(ctx context.Context) error {
	if db.Pool == nil {
		return errNilPostgresPool
	}
	return db.Pool.Ping(ctx)
}
