package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Options controls the connection pool. The pool is created once per
// process and shared by every request.
type Options struct {
	URL        string
	Serverless bool
}

// Open parses the DSN, builds the pool and pings it. The caller owns the
// returned handle and must Close it on shutdown.
func Open(ctx context.Context, opts Options) (*sqlx.DB, error) {
	cfg, err := pgx.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	db := sqlx.NewDb(stdlib.OpenDB(*cfg), "pgx")
	ConfigurePool(db, opts.Serverless)

	pingCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// ConfigurePool applies pool limits. Serverless deployments get a single
// connection so cold starts do not exhaust upstream slots.
func ConfigurePool(db *sqlx.DB, serverless bool) {
	maxOpen := 10
	if serverless {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetConnMaxLifetime(30 * time.Minute)
}
