// Package postgres implements rollup.Client with stored functions in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/nicktill/marketpulse/pkg/rollup"
)

const (
	queryRollCycle      = `SELECT roll_cycle($1, $2)`
	queryRollWindow     = `SELECT roll_window($1, $2)`
	queryRecomputeStats = `SELECT recompute_window_stats($1, $2)`
	queryLedger         = `SELECT run_ledger($1)`

	pingTimeout = 10 * time.Second
)

// Config holds connection settings.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Client calls the rollup functions.
type Client struct {
	db   execer
	conn *sqlx.DB
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Client{db: db, conn: db}, nil
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Client {
	return &Client{db: db, conn: db}
}

// RollCycle calls roll_cycle(symbol, floored).
func (c *Client) RollCycle(ctx context.Context, symbol string, floored time.Time) error {
	return c.exec(ctx, "roll_cycle", queryRollCycle, symbol, floored.UTC())
}

// RollWindow calls roll_window(symbol, window).
func (c *Client) RollWindow(ctx context.Context, symbol, window string) error {
	return c.exec(ctx, "roll_window", queryRollWindow, symbol, window)
}

// RecomputeWindowStats calls recompute_window_stats(symbol, window).
func (c *Client) RecomputeWindowStats(ctx context.Context, symbol, window string) error {
	return c.exec(ctx, "recompute_window_stats", queryRecomputeStats, symbol, window)
}

// Ledger calls run_ledger(at).
func (c *Client) Ledger(ctx context.Context, at time.Time) error {
	return c.exec(ctx, "run_ledger", queryLedger, at.UTC())
}

func (c *Client) exec(ctx context.Context, fn, query string, args ...interface{}) error {
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

var _ rollup.Client = (*Client)(nil)
