package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"session-allocator-go/internal/config"
)

// Client wraps the Postgres client
type Client struct {
	db *sqlx.DB
}

// NewClient opens a pooled connection and verifies it with a ping.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	db, err := sqlx.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.PostgresMaxOpenConns)
	db.SetMaxIdleConns(cfg.PostgresMaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	return &Client{db: db}, nil
}

// Wrap builds a Client around an existing handle.
func Wrap(db *sqlx.DB) *Client {
	return &Client{db: db}
}

// Ping checks if Postgres is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the Postgres connection
func (c *Client) Close() error {
	return c.db.Close()
}

// GetDB returns the underlying database connection
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}
