package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"order-workers/internal/common/config"

	_ "github.com/lib/pq"
)

type PostgresClient struct {
	DB *sql.DB
}

func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	dsn := cfg.GetDSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// PostgresSchema creates the tables used by the session store, the order
// repository and the postgres catalog source.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	user_id          TEXT PRIMARY KEY,
	state            JSONB NOT NULL,
	version          BIGINT NOT NULL,
	last_activity_at TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_activity ON chat_sessions(last_activity_at);

CREATE TABLE IF NOT EXISTS menu_categories (
	id      INTEGER PRIMARY KEY,
	name_ar TEXT NOT NULL,
	name_en TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS menu_items (
	id          BIGINT PRIMARY KEY,
	category_id INTEGER NOT NULL REFERENCES menu_categories(id),
	name_ar     TEXT NOT NULL,
	name_en     TEXT NOT NULL,
	price       INTEGER NOT NULL,
	available   BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE SEQUENCE IF NOT EXISTS user_orders_seq;

CREATE TABLE IF NOT EXISTS user_orders (
	order_id      TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	customer_name TEXT,
	language      TEXT NOT NULL,
	service_type  TEXT NOT NULL,
	location      TEXT NOT NULL,
	total         INTEGER NOT NULL,
	status        TEXT NOT NULL DEFAULT 'confirmed',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	request_key   TEXT UNIQUE
);

ALTER TABLE user_orders ADD COLUMN IF NOT EXISTS request_key TEXT UNIQUE;

CREATE TABLE IF NOT EXISTS order_details (
	order_id  TEXT NOT NULL REFERENCES user_orders(order_id),
	line_no   INTEGER NOT NULL,
	item_id   BIGINT NOT NULL,
	name_ar   TEXT NOT NULL,
	name_en   TEXT NOT NULL,
	quantity  INTEGER NOT NULL,
	price     INTEGER NOT NULL,
	PRIMARY KEY (order_id, line_no)
);
`

// Migrate applies PostgresSchema. Statements are idempotent.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("postgres migrate failed: %w", err)
	}
	return nil
}
