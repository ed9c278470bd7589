package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"order-workers/internal/common/config"

	_ "modernc.org/sqlite"
)

type SQLiteClient struct {
	DB *sql.DB
}

// NewSQLite opens the menu database in WAL mode, creating its directory.
// ":memory:" is passed through for tests.
func NewSQLite(cfg config.SQLiteConfig) (*SQLiteClient, error) {
	dsn := cfg.Path
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	return &SQLiteClient{DB: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS menu_categories (
	id      INTEGER PRIMARY KEY,
	name_ar TEXT NOT NULL,
	name_en TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS menu_items (
	id          INTEGER PRIMARY KEY,
	category_id INTEGER NOT NULL REFERENCES menu_categories(id),
	name_ar     TEXT NOT NULL,
	name_en     TEXT NOT NULL,
	price       INTEGER NOT NULL,
	available   INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_menu_items_category ON menu_items(category_id);
`

// Migrate creates the menu tables.
func (c *SQLiteClient) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("sqlite migrate failed: %w", err)
	}
	return nil
}

func (c *SQLiteClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *SQLiteClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
