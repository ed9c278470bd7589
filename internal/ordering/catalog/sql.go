package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"order-workers/internal/common/database"
	"order-workers/internal/models"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLCatalog reads the menu tables created by the SQLite and Postgres
// migrations. Queries are written with ? placeholders and rebound per
// dialect.
type SQLCatalog struct {
	db      *sql.DB
	dialect dialect
}

func NewSQLiteCatalog(client *database.SQLiteClient) *SQLCatalog {
	return &SQLCatalog{db: client.DB, dialect: dialectSQLite}
}

func NewPostgresCatalog(client *database.PostgresClient) *SQLCatalog {
	return &SQLCatalog{db: client.DB, dialect: dialectPostgres}
}

func (c *SQLCatalog) rebind(query string) string {
	if c.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	queryCategories = `SELECT id, name_ar, name_en FROM menu_categories ORDER BY id`
	queryItems      = `SELECT id, category_id, name_ar, name_en, price, available FROM menu_items ORDER BY category_id, id`

	upsertCategory = `INSERT INTO menu_categories (id, name_ar, name_en) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name_ar = excluded.name_ar, name_en = excluded.name_en`
	upsertItem = `INSERT INTO menu_items (id, category_id, name_ar, name_en, price, available) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET category_id = excluded.category_id, name_ar = excluded.name_ar,
name_en = excluded.name_en, price = excluded.price, available = excluded.available`
)

// Menu returns every category and item, unavailable items included.
func (c *SQLCatalog) Menu(ctx context.Context) (models.MenuSnapshot, error) {
	var snap models.MenuSnapshot

	rows, err := c.db.QueryContext(ctx, queryCategories)
	if err != nil {
		return snap, fmt.Errorf("query categories: %w", err)
	}
	for rows.Next() {
		var cat models.Category
		if err := rows.Scan(&cat.ID, &cat.NameAR, &cat.NameEN); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan category: %w", err)
		}
		snap.Categories = append(snap.Categories, cat)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate categories: %w", err)
	}

	rows, err = c.db.QueryContext(ctx, queryItems)
	if err != nil {
		return snap, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it models.MenuItem
		if err := rows.Scan(&it.ID, &it.CategoryID, &it.NameAR, &it.NameEN, &it.Price, &it.Available); err != nil {
			return snap, fmt.Errorf("scan item: %w", err)
		}
		snap.Items = append(snap.Items, it)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate items: %w", err)
	}
	return snap, nil
}

func (c *SQLCatalog) Lookup(ctx context.Context, candidate string, categoryID int) (models.MenuItem, bool, error) {
	snap, err := c.Menu(ctx)
	if err != nil {
		return models.MenuItem{}, false, err
	}
	item, ok := Match(snap.Items, candidate, categoryID)
	return item, ok, nil
}

// Seed upserts a snapshot in one transaction. Rows absent from the snapshot
// are left alone.
func (c *SQLCatalog) Seed(ctx context.Context, snap models.MenuSnapshot) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, cat := range snap.Categories {
		if _, err := tx.ExecContext(ctx, c.rebind(upsertCategory), cat.ID, cat.NameAR, cat.NameEN); err != nil {
			return fmt.Errorf("upsert category %d: %w", cat.ID, err)
		}
	}
	for _, it := range snap.Items {
		if _, err := tx.ExecContext(ctx, c.rebind(upsertItem),
			it.ID, it.CategoryID, it.NameAR, it.NameEN, it.Price, it.Available); err != nil {
			return fmt.Errorf("upsert item %d: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}
