// Package orders persists confirmed carts.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"order-workers/internal/common/database"
	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/metrics"
	"order-workers/internal/models"
)

var ErrNotFound = errors.New("ORDER_NOT_FOUND")

// Repository stores orders. Place assigns Number and ID, and returns the
// already stored order when RequestKey was placed before.
type Repository interface {
	Place(ctx context.Context, order models.Order) (models.Order, error)
	Get(ctx context.Context, orderID string) (models.Order, error)
}

func validate(order models.Order) error {
	if order.UserID == "" {
		return apperrors.NewInvalidInputError("order has no userId")
	}
	if len(order.Items) == 0 {
		return apperrors.NewInvalidInputError("order has no items")
	}
	for _, li := range order.Items {
		if li.ItemID == 0 || !models.QuantityInRange(li.Quantity) {
			return apperrors.NewInvalidInputError(fmt.Sprintf("invalid line %q x%d", li.ItemName, li.Quantity))
		}
	}
	return nil
}

func withTotal(order models.Order) models.Order {
	total := 0
	for _, li := range order.Items {
		total += li.Subtotal()
	}
	order.Total = total
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	return order
}

// ==========================
// Postgres
// ==========================

type PostgresRepository struct {
	db *database.PostgresClient
}

func NewPostgresRepository(db *database.PostgresClient) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Place(ctx context.Context, order models.Order) (models.Order, error) {
	if err := validate(order); err != nil {
		return models.Order{}, err
	}
	order = withTotal(order)

	if order.RequestKey != "" {
		var existing string
		err := r.db.DB.QueryRowContext(ctx,
			`SELECT order_id FROM user_orders WHERE request_key = $1`, order.RequestKey).Scan(&existing)
		switch {
		case err == nil:
			return r.Get(ctx, existing)
		case !errors.Is(err, sql.ErrNoRows):
			return models.Order{}, apperrors.NewOrderPersistFailedError(fmt.Errorf("lookup request key: %w", err))
		}
	}

	tx, err := r.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Order{}, apperrors.NewOrderPersistFailedError(err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `SELECT nextval('user_orders_seq')`).Scan(&order.Number); err != nil {
		return models.Order{}, apperrors.NewOrderPersistFailedError(fmt.Errorf("next order number: %w", err))
	}
	order.ID = models.FormatOrderID(order.Number)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_orders (order_id, user_id, customer_name, language, service_type, location, total, created_at, request_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))`,
		order.ID, order.UserID, order.CustomerName, string(order.Language),
		order.ServiceType, order.Location, order.Total, order.CreatedAt, order.RequestKey,
	); err != nil {
		return models.Order{}, apperrors.NewOrderPersistFailedError(fmt.Errorf("insert order: %w", err))
	}

	for i, li := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_details (order_id, line_no, item_id, name_ar, name_en, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			order.ID, i+1, li.ItemID, li.NameAR, li.NameEN, li.Quantity, li.UnitPrice,
		); err != nil {
			return models.Order{}, apperrors.NewOrderPersistFailedError(fmt.Errorf("insert line %d: %w", i+1, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Order{}, apperrors.NewOrderPersistFailedError(err)
	}
	metrics.OrdersPlaced.Inc()
	return order, nil
}

func (r *PostgresRepository) Get(ctx context.Context, orderID string) (models.Order, error) {
	var (
		o    models.Order
		name sql.NullString
		lang string
	)
	err := r.db.DB.QueryRowContext(ctx, `
		SELECT order_id, user_id, customer_name, language, service_type, location, total, created_at
		FROM user_orders WHERE order_id = $1`, orderID,
	).Scan(&o.ID, &o.UserID, &name, &lang, &o.ServiceType, &o.Location, &o.Total, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("select order: %w", err)
	}
	o.CustomerName = name.String
	o.Language = models.Language(lang)

	rows, err := r.db.DB.QueryContext(ctx, `
		SELECT item_id, name_ar, name_en, quantity, price
		FROM order_details WHERE order_id = $1 ORDER BY line_no`, orderID)
	if err != nil {
		return models.Order{}, fmt.Errorf("select order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var li models.OrderLineItem
		if err := rows.Scan(&li.ItemID, &li.NameAR, &li.NameEN, &li.Quantity, &li.UnitPrice); err != nil {
			return models.Order{}, fmt.Errorf("scan order line: %w", err)
		}
		li.ItemName = li.NameEN
		o.Items = append(o.Items, li)
	}
	if err := rows.Err(); err != nil {
		return models.Order{}, fmt.Errorf("read order lines: %w", err)
	}
	fmt.Sscanf(o.ID, "HEF%d", &o.Number)
	return o, nil
}

// ==========================
// Memory
// ==========================

// MemoryRepository is used when no Postgres is configured and in tests.
type MemoryRepository struct {
	mu     sync.Mutex
	next   int64
	orders map[string]models.Order
	keys   map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]models.Order), keys: make(map[string]string)}
}

func (r *MemoryRepository) Place(_ context.Context, order models.Order) (models.Order, error) {
	if err := validate(order); err != nil {
		return models.Order{}, err
	}
	order = withTotal(order)

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.keys[order.RequestKey]; ok && order.RequestKey != "" {
		return r.orders[id], nil
	}
	r.next++
	order.Number = r.next
	order.ID = models.FormatOrderID(order.Number)
	items := make([]models.OrderLineItem, len(order.Items))
	copy(items, order.Items)
	order.Items = items
	r.orders[order.ID] = order
	if order.RequestKey != "" {
		r.keys[order.RequestKey] = order.ID
	}
	metrics.OrdersPlaced.Inc()
	return order, nil
}

func (r *MemoryRepository) Get(_ context.Context, orderID string) (models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return models.Order{}, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	return o, nil
}
