package postgres

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/myshop/api/internal/domain"
	ppostgres "github.com/myshop/api/internal/platform/postgres"
	"github.com/myshop/api/internal/repositories"
)

// OrderItemRepository persists order lines.
type OrderItemRepository struct {
	db *sqlx.DB
}

var _ repositories.OrderItemRepository = (*OrderItemRepository)(nil)

// NewOrderItemRepository constructs a Postgres-backed order item repository.
func NewOrderItemRepository(db *sqlx.DB) (*OrderItemRepository, error) {
	if db == nil {
		return nil, errors.New("order item repository requires db")
	}
	return &OrderItemRepository{db: db}, nil
}

func (r *OrderItemRepository) Insert(ctx context.Context, item domain.OrderItem) error {
	_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO order_items (`+orderItemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.Price, item.CreatedAt)
	return ppostgres.WrapError("order_items.insert", err)
}

func (r *OrderItemRepository) FindForUser(ctx context.Context, itemID, userID string) (domain.OrderItem, domain.OrderStatus, error) {
	var row struct {
		orderItemRow
		Status string `db:"status"`
	}
	err := ppostgres.Conn(ctx, r.db).GetContext(ctx, &row, `
		SELECT i.id, i.order_id, i.product_id, i.product_name, i.quantity, i.price, i.created_at, o.status
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		WHERE i.id = $1 AND o.user_id = $2
		FOR UPDATE OF o`, itemID, userID)
	if err != nil {
		return domain.OrderItem{}, "", ppostgres.WrapError("order_items.find_for_user", err)
	}
	return row.orderItemRow.toDomain(), domain.OrderStatus(row.Status), nil
}

func (r *OrderItemRepository) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE order_items SET quantity = $2 WHERE id = $1`, itemID, quantity)
	if err != nil {
		return ppostgres.WrapError("order_items.update_quantity", err)
	}
	return expectOneRow("order_items.update_quantity", res, "order item not found")
}

func (r *OrderItemRepository) Delete(ctx context.Context, itemID string) error {
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, itemID)
	if err != nil {
		return ppostgres.WrapError("order_items.delete", err)
	}
	return expectOneRow("order_items.delete", res, "order item not found")
}

func (r *OrderItemRepository) DeleteExcept(ctx context.Context, orderID string, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM order_items WHERE order_id = $1 AND NOT (id = ANY($2))`, orderID, pq.Array(keep))
	if err != nil {
		return 0, ppostgres.WrapError("order_items.delete_except", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, ppostgres.WrapError("order_items.delete_except", err)
	}
	return int(affected), nil
}
