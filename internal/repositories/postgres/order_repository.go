package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/myshop/api/internal/domain"
	ppostgres "github.com/myshop/api/internal/platform/postgres"
	"github.com/myshop/api/internal/repositories"
)

// OrderRepository persists order headers and loads their items eagerly.
type OrderRepository struct {
	db *sqlx.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Postgres-backed order repository.
func NewOrderRepository(db *sqlx.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires db")
	}
	return &OrderRepository{db: db}, nil
}

// Insert skips a second pending order for the same user without aborting the surrounding
// transaction and reports it as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders.insert"
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) WHERE status = 'pending' DO NOTHING`,
		order.ID, order.UserID, string(order.Status), order.TotalAmount, toNullString(order.TrackingID),
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	if affected == 0 {
		return ppostgres.Conflict(op, "user already has a pending order")
	}
	return nil
}

func (r *OrderRepository) FindPendingByUser(ctx context.Context, userID string, forUpdate bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND status = 'pending'`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return r.findOne(ctx, "orders.find_pending", query, userID)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string, forUpdate bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return r.findOne(ctx, "orders.find", query, orderID)
}

func (r *OrderRepository) findOne(ctx context.Context, op, query string, arg any) (domain.Order, error) {
	q := ppostgres.Conn(ctx, r.db)
	var row orderRow
	if err := q.GetContext(ctx, &row, query, arg); err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	orders, err := r.attachItems(ctx, q, []orderRow{row})
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	return orders[0], nil
}

func (r *OrderRepository) UpdateTotal(ctx context.Context, orderID string, total decimal.Decimal, updatedAt time.Time) error {
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE orders SET total_amount = $2, updated_at = $3 WHERE id = $1`, orderID, total, updatedAt)
	if err != nil {
		return ppostgres.WrapError("orders.update_total", err)
	}
	return expectOneRow("orders.update_total", res, "order not found")
}

func (r *OrderRepository) TransitionStatus(ctx context.Context, change repositories.StatusChange) error {
	const op = "orders.transition"
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders
		SET status = $3, tracking_id = COALESCE($4, tracking_id), updated_at = $5
		WHERE id = $1 AND status = $2`,
		change.OrderID, string(change.From), string(change.To), toNullString(change.TrackingID), change.UpdatedAt)
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	if affected == 0 {
		return ppostgres.Conflict(op, "order is no longer in status "+string(change.From))
	}
	return nil
}

func (r *OrderRepository) SetStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, orderID, string(status), updatedAt)
	if err != nil {
		return ppostgres.WrapError("orders.set_status", err)
	}
	return expectOneRow("orders.set_status", res, "order not found")
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return ppostgres.WrapError("orders.delete", err)
	}
	return expectOneRow("orders.delete", res, "order not found")
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, "orders.list_by_user", userID, pager)
}

func (r *OrderRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, "orders.list", "", pager)
}

func (r *OrderRepository) list(ctx context.Context, op, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	keyset, size, limit, err := pageWindow(pager)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	q := ppostgres.Conn(ctx, r.db)
	var rows []orderRow
	if keyset.IsZero() {
		err = q.SelectContext(ctx, &rows, `
			SELECT `+orderColumns+` FROM orders
			WHERE ($1 = '' OR user_id = $1)
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, userID, limit)
	} else {
		err = q.SelectContext(ctx, &rows, `
			SELECT `+orderColumns+` FROM orders
			WHERE ($1 = '' OR user_id = $1) AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, userID, keyset.CreatedAt, keyset.ID, limit)
	}
	if err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError(op, err)
	}

	orders, err := r.attachItems(ctx, q, rows)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError(op, err)
	}
	return trimPage(orders, size, func(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID })
}

func (r *OrderRepository) HasDeliveredProduct(ctx context.Context, userID, productID string) (bool, error) {
	var exists bool
	err := ppostgres.Conn(ctx, r.db).GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM orders o
			JOIN order_items i ON i.order_id = o.id
			WHERE o.user_id = $1 AND o.status = 'delivered' AND i.product_id = $2
		)`, userID, productID)
	if err != nil {
		return false, ppostgres.WrapError("orders.has_delivered_product", err)
	}
	return exists, nil
}

// attachItems loads the items of every order in a single query, ordered by creation.
func (r *OrderRepository) attachItems(ctx context.Context, q ppostgres.Querier, rows []orderRow) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(rows))
	if len(rows) == 0 {
		return orders, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	var itemRows []orderItemRow
	if err := q.SelectContext(ctx, &itemRows, `
		SELECT `+orderItemColumns+` FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at ASC, id ASC`, pq.Array(ids)); err != nil {
		return nil, err
	}

	byOrder := make(map[string][]domain.OrderItem, len(rows))
	for _, item := range itemRows {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item.toDomain())
	}
	for _, row := range rows {
		order := row.toDomain()
		order.Items = byOrder[row.ID]
		if order.Items == nil {
			order.Items = []domain.OrderItem{}
		}
		orders = append(orders, order)
	}
	return orders, nil
}
