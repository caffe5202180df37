package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/myshop/api/internal/domain"
	ppostgres "github.com/myshop/api/internal/platform/postgres"
	"github.com/myshop/api/internal/repositories"
)

// ProductRepository persists catalog entries in the products table.
type ProductRepository struct {
	db *sqlx.DB
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Postgres-backed product repository.
func NewProductRepository(db *sqlx.DB) (*ProductRepository, error) {
	if db == nil {
		return nil, errors.New("product repository requires db")
	}
	return &ProductRepository{db: db}, nil
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	row := productRowFrom(product)
	_, err := sqlx.NamedExecContext(ctx, ppostgres.Conn(ctx, r.db), `
		INSERT INTO products (`+productColumns+`)
		VALUES (:id, :name, :description, :cost_price, :selling_price, :profit_margin_percentage,
			:stock, :category, :image_filename, :created_at, :updated_at)`, row)
	return ppostgres.WrapError("products.insert", err)
}

func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	row := productRowFrom(product)
	res, err := sqlx.NamedExecContext(ctx, ppostgres.Conn(ctx, r.db), `
		UPDATE products SET
			name = :name,
			description = :description,
			cost_price = :cost_price,
			selling_price = :selling_price,
			profit_margin_percentage = :profit_margin_percentage,
			stock = :stock,
			category = :category,
			image_filename = :image_filename,
			updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return ppostgres.WrapError("products.update", err)
	}
	return expectOneRow("products.update", res, "product not found")
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return ppostgres.WrapError("products.delete", err)
	}
	return expectOneRow("products.delete", res, "product not found")
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var row productRow
	err := ppostgres.Conn(ctx, r.db).GetContext(ctx, &row, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	if err != nil {
		return domain.Product{}, ppostgres.WrapError("products.find", err)
	}
	return row.toDomain(), nil
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	keyset, size, limit, err := pageWindow(filter.Pagination)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	var rows []productRow
	err = ppostgres.Conn(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 = '' OR category = $1) AND id > $2
		ORDER BY id ASC
		LIMIT $3`, strings.TrimSpace(filter.Category), keyset.ID, limit)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, ppostgres.WrapError("products.list", err)
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return trimPage(products, size, func(p domain.Product) (time.Time, string) { return time.Time{}, p.ID })
}

func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, quantity int) error {
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1`, quantity, productID)
	if err != nil {
		return ppostgres.WrapError("products.decrement_stock", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ppostgres.WrapError("products.decrement_stock", err)
	}
	if affected == 0 {
		return &repositories.InsufficientStockError{Op: "products.decrement_stock", ProductID: productID, Requested: quantity}
	}
	return nil
}
