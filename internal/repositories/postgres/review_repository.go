package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/myshop/api/internal/domain"
	ppostgres "github.com/myshop/api/internal/platform/postgres"
	"github.com/myshop/api/internal/repositories"
)

// ReviewRepository persists product reviews.
type ReviewRepository struct {
	db *sqlx.DB
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)

// NewReviewRepository constructs a Postgres-backed review repository.
func NewReviewRepository(db *sqlx.DB) (*ReviewRepository, error) {
	if db == nil {
		return nil, errors.New("review repository requires db")
	}
	return &ReviewRepository{db: db}, nil
}

func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) error {
	_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		review.ID, review.UserID, review.ProductID, review.Rating, toNullString(review.Comment), review.CreatedAt)
	return ppostgres.WrapError("reviews.insert", err)
}

func (r *ReviewRepository) FindByUserAndProduct(ctx context.Context, userID, productID string) (domain.Review, error) {
	var row reviewRow
	err := ppostgres.Conn(ctx, r.db).GetContext(ctx, &row,
		`SELECT `+reviewColumns+` FROM reviews WHERE user_id = $1 AND product_id = $2`, userID, productID)
	if err != nil {
		return domain.Review{}, ppostgres.WrapError("reviews.find", err)
	}
	return row.toDomain(), nil
}

func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	return r.list(ctx, "reviews.list_by_product", productID, pager)
}

func (r *ReviewRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	return r.list(ctx, "reviews.list", "", pager)
}

func (r *ReviewRepository) list(ctx context.Context, op, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	keyset, size, limit, err := pageWindow(pager)
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}

	q := ppostgres.Conn(ctx, r.db)
	var rows []reviewRow
	if keyset.IsZero() {
		err = q.SelectContext(ctx, &rows, `
			SELECT `+reviewColumns+` FROM reviews
			WHERE ($1 = '' OR product_id = $1)
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, productID, limit)
	} else {
		err = q.SelectContext(ctx, &rows, `
			SELECT `+reviewColumns+` FROM reviews
			WHERE ($1 = '' OR product_id = $1) AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, productID, keyset.CreatedAt, keyset.ID, limit)
	}
	if err != nil {
		return domain.CursorPage[domain.Review]{}, ppostgres.WrapError(op, err)
	}

	reviews := make([]domain.Review, 0, len(rows))
	for _, row := range rows {
		reviews = append(reviews, row.toDomain())
	}
	return trimPage(reviews, size, func(rv domain.Review) (time.Time, string) { return rv.CreatedAt, rv.ID })
}
