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

// UserRepository persists storefront accounts. Emails are stored lower-cased.
type UserRepository struct {
	db *sqlx.DB
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Postgres-backed user repository.
func NewUserRepository(db *sqlx.DB) (*UserRepository, error) {
	if db == nil {
		return nil, errors.New("user repository requires db")
	}
	return &UserRepository{db: db}, nil
}

func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	row := userRowFrom(user)
	row.Email = normaliseEmail(row.Email)
	_, err := sqlx.NamedExecContext(ctx, ppostgres.Conn(ctx, r.db), `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :email, :name, :password_hash, :role, :is_verified, :verification_token, :reset_token,
			:reset_token_expires_at, :address, :birthday, :phone, :sex, :created_at)`, row)
	return ppostgres.WrapError("users.insert", err)
}

func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	row := userRowFrom(user)
	row.Email = normaliseEmail(row.Email)
	res, err := sqlx.NamedExecContext(ctx, ppostgres.Conn(ctx, r.db), `
		UPDATE users SET
			email = :email,
			name = :name,
			password_hash = :password_hash,
			role = :role,
			is_verified = :is_verified,
			verification_token = :verification_token,
			reset_token = :reset_token,
			reset_token_expires_at = :reset_token_expires_at,
			address = :address,
			birthday = :birthday,
			phone = :phone,
			sex = :sex
		WHERE id = :id`, row)
	if err != nil {
		return ppostgres.WrapError("users.update", err)
	}
	return expectOneRow("users.update", res, "user not found")
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	return r.findOne(ctx, "users.find", `id = $1`, userID)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.findOne(ctx, "users.find_by_email", `email = $1`, normaliseEmail(email))
}

func (r *UserRepository) FindByVerificationToken(ctx context.Context, token string) (domain.User, error) {
	return r.findOne(ctx, "users.find_by_verification_token", `verification_token = $1`, token)
}

func (r *UserRepository) FindByResetToken(ctx context.Context, token string) (domain.User, error) {
	return r.findOne(ctx, "users.find_by_reset_token", `reset_token = $1`, token)
}

func (r *UserRepository) findOne(ctx context.Context, op, predicate string, arg any) (domain.User, error) {
	var row userRow
	err := ppostgres.Conn(ctx, r.db).GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE `+predicate, arg)
	if err != nil {
		return domain.User{}, ppostgres.WrapError(op, err)
	}
	return row.toDomain(), nil
}

func (r *UserRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.User], error) {
	keyset, size, limit, err := pageWindow(pager)
	if err != nil {
		return domain.CursorPage[domain.User]{}, err
	}

	var rows []userRow
	err = ppostgres.Conn(ctx, r.db).SelectContext(ctx, &rows, `
		SELECT `+userColumns+` FROM users
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`, keyset.ID, limit)
	if err != nil {
		return domain.CursorPage[domain.User]{}, ppostgres.WrapError("users.list", err)
	}

	users := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toDomain())
	}
	return trimPage(users, size, func(u domain.User) (time.Time, string) { return time.Time{}, u.ID })
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
