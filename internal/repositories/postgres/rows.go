package postgres

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/myshop/api/internal/domain"
)

type productRow struct {
	ID                     string          `db:"id"`
	Name                   string          `db:"name"`
	Description            string          `db:"description"`
	CostPrice              decimal.Decimal `db:"cost_price"`
	SellingPrice           decimal.Decimal `db:"selling_price"`
	ProfitMarginPercentage decimal.Decimal `db:"profit_margin_percentage"`
	Stock                  int             `db:"stock"`
	Category               string          `db:"category"`
	ImageFilename          sql.NullString  `db:"image_filename"`
	CreatedAt              time.Time       `db:"created_at"`
	UpdatedAt              time.Time       `db:"updated_at"`
}

const productColumns = `id, name, description, cost_price, selling_price, profit_margin_percentage,
	stock, category, image_filename, created_at, updated_at`

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:                     r.ID,
		Name:                   r.Name,
		Description:            r.Description,
		CostPrice:              r.CostPrice,
		SellingPrice:           r.SellingPrice,
		ProfitMarginPercentage: r.ProfitMarginPercentage,
		Stock:                  r.Stock,
		Category:               r.Category,
		ImageFilename:          nullableString(r.ImageFilename),
		CreatedAt:              r.CreatedAt.UTC(),
		UpdatedAt:              r.UpdatedAt.UTC(),
	}
}

func productRowFrom(p domain.Product) productRow {
	return productRow{
		ID:                     p.ID,
		Name:                   p.Name,
		Description:            p.Description,
		CostPrice:              p.CostPrice,
		SellingPrice:           p.SellingPrice,
		ProfitMarginPercentage: p.ProfitMarginPercentage,
		Stock:                  p.Stock,
		Category:               p.Category,
		ImageFilename:          toNullString(p.ImageFilename),
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

type orderRow struct {
	ID          string          `db:"id"`
	UserID      string          `db:"user_id"`
	Status      string          `db:"status"`
	TotalAmount decimal.Decimal `db:"total_amount"`
	TrackingID  sql.NullString  `db:"tracking_id"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

const orderColumns = `id, user_id, status, total_amount, tracking_id, created_at, updated_at`

func (r orderRow) toDomain() domain.Order {
	return domain.Order{
		ID:          r.ID,
		UserID:      r.UserID,
		Status:      domain.OrderStatus(r.Status),
		TotalAmount: r.TotalAmount,
		TrackingID:  nullableString(r.TrackingID),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type orderItemRow struct {
	ID          string          `db:"id"`
	OrderID     string          `db:"order_id"`
	ProductID   string          `db:"product_id"`
	ProductName string          `db:"product_name"`
	Quantity    int             `db:"quantity"`
	Price       decimal.Decimal `db:"price"`
	CreatedAt   time.Time       `db:"created_at"`
}

const orderItemColumns = `id, order_id, product_id, product_name, quantity, price, created_at`

func (r orderItemRow) toDomain() domain.OrderItem {
	return domain.OrderItem{
		ID:          r.ID,
		OrderID:     r.OrderID,
		ProductID:   r.ProductID,
		ProductName: r.ProductName,
		Quantity:    r.Quantity,
		Price:       r.Price,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type reviewRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	ProductID string         `db:"product_id"`
	Rating    int            `db:"rating"`
	Comment   sql.NullString `db:"comment"`
	CreatedAt time.Time      `db:"created_at"`
}

const reviewColumns = `id, user_id, product_id, rating, comment, created_at`

func (r reviewRow) toDomain() domain.Review {
	return domain.Review{
		ID:        r.ID,
		UserID:    r.UserID,
		ProductID: r.ProductID,
		Rating:    r.Rating,
		Comment:   nullableString(r.Comment),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type userRow struct {
	ID                  string         `db:"id"`
	Email               string         `db:"email"`
	Name                string         `db:"name"`
	PasswordHash        string         `db:"password_hash"`
	Role                string         `db:"role"`
	IsVerified          bool           `db:"is_verified"`
	VerificationToken   sql.NullString `db:"verification_token"`
	ResetToken          sql.NullString `db:"reset_token"`
	ResetTokenExpiresAt sql.NullTime   `db:"reset_token_expires_at"`
	Address             sql.NullString `db:"address"`
	Birthday            sql.NullString `db:"birthday"`
	Phone               sql.NullString `db:"phone"`
	Sex                 sql.NullString `db:"sex"`
	CreatedAt           time.Time      `db:"created_at"`
}

const userColumns = `id, email, name, password_hash, role, is_verified, verification_token, reset_token,
	reset_token_expires_at, address, birthday, phone, sex, created_at`

func (r userRow) toDomain() domain.User {
	user := domain.User{
		ID:                r.ID,
		Email:             r.Email,
		Name:              r.Name,
		PasswordHash:      r.PasswordHash,
		Role:              domain.Role(r.Role),
		IsVerified:        r.IsVerified,
		VerificationToken: nullableString(r.VerificationToken),
		ResetToken:        nullableString(r.ResetToken),
		Address:           nullableString(r.Address),
		Birthday:          nullableString(r.Birthday),
		Phone:             nullableString(r.Phone),
		Sex:               nullableString(r.Sex),
		CreatedAt:         r.CreatedAt.UTC(),
	}
	if r.ResetTokenExpiresAt.Valid {
		expires := r.ResetTokenExpiresAt.Time.UTC()
		user.ResetTokenExpiresAt = &expires
	}
	return user
}

func userRowFrom(u domain.User) userRow {
	row := userRow{
		ID:                u.ID,
		Email:             u.Email,
		Name:              u.Name,
		PasswordHash:      u.PasswordHash,
		Role:              string(u.Role),
		IsVerified:        u.IsVerified,
		VerificationToken: toNullString(u.VerificationToken),
		ResetToken:        toNullString(u.ResetToken),
		Address:           toNullString(u.Address),
		Birthday:          toNullString(u.Birthday),
		Phone:             toNullString(u.Phone),
		Sex:               toNullString(u.Sex),
		CreatedAt:         u.CreatedAt,
	}
	if u.ResetTokenExpiresAt != nil {
		row.ResetTokenExpiresAt = sql.NullTime{Time: *u.ResetTokenExpiresAt, Valid: true}
	}
	return row
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	out := value.String
	return &out
}

func toNullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
