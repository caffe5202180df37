package handlers

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/platform/httpx"
	"github.com/myshop/api/internal/platform/pagination"
	"github.com/myshop/api/internal/services"
)

type listResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func newListResponse[S, T any](page domain.CursorPage[S], convert func(S) T) listResponse[T] {
	items := make([]T, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, convert(item))
	}
	return listResponse[T]{Items: items, NextPageToken: page.NextPageToken}
}

// pageFromRequest reads pageSize/pageToken, writing a 400 when they are malformed.
func pageFromRequest(w http.ResponseWriter, r *http.Request) (services.Pagination, bool) {
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return services.Pagination{}, false
	}
	return services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, true
}

func money(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type orderItemPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
	Subtotal    string `json:"subtotal"`
}

type orderPayload struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	Status      string             `json:"status"`
	TotalAmount string             `json:"total_amount"`
	TrackingID  *string            `json:"tracking_id,omitempty"`
	Items       []orderItemPayload `json:"items"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       money(item.Price),
			Subtotal:    money(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		})
	}
	return orderPayload{
		ID:          order.ID,
		UserID:      order.UserID,
		Status:      string(order.Status),
		TotalAmount: money(order.TotalAmount),
		TrackingID:  order.TrackingID,
		Items:       items,
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
	}
}

type productPayload struct {
	ID                     string  `json:"id"`
	Name                   string  `json:"name"`
	Description            string  `json:"description"`
	CostPrice              string  `json:"cost_price"`
	SellingPrice           string  `json:"selling_price"`
	ProfitMarginPercentage string  `json:"profit_margin_percentage"`
	Stock                  int     `json:"stock"`
	Category               string  `json:"category"`
	ImageFilename          *string `json:"image_filename,omitempty"`
	ImageURL               string  `json:"image_url,omitempty"`
	CreatedAt              string  `json:"created_at"`
	UpdatedAt              string  `json:"updated_at,omitempty"`
}

func buildProductPayload(product services.Product, imageURL func(string) string) productPayload {
	payload := productPayload{
		ID:                     product.ID,
		Name:                   product.Name,
		Description:            product.Description,
		CostPrice:              money(product.CostPrice),
		SellingPrice:           money(product.SellingPrice),
		ProfitMarginPercentage: money(product.ProfitMarginPercentage),
		Stock:                  product.Stock,
		Category:               product.Category,
		ImageFilename:          product.ImageFilename,
		CreatedAt:              formatTime(product.CreatedAt),
		UpdatedAt:              formatTime(product.UpdatedAt),
	}
	if product.ImageFilename != nil && imageURL != nil {
		payload.ImageURL = imageURL(*product.ImageFilename)
	}
	return payload
}

type reviewPayload struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	ProductID string  `json:"product_id"`
	Rating    int     `json:"rating"`
	Comment   *string `json:"comment"`
	CreatedAt string  `json:"created_at"`
}

func buildReviewPayload(review services.Review) reviewPayload {
	return reviewPayload{
		ID:        review.ID,
		UserID:    review.UserID,
		ProductID: review.ProductID,
		Rating:    review.Rating,
		Comment:   review.Comment,
		CreatedAt: formatTime(review.CreatedAt),
	}
}

type userPayload struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	IsVerified bool    `json:"is_verified"`
	Address    *string `json:"address,omitempty"`
	Birthday   *string `json:"birthday,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Sex        *string `json:"sex,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func buildUserPayload(user services.User) userPayload {
	return userPayload{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		Role:       string(user.Role),
		IsVerified: user.IsVerified,
		Address:    user.Address,
		Birthday:   user.Birthday,
		Phone:      user.Phone,
		Sex:        user.Sex,
		CreatedAt:  formatTime(user.CreatedAt),
	}
}
