package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/myshop/api/internal/platform/auth"
	"github.com/myshop/api/internal/platform/httpx"
	"github.com/myshop/api/internal/services"
)

const (
	maxProductFormSize    = 6 << 20
	productFormMemory     = 1 << 20
	productImageFieldName = "image"
)

// ProductHandlers exposes the public catalog and admin product management.
type ProductHandlers struct {
	authn    *auth.Authenticator
	catalog  services.CatalogService
	reviews  services.ReviewService
	imageURL func(string) string
}

// ProductOption customises ProductHandlers.
type ProductOption func(*ProductHandlers)

// WithProductReviews enables GET /products/{productID}/reviews.
func WithProductReviews(reviews services.ReviewService) ProductOption {
	return func(h *ProductHandlers) {
		h.reviews = reviews
	}
}

// WithImageURLs sets the function that turns a stored image filename into a public URL.
func WithImageURLs(fn func(string) string) ProductOption {
	return func(h *ProductHandlers) {
		h.imageURL = fn
	}
}

// NewProductHandlers constructs ProductHandlers.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService, opts ...ProductOption) *ProductHandlers {
	h := &ProductHandlers{authn: authn, catalog: catalog}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
	r.Get("/{productID}/reviews", h.listProductReviews)

	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireAdmin())
		}
		admin.Post("/", h.createProduct)
		admin.Put("/{productID}", h.updateProduct)
		admin.Delete("/{productID}", h.deleteProduct)
	})
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	pager, ok := pageFromRequest(w, r)
	if !ok {
		return
	}

	page, err := h.catalog.ListProducts(ctx, services.ProductFilter{
		Category:   strings.TrimSpace(r.URL.Query().Get("category")),
		Pagination: pager,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newListResponse(page, h.productPayload))
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.productPayload(product))
}

func (h *ProductHandlers) listProductReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		writeServiceUnavailable(ctx, w, "review")
		return
	}
	pager, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	page, err := h.reviews.ListByProduct(ctx, chi.URLParam(r, "productID"), pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newListResponse(page, buildReviewPayload))
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	form, err := parseProductForm(w, r)
	if err != nil {
		writeFormError(w, r, err)
		return
	}
	defer form.cleanup()

	cmd := services.CreateProductCommand{
		Name:        form.value("name"),
		Description: form.value("description"),
		Category:    form.value("category"),
		Image:       form.image,
	}
	if cmd.CostPrice, err = form.requiredDecimal("cost_price"); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	if cmd.SellingPrice, err = form.requiredDecimal("selling_price"); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	if stock, err := form.optionalInt("stock"); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	} else if stock != nil {
		cmd.Stock = *stock
	}

	product, err := h.catalog.CreateProduct(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, h.productPayload(product))
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	form, err := parseProductForm(w, r)
	if err != nil {
		writeFormError(w, r, err)
		return
	}
	defer form.cleanup()

	cmd := services.UpdateProductCommand{
		ProductID:   chi.URLParam(r, "productID"),
		Name:        form.optionalString("name"),
		Description: form.optionalString("description"),
		Category:    form.optionalString("category"),
		Image:       form.image,
	}
	if cmd.CostPrice, err = form.optionalDecimal("cost_price"); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	if cmd.SellingPrice, err = form.optionalDecimal("selling_price"); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}
	if cmd.Stock, err = form.optionalInt("stock"); err != nil {
		writeInvalidRequest(ctx, w, err.Error())
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.productPayload(product))
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeServiceUnavailable(ctx, w, "catalog")
		return
	}
	productID := chi.URLParam(r, "productID")
	if err := h.catalog.DeleteProduct(ctx, productID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"id": productID, "deleted": true})
}

func (h *ProductHandlers) productPayload(product services.Product) productPayload {
	return buildProductPayload(product, h.imageURL)
}

var errFormTooLarge = errors.New("form exceeds allowed size")

type productForm struct {
	values map[string][]string
	image  *services.ImageUpload
	file   multipart.File
	form   *multipart.Form
}

// parseProductForm accepts multipart/form-data (with an optional image part) or urlencoded forms.
func parseProductForm(w http.ResponseWriter, r *http.Request) (*productForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxProductFormSize)

	form := &productForm{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(productFormMemory); err != nil {
			return nil, classifyFormError(err)
		}
		form.form = r.MultipartForm
		if files := r.MultipartForm.File[productImageFieldName]; len(files) > 0 {
			header := files[0]
			file, err := header.Open()
			if err != nil {
				return nil, fmt.Errorf("read image: %w", err)
			}
			form.file = file
			form.image = &services.ImageUpload{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Body:        file,
			}
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, classifyFormError(err)
	}
	form.values = r.PostForm
	return form, nil
}

func classifyFormError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errFormTooLarge
	}
	return err
}

func writeFormError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errFormTooLarge) {
		httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	writeInvalidRequest(r.Context(), w, "invalid form payload")
}

func (f *productForm) cleanup() {
	if f.file != nil {
		_ = f.file.Close()
	}
	if f.form != nil {
		_ = f.form.RemoveAll()
	}
}

func (f *productForm) value(key string) string {
	if values := f.values[key]; len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

func (f *productForm) optionalString(key string) *string {
	if _, ok := f.values[key]; !ok {
		return nil
	}
	value := f.value(key)
	return &value
}

func (f *productForm) requiredDecimal(key string) (decimal.Decimal, error) {
	value, err := f.optionalDecimal(key)
	if err != nil {
		return decimal.Zero, err
	}
	if value == nil {
		return decimal.Zero, fmt.Errorf("%s is required", key)
	}
	return *value, nil
}

func (f *productForm) optionalDecimal(key string) (*decimal.Decimal, error) {
	raw := f.optionalString(key)
	if raw == nil || *raw == "" {
		return nil, nil
	}
	value, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a decimal number", key)
	}
	return &value, nil
}

func (f *productForm) optionalInt(key string) (*int, error) {
	raw := f.optionalString(key)
	if raw == nil || *raw == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(*raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", key)
	}
	return &value, nil
}
