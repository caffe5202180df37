package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/repositories"
)

const (
	productIDPrefix      = "prd_"
	maxProductNameLength = 200
)

var (
	// ErrCatalogInvalidInput indicates invalid product data.
	ErrCatalogInvalidInput = newKindError(ErrInvalidArgument, "catalog: invalid input")
	// ErrCatalogNotFound indicates the product does not exist.
	ErrCatalogNotFound = newKindError(ErrNotFound, "catalog: product not found")
	// ErrCatalogProductInUse indicates order lines still reference the product.
	ErrCatalogProductInUse = newKindError(ErrConflict, "catalog: product is referenced by orders")
	// ErrCatalogImageFailed indicates the image store rejected an upload.
	ErrCatalogImageFailed = newKindError(ErrStorageFailure, "catalog: image storage failed")
)

// CatalogServiceDeps bundles collaborators required to construct a CatalogService.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Images      ImageStorage
	Clock       func() time.Time
	// IDGenerator returns the unique part of new ids. The service adds the type prefix.
	IDGenerator func() string
	Sanitizer   func(string) string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	images   ImageStorage
	clock    func() time.Time
	newID    func() string
	sanitize func(string) string
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs a CatalogService. Images may be nil, in which case uploads are rejected.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = NewTextSanitizer()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		products: deps.Products,
		images:   deps.Images,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error) {
	category := strings.TrimSpace(filter.Category)
	if category != "" {
		category = s.normaliseCategory(category)
	}
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		Category:   category,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, mapRepoError(err, ErrCatalogNotFound, nil)
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapRepoError(err, ErrCatalogNotFound, nil)
	}
	return product, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	now := s.clock()
	product := Product{
		ID:           productIDPrefix + s.newID(),
		Name:         strings.TrimSpace(cmd.Name),
		Description:  s.sanitize(cmd.Description),
		CostPrice:    cmd.CostPrice,
		SellingPrice: cmd.SellingPrice,
		Stock:        cmd.Stock,
		Category:     s.normaliseCategory(cmd.Category),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validateProduct(product); err != nil {
		return Product{}, err
	}
	product.ProfitMarginPercentage = domain.ProfitMargin(product.CostPrice, product.SellingPrice)

	if cmd.Image != nil {
		filename, err := s.saveImage(ctx, product.ID, cmd.Image)
		if err != nil {
			return Product{}, err
		}
		product.ImageFilename = &filename
	}

	if err := s.products.Insert(ctx, product); err != nil {
		s.discardImage(ctx, product.ImageFilename)
		return Product{}, mapRepoError(err, ErrCatalogNotFound, nil)
	}

	s.logger(ctx, "catalog.product.created", map[string]any{
		"productID": product.ID,
		"category":  product.Category,
	})
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	product, err := s.GetProduct(ctx, cmd.ProductID)
	if err != nil {
		return Product{}, err
	}

	if cmd.Name != nil {
		product.Name = strings.TrimSpace(*cmd.Name)
	}
	if cmd.Description != nil {
		product.Description = s.sanitize(*cmd.Description)
	}
	if cmd.CostPrice != nil {
		product.CostPrice = *cmd.CostPrice
	}
	if cmd.SellingPrice != nil {
		product.SellingPrice = *cmd.SellingPrice
	}
	if cmd.Stock != nil {
		product.Stock = *cmd.Stock
	}
	if cmd.Category != nil {
		product.Category = s.normaliseCategory(*cmd.Category)
	}
	if err := validateProduct(product); err != nil {
		return Product{}, err
	}
	product.ProfitMarginPercentage = domain.ProfitMargin(product.CostPrice, product.SellingPrice)
	product.UpdatedAt = s.clock()

	previousImage := product.ImageFilename
	if cmd.Image != nil {
		filename, err := s.saveImage(ctx, product.ID, cmd.Image)
		if err != nil {
			return Product{}, err
		}
		product.ImageFilename = &filename
	}

	if err := s.products.Update(ctx, product); err != nil {
		if cmd.Image != nil {
			s.discardImage(ctx, product.ImageFilename)
		}
		return Product{}, mapRepoError(err, ErrCatalogNotFound, nil)
	}
	if cmd.Image != nil {
		s.discardImage(ctx, previousImage)
	}

	s.logger(ctx, "catalog.product.updated", map[string]any{
		"productID": product.ID,
	})
	return product, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if err := s.products.Delete(ctx, product.ID); err != nil {
		return mapRepoError(err, ErrCatalogNotFound, ErrCatalogProductInUse)
	}
	s.discardImage(ctx, product.ImageFilename)

	s.logger(ctx, "catalog.product.deleted", map[string]any{
		"productID": product.ID,
	})
	return nil
}

func (s *catalogService) saveImage(ctx context.Context, productID string, upload *ImageUpload) (string, error) {
	if s.images == nil {
		return "", fmt.Errorf("%w: image uploads are not configured", ErrCatalogInvalidInput)
	}
	if upload.Body == nil {
		return "", fmt.Errorf("%w: image body is required", ErrCatalogInvalidInput)
	}
	contentType := strings.TrimSpace(upload.ContentType)
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: unsupported image content type %q", ErrCatalogInvalidInput, contentType)
	}
	name := productID
	if upload.Filename != "" {
		name = productID + "-" + upload.Filename
	}
	filename, err := s.images.SaveImage(ctx, name, contentType, upload.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCatalogImageFailed, err)
	}
	return filename, nil
}

func (s *catalogService) discardImage(ctx context.Context, filename *string) {
	if s.images == nil || filename == nil || *filename == "" {
		return
	}
	if err := s.images.DeleteImage(ctx, *filename); err != nil {
		s.logger(ctx, "catalog.image.delete.failed", map[string]any{
			"filename": *filename,
			"error":    err.Error(),
		})
	}
}

func (s *catalogService) normaliseCategory(category string) string {
	category = strings.Join(strings.Fields(category), " ")
	if category == "" {
		return domain.DefaultProductCategory
	}
	// Casers carry state and are not safe for concurrent use.
	return cases.Title(language.Und).String(category)
}

func validateProduct(product Product) error {
	switch {
	case product.Name == "":
		return fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	case len(product.Name) > maxProductNameLength:
		return fmt.Errorf("%w: name must be at most %d characters", ErrCatalogInvalidInput, maxProductNameLength)
	case product.CostPrice.IsNegative():
		return fmt.Errorf("%w: cost price must not be negative", ErrCatalogInvalidInput)
	case product.SellingPrice.IsNegative():
		return fmt.Errorf("%w: selling price must not be negative", ErrCatalogInvalidInput)
	case product.Stock < 0:
		return fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
	case !product.SellingPrice.Equal(product.SellingPrice.Round(2)):
		return fmt.Errorf("%w: selling price has more than two decimals", ErrCatalogInvalidInput)
	case !product.CostPrice.Equal(product.CostPrice.Round(2)):
		return fmt.Errorf("%w: cost price has more than two decimals", ErrCatalogInvalidInput)
	}
	return nil
}
