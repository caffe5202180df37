package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/myshop/api/internal/domain"
)

var catalogNow = time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)

type stubImageStorage struct {
	saved   map[string]string
	deleted []string
	saveErr error
}

func newStubImageStorage() *stubImageStorage {
	return &stubImageStorage{saved: map[string]string{}}
}

func (s *stubImageStorage) SaveImage(_ context.Context, name, _ string, body io.Reader) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	filename := "stored-" + name
	s.saved[filename] = string(data)
	return filename, nil
}

func (s *stubImageStorage) DeleteImage(_ context.Context, filename string) error {
	s.deleted = append(s.deleted, filename)
	delete(s.saved, filename)
	return nil
}

func newTestCatalogService(t *testing.T, store *memStore, images ImageStorage) CatalogService {
	t.Helper()
	ids := sequentialIDs()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:    store.Products(),
		Images:      images,
		Clock:       fixedClock(catalogNow),
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing catalog service: %v", err)
	}
	return svc
}

func TestCatalogServiceCreateProductNormalises(t *testing.T) {
	store := newMemStore()
	svc := newTestCatalogService(t, store, nil)

	product, err := svc.CreateProduct(context.Background(), CreateProductCommand{
		Name:         "  Sencha  ",
		Description:  "<p>Steamed green tea</p>",
		CostPrice:    decimal.RequireFromString("8.00"),
		SellingPrice: decimal.RequireFromString("10.00"),
		Stock:        12,
		Category:     "  green   tea ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.ID != "prd_0001" || product.Name != "Sencha" {
		t.Fatalf("unexpected product identity %q %q", product.ID, product.Name)
	}
	if product.Category != "Green Tea" {
		t.Fatalf("expected title-cased category, got %q", product.Category)
	}
	if product.Description != "Steamed green tea" {
		t.Fatalf("expected sanitized description, got %q", product.Description)
	}
	if !product.ProfitMarginPercentage.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected margin 25, got %s", product.ProfitMarginPercentage)
	}
	if stored := store.product(product.ID); stored.Stock != 12 {
		t.Fatalf("expected stored product, got %+v", stored)
	}
}

func TestCatalogServiceCreateProductDefaultsCategory(t *testing.T) {
	svc := newTestCatalogService(t, newMemStore(), nil)

	product, err := svc.CreateProduct(context.Background(), CreateProductCommand{
		Name:         "Kettle",
		SellingPrice: decimal.RequireFromString("35"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.Category != domain.DefaultProductCategory {
		t.Fatalf("expected default category, got %q", product.Category)
	}
	if !product.ProfitMarginPercentage.IsZero() {
		t.Fatalf("expected zero margin for zero cost, got %s", product.ProfitMarginPercentage)
	}
}

func TestCatalogServiceCreateProductValidation(t *testing.T) {
	svc := newTestCatalogService(t, newMemStore(), nil)
	valid := func() CreateProductCommand {
		return CreateProductCommand{Name: "Tea", CostPrice: decimal.NewFromInt(1), SellingPrice: decimal.NewFromInt(2), Stock: 1}
	}

	tests := []struct {
		name   string
		mutate func(*CreateProductCommand)
	}{
		{name: "blank name", mutate: func(c *CreateProductCommand) { c.Name = "   " }},
		{name: "long name", mutate: func(c *CreateProductCommand) { c.Name = strings.Repeat("x", maxProductNameLength+1) }},
		{name: "negative cost", mutate: func(c *CreateProductCommand) { c.CostPrice = decimal.NewFromInt(-1) }},
		{name: "negative price", mutate: func(c *CreateProductCommand) { c.SellingPrice = decimal.NewFromInt(-1) }},
		{name: "negative stock", mutate: func(c *CreateProductCommand) { c.Stock = -1 }},
		{name: "sub-cent price", mutate: func(c *CreateProductCommand) { c.SellingPrice = decimal.RequireFromString("1.005") }},
		{name: "image without storage", mutate: func(c *CreateProductCommand) {
			c.Image = &ImageUpload{Filename: "a.png", ContentType: "image/png", Body: strings.NewReader("png")}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := valid()
			tc.mutate(&cmd)
			_, err := svc.CreateProduct(context.Background(), cmd)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestCatalogServiceImageLifecycle(t *testing.T) {
	store := newMemStore()
	images := newStubImageStorage()
	svc := newTestCatalogService(t, store, images)
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, CreateProductCommand{
		Name:         "Matcha",
		SellingPrice: decimal.NewFromInt(20),
		Image:        &ImageUpload{Filename: "matcha.png", ContentType: "image/png", Body: strings.NewReader("v1")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.ImageFilename == nil || *product.ImageFilename != "stored-prd_0001-matcha.png" {
		t.Fatalf("unexpected image filename %v", product.ImageFilename)
	}

	updated, err := svc.UpdateProduct(ctx, UpdateProductCommand{
		ProductID: product.ID,
		Image:     &ImageUpload{Filename: "matcha-2.jpg", ContentType: "image/jpeg", Body: strings.NewReader("v2")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *updated.ImageFilename != "stored-prd_0001-matcha-2.jpg" {
		t.Fatalf("unexpected replacement filename %s", *updated.ImageFilename)
	}
	if len(images.deleted) != 1 || images.deleted[0] != "stored-prd_0001-matcha.png" {
		t.Fatalf("expected previous image to be deleted, got %v", images.deleted)
	}

	_, err = svc.UpdateProduct(ctx, UpdateProductCommand{
		ProductID: product.ID,
		Image:     &ImageUpload{Filename: "notes.txt", ContentType: "text/plain", Body: strings.NewReader("x")},
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for non-image upload, got %v", err)
	}

	images.saveErr = errors.New("bucket unavailable")
	_, err = svc.UpdateProduct(ctx, UpdateProductCommand{
		ProductID: product.ID,
		Image:     &ImageUpload{Filename: "m.png", ContentType: "image/png", Body: strings.NewReader("v3")},
	})
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if stored := store.product(product.ID); *stored.ImageFilename != "stored-prd_0001-matcha-2.jpg" {
		t.Fatalf("failed upload must keep the current image, got %s", *stored.ImageFilename)
	}
}

func TestCatalogServiceUpdateProductPartial(t *testing.T) {
	store := newMemStore()
	svc := newTestCatalogService(t, store, nil)
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, CreateProductCommand{
		Name:         "Hojicha",
		CostPrice:    decimal.NewFromInt(4),
		SellingPrice: decimal.NewFromInt(6),
		Stock:        3,
		Category:     "tea",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	price := decimal.NewFromInt(8)
	stock := 10
	updated, err := svc.UpdateProduct(ctx, UpdateProductCommand{ProductID: product.ID, SellingPrice: &price, Stock: &stock})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Name != "Hojicha" || updated.Category != "Tea" {
		t.Fatalf("expected untouched fields to persist, got %+v", updated)
	}
	if updated.Stock != 10 || !updated.ProfitMarginPercentage.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected stock 10 and margin 100, got %d and %s", updated.Stock, updated.ProfitMarginPercentage)
	}

	negative := -1
	if _, err := svc.UpdateProduct(ctx, UpdateProductCommand{ProductID: product.ID, Stock: &negative}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := svc.UpdateProduct(ctx, UpdateProductCommand{ProductID: "prd_missing", Stock: &stock}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogServiceDeleteProduct(t *testing.T) {
	store := newMemStore()
	images := newStubImageStorage()
	svc := newTestCatalogService(t, store, images)
	ctx := context.Background()

	referenced := store.addProduct("prd_ref", "Referenced", "5.00", 1)
	store.addOrder(
		domain.Order{ID: "ord_1", UserID: "usr_1", Status: domain.OrderStatusPaid},
		domain.OrderItem{ID: "itm_1", ProductID: referenced.ID, Quantity: 1, Price: decimal.NewFromInt(5)},
	)
	if err := svc.DeleteProduct(ctx, referenced.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for referenced product, got %v", err)
	}

	product, err := svc.CreateProduct(ctx, CreateProductCommand{
		Name:         "Loose",
		SellingPrice: decimal.NewFromInt(3),
		Image:        &ImageUpload{ContentType: "image/webp", Body: strings.NewReader("img")},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.DeleteProduct(ctx, product.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(images.deleted) != 1 || images.deleted[0] != *product.ImageFilename {
		t.Fatalf("expected image cleanup, got %v", images.deleted)
	}
	if _, err := svc.GetProduct(ctx, product.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestCatalogServiceListProductsByCategory(t *testing.T) {
	store := newMemStore()
	svc := newTestCatalogService(t, store, nil)
	ctx := context.Background()

	for _, cmd := range []CreateProductCommand{
		{Name: "Sencha", SellingPrice: decimal.NewFromInt(10), Category: "green tea"},
		{Name: "Assam", SellingPrice: decimal.NewFromInt(9), Category: "black tea"},
	} {
		if _, err := svc.CreateProduct(ctx, cmd); err != nil {
			t.Fatalf("create %s: %v", cmd.Name, err)
		}
	}

	page, err := svc.ListProducts(ctx, ProductFilter{Category: "GREEN TEA"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "Sencha" {
		t.Fatalf("expected only Sencha, got %+v", page.Items)
	}
}
