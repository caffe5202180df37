package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/myshop/api/internal/domain"
	ppostgres "github.com/myshop/api/internal/platform/postgres"
	"github.com/myshop/api/internal/repositories"
)

// deadlockingProducts fails the first failures stock decrements with a Postgres deadlock.
type deadlockingProducts struct {
	repositories.ProductRepository
	failures int
	calls    int
}

func (p *deadlockingProducts) DecrementStock(ctx context.Context, id string, quantity int) error {
	p.calls++
	if p.calls <= p.failures {
		return ppostgres.WrapError("products.decrement_stock", &pq.Error{Code: "40P01", Message: "deadlock detected"})
	}
	return p.ProductRepository.DecrementStock(ctx, id, quantity)
}

func newTxCheckout(t *testing.T, f *checkoutFixture, products repositories.ProductRepository, attempts int) (CheckoutService, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Products:   products,
		Orders:     f.store.Orders(),
		OrderItems: f.store.OrderItems(),
		UnitOfWork: ppostgres.NewTxRunner(sqlx.NewDb(raw, "postgres"), ppostgres.WithTxAttempts(attempts)),
		Clock:      fixedClock(checkoutNow.Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing checkout service: %v", err)
	}
	return svc, mock
}

func TestCheckoutServiceRetriesDeadlockedTransaction(t *testing.T) {
	f := newCheckoutFixture(t)
	products := &deadlockingProducts{ProductRepository: f.store.Products(), failures: 1}
	svc, mock := newTxCheckout(t, f, products, 3)
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	order, err := svc.Checkout(context.Background(), CheckoutCommand{
		UserID:          "usr_1",
		CartID:          f.cartID,
		SelectedItemIDs: []string{f.itemA},
	})
	if err != nil {
		t.Fatalf("expected checkout to succeed after retry, got %v", err)
	}
	if products.calls != 2 {
		t.Fatalf("expected two decrement attempts, got %d", products.calls)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid order, got %s", order.Status)
	}
	if stock := f.store.product("prd_a").Stock; stock != 2 {
		t.Fatalf("expected A stock 2, got %d", stock)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet transaction expectations: %v", err)
	}
}

func TestCheckoutServiceReportsPersistentDeadlockAsStorageFailure(t *testing.T) {
	f := newCheckoutFixture(t)
	products := &deadlockingProducts{ProductRepository: f.store.Products(), failures: 10}
	svc, mock := newTxCheckout(t, f, products, 2)
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	_, err := svc.Checkout(context.Background(), CheckoutCommand{
		UserID:          "usr_1",
		CartID:          f.cartID,
		SelectedItemIDs: []string{f.itemA},
	})
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if errors.Is(err, ErrConflict) {
		t.Fatalf("deadlock must not be reported as a conflict: %v", err)
	}
	if products.calls != 2 {
		t.Fatalf("expected one decrement per attempt, got %d", products.calls)
	}
	if stock := f.store.product("prd_a").Stock; stock != 5 {
		t.Fatalf("expected A stock untouched, got %d", stock)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet transaction expectations: %v", err)
	}
}
