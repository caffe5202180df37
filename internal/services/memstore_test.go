package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/repositories"
)

type memRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
	retryable   bool
}

func (e *memRepoError) Error() string       { return e.msg }
func (e *memRepoError) IsNotFound() bool    { return e.notFound }
func (e *memRepoError) IsConflict() bool    { return e.conflict }
func (e *memRepoError) IsUnavailable() bool { return e.unavailable }
func (e *memRepoError) IsRetryable() bool   { return e.retryable }

func memNotFound(what string) error { return &memRepoError{msg: what + " not found", notFound: true} }
func memConflict(what string) error { return &memRepoError{msg: what, conflict: true} }

// memStore is an in-memory registry whose RunInTx restores every table when fn fails.
type memStore struct {
	mu       sync.Mutex
	products map[string]domain.Product
	orders   map[string]domain.Order
	items    map[string]domain.OrderItem
	reviews  map[string]domain.Review
	users    map[string]domain.User

	// failOn injects an error for the named operation, e.g. "order_items.delete_except".
	failOn map[string]error
	// hidePendingOnce makes the next FindPendingByUser miss, simulating a concurrent cart creation.
	hidePendingOnce bool
	// serializeTx runs outer transactions one at a time, the way row locks order concurrent writers.
	serializeTx bool
	txMu        sync.Mutex
	txCount     int
	rollbacks   int
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		products: map[string]domain.Product{},
		orders:   map[string]domain.Order{},
		items:    map[string]domain.OrderItem{},
		reviews:  map[string]domain.Review{},
		users:    map[string]domain.User{},
		failOn:   map[string]error{},
	}
}

var _ repositories.Registry = (*memStore)(nil)

func (m *memStore) Close(context.Context) error                   { return nil }
func (m *memStore) Products() repositories.ProductRepository     { return memProducts{m} }
func (m *memStore) Orders() repositories.OrderRepository         { return memOrders{m} }
func (m *memStore) OrderItems() repositories.OrderItemRepository { return memItems{m} }
func (m *memStore) Reviews() repositories.ReviewRepository       { return memReviews{m} }
func (m *memStore) Users() repositories.UserRepository           { return memUsers{m} }
func (m *memStore) Health() repositories.HealthRepository        { return nil }

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	if m.serializeTx {
		m.txMu.Lock()
		defer m.txMu.Unlock()
	}
	m.mu.Lock()
	m.txCount++
	products, orders, items := maps.Clone(m.products), maps.Clone(m.orders), maps.Clone(m.items)
	reviews, users := maps.Clone(m.reviews), maps.Clone(m.users)
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.products, m.orders, m.items, m.reviews, m.users = products, orders, items, reviews, users
		m.rollbacks++
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) fail(op string) error {
	if err, ok := m.failOn[op]; ok {
		return err
	}
	return nil
}

func (m *memStore) addProduct(id, name string, price string, stock int) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := domain.Product{
		ID:           id,
		Name:         name,
		SellingPrice: decimal.RequireFromString(price),
		CostPrice:    decimal.Zero,
		Stock:        stock,
		Category:     domain.DefaultProductCategory,
	}
	m.products[id] = p
	return p
}

func (m *memStore) addOrder(order domain.Order, items ...domain.OrderItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		item.OrderID = order.ID
		m.items[item.ID] = item
	}
	order.Items = nil
	m.orders[order.ID] = order
}

func (m *memStore) product(id string) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id]
}

func (m *memStore) order(id string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return m.withItems(o), true
}

func (m *memStore) pendingCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.UserID == userID && o.Status == domain.OrderStatusPending {
			n++
		}
	}
	return n
}

// withItems must be called with mu held.
func (m *memStore) withItems(order domain.Order) domain.Order {
	order.Items = []domain.OrderItem{}
	for _, item := range m.items {
		if item.OrderID == order.ID {
			order.Items = append(order.Items, item)
		}
	}
	sort.Slice(order.Items, func(i, j int) bool {
		a, b := order.Items[i], order.Items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return order
}

type memProducts struct{ m *memStore }

func (r memProducts) Insert(_ context.Context, p domain.Product) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.products[p.ID]; ok {
		return memConflict("duplicate product")
	}
	r.m.products[p.ID] = p
	return nil
}

func (r memProducts) Update(_ context.Context, p domain.Product) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.products[p.ID]; !ok {
		return memNotFound("product")
	}
	r.m.products[p.ID] = p
	return nil
}

func (r memProducts) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.products[id]; !ok {
		return memNotFound("product")
	}
	for _, item := range r.m.items {
		if item.ProductID == id {
			return memConflict("product referenced by order items")
		}
	}
	delete(r.m.products, id)
	return nil
}

func (r memProducts) FindByID(_ context.Context, id string) (domain.Product, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.products[id]
	if !ok {
		return domain.Product{}, memNotFound("product")
	}
	return p, nil
}

func (r memProducts) List(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []domain.Product
	for _, p := range r.m.products {
		if filter.Category == "" || p.Category == filter.Category {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return domain.CursorPage[domain.Product]{Items: out}, nil
}

func (r memProducts) DecrementStock(_ context.Context, id string, quantity int) error {
	if err := r.m.fail("products.decrement_stock"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.products[id]
	if !ok || p.Stock < quantity {
		return &repositories.InsufficientStockError{Op: "products.decrement_stock", ProductID: id, Requested: quantity}
	}
	p.Stock -= quantity
	r.m.products[id] = p
	return nil
}

type memOrders struct{ m *memStore }

func (r memOrders) Insert(_ context.Context, o domain.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.orders[o.ID]; ok {
		return memConflict("duplicate order id")
	}
	if o.Status == domain.OrderStatusPending {
		for _, existing := range r.m.orders {
			if existing.UserID == o.UserID && existing.Status == domain.OrderStatusPending {
				return memConflict("user already has a pending order")
			}
		}
	}
	o.Items = nil
	r.m.orders[o.ID] = o
	return nil
}

func (r memOrders) FindPendingByUser(_ context.Context, userID string, _ bool) (domain.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.hidePendingOnce {
		r.m.hidePendingOnce = false
		return domain.Order{}, memNotFound("order")
	}
	for _, o := range r.m.orders {
		if o.UserID == userID && o.Status == domain.OrderStatusPending {
			return r.m.withItems(o), nil
		}
	}
	return domain.Order{}, memNotFound("order")
}

func (r memOrders) FindByID(_ context.Context, id string, _ bool) (domain.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[id]
	if !ok {
		return domain.Order{}, memNotFound("order")
	}
	return r.m.withItems(o), nil
}

func (r memOrders) UpdateTotal(_ context.Context, id string, total decimal.Decimal, updatedAt time.Time) error {
	if err := r.m.fail("orders.update_total"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[id]
	if !ok {
		return memNotFound("order")
	}
	o.TotalAmount = total
	o.UpdatedAt = updatedAt
	r.m.orders[id] = o
	return nil
}

func (r memOrders) TransitionStatus(_ context.Context, change repositories.StatusChange) error {
	if err := r.m.fail("orders.transition"); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[change.OrderID]
	if !ok || o.Status != change.From {
		return memConflict(fmt.Sprintf("order is no longer in status %s", change.From))
	}
	o.Status = change.To
	o.UpdatedAt = change.UpdatedAt
	if change.TrackingID != nil {
		tracking := *change.TrackingID
		o.TrackingID = &tracking
	}
	r.m.orders[o.ID] = o
	return nil
}

func (r memOrders) SetStatus(_ context.Context, id string, status domain.OrderStatus, updatedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[id]
	if !ok {
		return memNotFound("order")
	}
	if status == domain.OrderStatusPending {
		for _, existing := range r.m.orders {
			if existing.ID != id && existing.UserID == o.UserID && existing.Status == domain.OrderStatusPending {
				return memConflict("user already has a pending order")
			}
		}
	}
	o.Status = status
	o.UpdatedAt = updatedAt
	r.m.orders[id] = o
	return nil
}

func (r memOrders) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.orders[id]; !ok {
		return memNotFound("order")
	}
	delete(r.m.orders, id)
	for itemID, item := range r.m.items {
		if item.OrderID == id {
			delete(r.m.items, itemID)
		}
	}
	return nil
}

func (r memOrders) ListByUser(_ context.Context, userID string, _ domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return r.list(userID), nil
}

func (r memOrders) List(_ context.Context, _ domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return r.list(""), nil
}

func (r memOrders) list(userID string) domain.CursorPage[domain.Order] {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []domain.Order
	for _, o := range r.m.orders {
		if userID == "" || o.UserID == userID {
			out = append(out, r.m.withItems(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return domain.CursorPage[domain.Order]{Items: out}
}

func (r memOrders) HasDeliveredProduct(_ context.Context, userID, productID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, item := range r.m.items {
		o := r.m.orders[item.OrderID]
		if item.ProductID == productID && o.UserID == userID && o.Status == domain.OrderStatusDelivered {
			return true, nil
		}
	}
	return false, nil
}

type memItems struct{ m *memStore }

func (r memItems) Insert(_ context.Context, item domain.OrderItem) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.items {
		if existing.OrderID == item.OrderID && existing.ProductID == item.ProductID {
			return memConflict("duplicate line for product")
		}
	}
	r.m.items[item.ID] = item
	return nil
}

func (r memItems) FindForUser(_ context.Context, itemID, userID string) (domain.OrderItem, domain.OrderStatus, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	item, ok := r.m.items[itemID]
	if !ok {
		return domain.OrderItem{}, "", memNotFound("order item")
	}
	o := r.m.orders[item.OrderID]
	if o.UserID != userID {
		return domain.OrderItem{}, "", memNotFound("order item")
	}
	return item, o.Status, nil
}

func (r memItems) UpdateQuantity(_ context.Context, itemID string, quantity int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	item, ok := r.m.items[itemID]
	if !ok {
		return memNotFound("order item")
	}
	item.Quantity = quantity
	r.m.items[itemID] = item
	return nil
}

func (r memItems) Delete(_ context.Context, itemID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.items[itemID]; !ok {
		return memNotFound("order item")
	}
	delete(r.m.items, itemID)
	return nil
}

func (r memItems) DeleteExcept(_ context.Context, orderID string, keep []string) (int, error) {
	if err := r.m.fail("order_items.delete_except"); err != nil {
		return 0, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}
	removed := 0
	for id, item := range r.m.items {
		if item.OrderID != orderID {
			continue
		}
		if _, ok := kept[id]; !ok {
			delete(r.m.items, id)
			removed++
		}
	}
	return removed, nil
}

type memReviews struct{ m *memStore }

func (r memReviews) Insert(_ context.Context, review domain.Review) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.reviews {
		if existing.UserID == review.UserID && existing.ProductID == review.ProductID {
			return memConflict("duplicate review")
		}
	}
	r.m.reviews[review.ID] = review
	return nil
}

func (r memReviews) FindByUserAndProduct(_ context.Context, userID, productID string) (domain.Review, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, review := range r.m.reviews {
		if review.UserID == userID && review.ProductID == productID {
			return review, nil
		}
	}
	return domain.Review{}, memNotFound("review")
}

func (r memReviews) ListByProduct(_ context.Context, productID string, _ domain.Pagination) (domain.CursorPage[domain.Review], error) {
	return r.list(productID), nil
}

func (r memReviews) List(_ context.Context, _ domain.Pagination) (domain.CursorPage[domain.Review], error) {
	return r.list(""), nil
}

func (r memReviews) list(productID string) domain.CursorPage[domain.Review] {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []domain.Review
	for _, review := range r.m.reviews {
		if productID == "" || review.ProductID == productID {
			out = append(out, review)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return domain.CursorPage[domain.Review]{Items: out}
}

type memUsers struct{ m *memStore }

func (r memUsers) Insert(_ context.Context, user domain.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.users {
		if existing.Email == user.Email {
			return memConflict("email taken")
		}
	}
	r.m.users[user.ID] = user
	return nil
}

func (r memUsers) Update(_ context.Context, user domain.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[user.ID]; !ok {
		return memNotFound("user")
	}
	r.m.users[user.ID] = user
	return nil
}

func (r memUsers) FindByID(_ context.Context, id string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.ID == id })
}

func (r memUsers) FindByEmail(_ context.Context, email string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email == email })
}

func (r memUsers) FindByVerificationToken(_ context.Context, token string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.VerificationToken != nil && *u.VerificationToken == token })
}

func (r memUsers) FindByResetToken(_ context.Context, token string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.ResetToken != nil && *u.ResetToken == token })
}

func (r memUsers) List(_ context.Context, _ domain.Pagination) (domain.CursorPage[domain.User], error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]domain.User, 0, len(r.m.users))
	for _, u := range r.m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return domain.CursorPage[domain.User]{Items: out}, nil
}

func (r memUsers) find(match func(domain.User) bool) (domain.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if match(u) {
			return u, nil
		}
	}
	return domain.User{}, memNotFound("user")
}

// sequentialIDs returns a generator producing zero-padded increasing ids.
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%04d", n)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var errStorageDown = errors.New("connection reset")
