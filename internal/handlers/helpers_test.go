package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/platform/auth"
	"github.com/myshop/api/internal/services"
)

// roleTokenDecoder accepts tokens of the form "<userID>:<role>".
type roleTokenDecoder struct{}

func (roleTokenDecoder) DecodeToken(token string) (auth.Claims, error) {
	userID, rawRole, ok := strings.Cut(token, ":")
	if !ok || userID == "" {
		return auth.Claims{}, auth.ErrTokenInvalid
	}
	role, err := domain.ParseRole(rawRole)
	if err != nil {
		return auth.Claims{}, auth.ErrTokenInvalid
	}
	return auth.Claims{UserID: userID, Role: role}, nil
}

func newTestAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(roleTokenDecoder{})
}

func withIdentity(req *http.Request, userID string, role domain.Role) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: userID, Role: role}))
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeJSON[map[string]any](t, rr)
	code, _ := body["error"].(string)
	return code
}

var errNotStubbed = errors.New("not stubbed")

type stubCartService struct {
	getFn    func(context.Context, string) (services.Order, error)
	addFn    func(context.Context, services.AddCartItemCommand) (services.Order, error)
	updateFn func(context.Context, services.UpdateCartItemCommand) (services.Order, error)
	removeFn func(context.Context, services.RemoveCartItemCommand) error
}

func (s *stubCartService) GetOrCreateCart(ctx context.Context, userID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Order, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) error {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return errNotStubbed
}

type stubCheckoutService struct {
	checkoutFn func(context.Context, services.CheckoutCommand) (services.Order, error)
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

type stubOrderService struct {
	shipFn       func(context.Context, services.ShipOrderCommand) (services.Order, error)
	deliverFn    func(context.Context, services.AcknowledgeDeliveryCommand) (services.Order, error)
	updateFn     func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	deleteFn     func(context.Context, services.DeleteOrderCommand) error
	getFn        func(context.Context, string, services.Actor) (services.Order, error)
	listUserFn   func(context.Context, string, services.Pagination) (domain.CursorPage[services.Order], error)
	listOrdersFn func(context.Context, services.Pagination) (domain.CursorPage[services.Order], error)
}

func (s *stubOrderService) Ship(ctx context.Context, cmd services.ShipOrderCommand) (services.Order, error) {
	if s.shipFn != nil {
		return s.shipFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) AcknowledgeDelivery(ctx context.Context, cmd services.AcknowledgeDeliveryCommand) (services.Order, error) {
	if s.deliverFn != nil {
		return s.deliverFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, cmd services.DeleteOrderCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, actor)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListUserOrders(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listUserFn != nil {
		return s.listUserFn(ctx, userID, pager)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listOrdersFn != nil {
		return s.listOrdersFn(ctx, pager)
	}
	return domain.CursorPage[services.Order]{}, nil
}

type stubReviewService struct {
	createFn    func(context.Context, services.CreateReviewCommand) (services.Review, error)
	byProductFn func(context.Context, string, services.Pagination) (domain.CursorPage[services.Review], error)
	listAllFn   func(context.Context, services.Pagination) (domain.CursorPage[services.Review], error)
}

func (s *stubReviewService) Create(ctx context.Context, cmd services.CreateReviewCommand) (services.Review, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Review{}, errNotStubbed
}

func (s *stubReviewService) ListByProduct(ctx context.Context, productID string, pager services.Pagination) (domain.CursorPage[services.Review], error) {
	if s.byProductFn != nil {
		return s.byProductFn(ctx, productID, pager)
	}
	return domain.CursorPage[services.Review]{}, nil
}

func (s *stubReviewService) ListAll(ctx context.Context, pager services.Pagination) (domain.CursorPage[services.Review], error) {
	if s.listAllFn != nil {
		return s.listAllFn(ctx, pager)
	}
	return domain.CursorPage[services.Review]{}, nil
}

type stubCatalogService struct {
	listFn   func(context.Context, services.ProductFilter) (domain.CursorPage[services.Product], error)
	getFn    func(context.Context, string) (services.Product, error)
	createFn func(context.Context, services.CreateProductCommand) (services.Product, error)
	updateFn func(context.Context, services.UpdateProductCommand) (services.Product, error)
	deleteFn func(context.Context, string) error
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductFilter) (domain.CursorPage[services.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return services.Product{}, errNotStubbed
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Product{}, errNotStubbed
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpdateProductCommand) (services.Product, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Product{}, errNotStubbed
}

func (s *stubCatalogService) DeleteProduct(ctx context.Context, productID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, productID)
	}
	return errNotStubbed
}

type stubAccountService struct {
	registerFn func(context.Context, services.RegisterCommand) (services.User, error)
	verifyFn   func(context.Context, string) (services.User, error)
	loginFn    func(context.Context, string, string) (services.LoginResult, error)
	forgotFn   func(context.Context, string) error
	resetFn    func(context.Context, string, string) error
	meFn       func(context.Context, string) (services.User, error)
	listFn     func(context.Context, services.Pagination) (domain.CursorPage[services.User], error)
}

func (s *stubAccountService) Register(ctx context.Context, cmd services.RegisterCommand) (services.User, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, cmd)
	}
	return services.User{}, errNotStubbed
}

func (s *stubAccountService) VerifyEmail(ctx context.Context, token string) (services.User, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, token)
	}
	return services.User{}, errNotStubbed
}

func (s *stubAccountService) Login(ctx context.Context, email, password string) (services.LoginResult, error) {
	if s.loginFn != nil {
		return s.loginFn(ctx, email, password)
	}
	return services.LoginResult{}, errNotStubbed
}

func (s *stubAccountService) ForgotPassword(ctx context.Context, email string) error {
	if s.forgotFn != nil {
		return s.forgotFn(ctx, email)
	}
	return errNotStubbed
}

func (s *stubAccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if s.resetFn != nil {
		return s.resetFn(ctx, token, newPassword)
	}
	return errNotStubbed
}

func (s *stubAccountService) Me(ctx context.Context, userID string) (services.User, error) {
	if s.meFn != nil {
		return s.meFn(ctx, userID)
	}
	return services.User{}, errNotStubbed
}

func (s *stubAccountService) ListUsers(ctx context.Context, pager services.Pagination) (domain.CursorPage[services.User], error) {
	if s.listFn != nil {
		return s.listFn(ctx, pager)
	}
	return domain.CursorPage[services.User]{}, nil
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var (
	_ services.CartService     = (*stubCartService)(nil)
	_ services.CheckoutService = (*stubCheckoutService)(nil)
	_ services.OrderService    = (*stubOrderService)(nil)
	_ services.ReviewService   = (*stubReviewService)(nil)
	_ services.CatalogService  = (*stubCatalogService)(nil)
	_ services.AccountService  = (*stubAccountService)(nil)
	_ services.SystemService   = (*stubSystemService)(nil)
)
