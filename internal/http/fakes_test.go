package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/farm-checkout/internal/checkout"
	"github.com/fjod/farm-checkout/internal/domain"
	"github.com/fjod/farm-checkout/pkg/logger"
	"github.com/fjod/farm-checkout/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type fakeCheckout struct {
	result *domain.CheckoutResult
	err    error
	got    checkout.CheckoutRequest
	calls  int
}

func (f *fakeCheckout) Checkout(_ context.Context, req checkout.CheckoutRequest) (*domain.CheckoutResult, error) {
	f.calls++
	f.got = req
	return f.result, f.err
}

type fakeOrders struct {
	orders        map[string]*domain.Order
	err           error
	cancelled     []string
	cancelRole    checkout.ActorRole
	updatedTo     domain.OrderStatus
	listLimit     int
	listOffset    int
	transitionErr error
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) filter(keep func(*domain.Order) bool) []*domain.Order {
	var out []*domain.Order
	for _, o := range f.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeOrders) ListOrdersByBuyer(_ context.Context, buyerID string) ([]*domain.Order, error) {
	return f.filter(func(o *domain.Order) bool { return o.BuyerID == buyerID }), f.err
}

func (f *fakeOrders) ListOrdersBySeller(_ context.Context, sellerID string) ([]*domain.Order, error) {
	return f.filter(func(o *domain.Order) bool { return o.SellerID == sellerID }), f.err
}

func (f *fakeOrders) ListOrders(_ context.Context, limit, offset int) ([]*domain.Order, error) {
	f.listLimit, f.listOffset = limit, offset
	return f.filter(func(*domain.Order) bool { return true }), f.err
}

func (f *fakeOrders) CancelOrder(_ context.Context, id string, role checkout.ActorRole) (*domain.Order, error) {
	f.cancelRole = role
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if f.transitionErr != nil && !isRestorePending(f.transitionErr) {
		return nil, f.transitionErr
	}
	f.cancelled = append(f.cancelled, id)
	o.Status = domain.OrderStatusCancelled
	return o, f.transitionErr
}

func (f *fakeOrders) UpdateOrderStatus(_ context.Context, id string, next domain.OrderStatus) (*domain.Order, error) {
	f.updatedTo = next
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if f.transitionErr != nil {
		return nil, f.transitionErr
	}
	o.Status = next
	return o, nil
}

func isRestorePending(err error) bool {
	return errors.Is(err, checkout.ErrStockRestorePending)
}

type fakeCarts struct {
	carts     map[string]*domain.Cart
	addresses map[string][]domain.ShippingAddress
	err       error
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{carts: map[string]*domain.Cart{}, addresses: map[string][]domain.ShippingAddress{}}
}

func (f *fakeCarts) GetCart(_ context.Context, buyerID string) (*domain.Cart, error) {
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.carts[buyerID]; ok {
		return c, nil
	}
	return &domain.Cart{BuyerID: buyerID}, nil
}

func (f *fakeCarts) SetItem(_ context.Context, buyerID, productID string, quantity int) error {
	if f.err != nil {
		return f.err
	}
	c, ok := f.carts[buyerID]
	if !ok {
		c = &domain.Cart{BuyerID: buyerID}
		f.carts[buyerID] = c
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			return nil
		}
	}
	c.Items = append(c.Items, domain.CartEntry{ProductID: productID, Quantity: quantity})
	return nil
}

func (f *fakeCarts) RemoveCartLines(_ context.Context, buyerID string, productIDs []string) error {
	c, ok := f.carts[buyerID]
	if !ok {
		return nil
	}
	kept := c.Items[:0]
	for _, e := range c.Items {
		remove := false
		for _, id := range productIDs {
			remove = remove || e.ProductID == id
		}
		if !remove {
			kept = append(kept, e)
		}
	}
	c.Items = kept
	return nil
}

func (f *fakeCarts) ClearCart(_ context.Context, buyerID string) error {
	delete(f.carts, buyerID)
	return f.err
}

func (f *fakeCarts) GetAddresses(_ context.Context, buyerID string) ([]domain.ShippingAddress, error) {
	a, ok := f.addresses[buyerID]
	if !ok {
		return nil, domain.ErrBuyerNotFound
	}
	return a, nil
}

func (f *fakeCarts) AddAddress(_ context.Context, buyerID string, addr domain.ShippingAddress) (domain.ShippingAddress, error) {
	if f.err != nil {
		return domain.ShippingAddress{}, f.err
	}
	addr.ID = "addr-1"
	f.addresses[buyerID] = append(f.addresses[buyerID], addr)
	return addr, nil
}

type testServer struct {
	handler  http.Handler
	checkout *fakeCheckout
	orders   *fakeOrders
	carts    *fakeCarts
	registry *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		checkout: &fakeCheckout{},
		orders:   &fakeOrders{orders: map[string]*domain.Order{}},
		carts:    newFakeCarts(),
		registry: prometheus.NewRegistry(),
	}
	log := logger.Discard()
	ts.handler = NewRouter(
		RouterConfig{RequestTimeout: 5 * time.Second, MaxRequestBodySize: 1 << 20},
		Handlers{
			Checkout: NewCheckoutHandler(ts.checkout, log),
			Orders:   NewOrdersHandler(ts.orders, log),
			Cart:     NewCartHandler(ts.carts, log),
		},
		metrics.NewServerMetrics(ts.registry, "checkout"),
		ts.registry,
		nil,
		log,
	)
	return ts
}

type header struct{ key, value string }

func asBuyer(id string) header { return header{HeaderBuyerID, id} }
func asRole(role string) header { return header{HeaderActorRole, role} }
func asSeller(id string) header { return header{HeaderSellerID, id} }

func (ts *testServer) do(method, target, body string, headers ...header) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range headers {
		req.Header.Set(h.key, h.value)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func sampleOrder(id, buyerID, sellerID string, status domain.OrderStatus) *domain.Order {
	price := decimal.RequireFromString("2.50")
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Order{
		ID:          id,
		CheckoutID:  "co-1",
		BuyerID:     buyerID,
		SellerID:    sellerID,
		Status:      status,
		TotalAmount: domain.LineTotal(price, 4),
		Currency:    domain.DefaultCurrency,
		ShippingAddress: domain.ShippingAddress{
			Street: "1 Farm Rd", City: "Ames", PostalCode: "50010", Country: "US",
		},
		Items: []domain.OrderItem{{
			ProductID: "eggs", ProductName: "Eggs", Quantity: 4,
			UnitPrice: price, TotalPrice: domain.LineTotal(price, 4),
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
