package checkout

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	catalogstore "github.com/fjod/farm-checkout/internal/catalog/store"
	"github.com/fjod/farm-checkout/internal/domain"
	"github.com/fjod/farm-checkout/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var errConnRefused = errors.New("dial tcp 10.0.0.7:5432: connection refused")

// MockCatalog wraps the in-memory catalog and injects failures per product.
type MockCatalog struct {
	*catalogstore.MemoryStore
	GetErr       error
	DecrementErr map[string]error
	// LateApply applies the decrement for these products and then reports a timeout.
	LateApply    map[string]bool
	RestoreErr   error
	RestoreCalls int
	ReleaseErr   error
	ReleaseCalls int
}

func newMockCatalog() *MockCatalog {
	return &MockCatalog{
		MemoryStore:  catalogstore.NewMemoryStore(),
		DecrementErr: map[string]error{},
		LateApply:    map[string]bool{},
	}
}

func (m *MockCatalog) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.MemoryStore.GetProduct(ctx, productID)
}

func (m *MockCatalog) DecrementStock(ctx context.Context, key, productID string, qty int) error {
	if err := m.DecrementErr[productID]; err != nil {
		return err
	}
	if err := m.MemoryStore.DecrementStock(ctx, key, productID, qty); err != nil {
		return err
	}
	if m.LateApply[productID] {
		return context.DeadlineExceeded
	}
	return nil
}

func (m *MockCatalog) ReleaseReservation(ctx context.Context, key string) error {
	m.ReleaseCalls++
	if m.ReleaseErr != nil {
		return m.ReleaseErr
	}
	return m.MemoryStore.ReleaseReservation(ctx, key)
}

func (m *MockCatalog) RestoreStock(ctx context.Context, key string, lines []domain.StockLine) error {
	m.RestoreCalls++
	if m.RestoreErr != nil {
		return m.RestoreErr
	}
	return m.MemoryStore.RestoreStock(ctx, key, lines)
}

func (m *MockCatalog) put(t *testing.T, id, seller, price string, stock int) {
	require.NoError(t, m.PutProduct(context.Background(), domain.Product{
		ID:       id,
		SellerID: seller,
		Name:     "product " + id,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
	}))
}

// MockBuyers is an in-memory BuyerDirectory with captured calls.
type MockBuyers struct {
	mu             sync.Mutex
	Carts          map[string][]domain.CartEntry
	Addresses      map[string][]domain.ShippingAddress
	OrderIDs       map[string][]string
	LoadCartErr    error
	AppendFailures int // fail this many AppendOrderID calls first
	RemoveErr      error
	RemoveCalls    int
	AppendCalls    int
}

func newMockBuyers() *MockBuyers {
	return &MockBuyers{
		Carts:     map[string][]domain.CartEntry{},
		Addresses: map[string][]domain.ShippingAddress{},
		OrderIDs:  map[string][]string{},
	}
}

func (m *MockBuyers) GetAddresses(_ context.Context, buyerID string) ([]domain.ShippingAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addresses, ok := m.Addresses[buyerID]
	if !ok {
		return nil, domain.ErrBuyerNotFound
	}
	return addresses, nil
}

func (m *MockBuyers) AppendOrderID(_ context.Context, buyerID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls++
	if m.AppendFailures > 0 {
		m.AppendFailures--
		return errConnRefused
	}
	if !slices.Contains(m.OrderIDs[buyerID], orderID) {
		m.OrderIDs[buyerID] = append(m.OrderIDs[buyerID], orderID)
	}
	return nil
}

func (m *MockBuyers) LoadCart(_ context.Context, buyerID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadCartErr != nil {
		return nil, m.LoadCartErr
	}
	items, ok := m.Carts[buyerID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return &domain.Cart{BuyerID: buyerID, Items: slices.Clone(items)}, nil
}

func (m *MockBuyers) RemoveCartLines(_ context.Context, buyerID string, productIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveCalls++
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.Carts[buyerID] = slices.DeleteFunc(m.Carts[buyerID], func(e domain.CartEntry) bool {
		return slices.Contains(productIDs, e.ProductID)
	})
	return nil
}

func (m *MockBuyers) addLine(buyerID string, entry domain.CartEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Carts[buyerID] = append(m.Carts[buyerID], entry)
}

func (m *MockBuyers) cartProducts(buyerID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, e := range m.Carts[buyerID] {
		ids = append(ids, e.ProductID)
	}
	return ids
}

// MockOrders is an in-memory OrderStore enforcing (buyer, checkout, seller)
// uniqueness and compare-and-set status updates.
type MockOrders struct {
	mu         sync.Mutex
	Orders     map[string]*domain.Order
	byCheckout map[string]string
	// CreateHook runs before the insert with the store locked; returning an
	// error aborts it.
	CreateHook func(order *domain.Order) error
	// LoseAck stores the order and then reports a timeout.
	LoseAck       bool
	ConflictsLeft int
	CreateCalls   int
}

func newMockOrders() *MockOrders {
	return &MockOrders{Orders: map[string]*domain.Order{}, byCheckout: map[string]string{}}
}

func (m *MockOrders) CreateOrder(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateHook != nil {
		if err := m.CreateHook(order); err != nil {
			return err
		}
	}
	key := checkoutKey(order.BuyerID, order.CheckoutID, order.SellerID)
	if _, exists := m.byCheckout[key]; exists {
		return domain.ErrDuplicateCheckout
	}
	cp := *order
	m.Orders[order.ID] = &cp
	m.byCheckout[key] = order.ID
	if m.LoseAck {
		m.LoseAck = false
		return context.DeadlineExceeded
	}
	return nil
}

func (m *MockOrders) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func checkoutKey(buyerID, checkoutID, sellerID string) string {
	return buyerID + "|" + checkoutID + "|" + sellerID
}

// storeLocked inserts order directly; callers hold m.mu.
func (m *MockOrders) storeLocked(order domain.Order) {
	m.Orders[order.ID] = &order
	m.byCheckout[checkoutKey(order.BuyerID, order.CheckoutID, order.SellerID)] = order.ID
}

func (m *MockOrders) GetOrderByCheckout(ctx context.Context, buyerID, checkoutID, sellerID string) (*domain.Order, error) {
	m.mu.Lock()
	id, ok := m.byCheckout[checkoutKey(buyerID, checkoutID, sellerID)]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return m.GetOrderByID(ctx, id)
}

func (m *MockOrders) UpdateStatus(_ context.Context, id string, from, to domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConflictsLeft > 0 {
		m.ConflictsLeft--
		return domain.ErrStatusConflict
	}
	o, ok := m.Orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != from {
		return domain.ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MockOrders) filter(keep func(*domain.Order) bool) []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.Orders {
		if keep(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

func (m *MockOrders) ListOrdersByBuyer(_ context.Context, buyerID string) ([]*domain.Order, error) {
	return m.filter(func(o *domain.Order) bool { return o.BuyerID == buyerID }), nil
}

func (m *MockOrders) ListOrdersBySeller(_ context.Context, sellerID string) ([]*domain.Order, error) {
	return m.filter(func(o *domain.Order) bool { return o.SellerID == sellerID }), nil
}

func (m *MockOrders) ListOrders(_ context.Context, limit, offset int) ([]*domain.Order, error) {
	all := m.filter(func(*domain.Order) bool { return true })
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(len(all), offset+limit)], nil
}

func (m *MockOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Orders)
}

type testEnv struct {
	catalog   *MockCatalog
	buyers    *MockBuyers
	orders    *MockOrders
	checkout  *CheckoutServiceImpl
	lifecycle *OrderLifecycle
}

const defaultTestTimeout = time.Second

var testRetry = RetryPolicy{Retries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		catalog: newMockCatalog(),
		buyers:  newMockBuyers(),
		orders:  newMockOrders(),
	}
	log := logger.Discard()
	catalog := NewCatalogHandler(env.catalog, time.Second, time.Second, nil)
	buyers := NewBuyerHandler(env.buyers, time.Second, time.Second, nil)
	orders := NewOrderHandler(env.orders, time.Second, nil)

	env.checkout = NewCheckoutService(catalog, buyers, orders, testRetry, nil, log)
	env.lifecycle = NewOrderLifecycle(orders, catalog, testRetry, nil, log)
	return env
}

const buyerID = "buyer-1"

var homeAddress = domain.ShippingAddress{
	ID:         "addr-home",
	Street:     "12 Orchard Lane",
	City:       "Fresno",
	State:      "CA",
	PostalCode: "93650",
	Country:    "US",
	IsDefault:  true,
}

func (e *testEnv) withCart(entries ...domain.CartEntry) {
	e.buyers.Carts[buyerID] = entries
	if _, ok := e.buyers.Addresses[buyerID]; !ok {
		e.buyers.Addresses[buyerID] = []domain.ShippingAddress{homeAddress}
	}
}

func line(productID string, qty int) domain.CartEntry {
	return domain.CartEntry{ProductID: productID, Quantity: qty}
}

func (e *testEnv) stock(productID string) int {
	return e.catalog.Stock(productID)
}
