package service

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/farm-checkout/internal/buyer/cache"
	"github.com/fjod/farm-checkout/internal/domain"
	"github.com/fjod/farm-checkout/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	m         sync.Mutex
	carts     map[string]*domain.Cart
	addresses map[string][]domain.ShippingAddress
	orderIDs  map[string][]string
	err       error
	getCalls  atomic.Int32
	getDelay  time.Duration
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		carts:     map[string]*domain.Cart{},
		addresses: map[string][]domain.ShippingAddress{},
		orderIDs:  map[string][]string{},
	}
}

func (m *mockRepository) GetCart(_ context.Context, buyerID string) (*domain.Cart, error) {
	m.getCalls.Add(1)
	time.Sleep(m.getDelay)
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cart, ok := m.carts[buyerID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	clone := *cart
	clone.Items = slices.Clone(cart.Items)
	return &clone, nil
}

func (m *mockRepository) SetItem(_ context.Context, buyerID string, entry domain.CartEntry) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	cart, ok := m.carts[buyerID]
	if !ok {
		cart = &domain.Cart{BuyerID: buyerID}
		m.carts[buyerID] = cart
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == entry.ProductID {
			cart.Items[i].Quantity = entry.Quantity
			return nil
		}
	}
	cart.Items = append(cart.Items, entry)
	return nil
}

func (m *mockRepository) RemoveCartLines(_ context.Context, buyerID string, productIDs []string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if cart, ok := m.carts[buyerID]; ok {
		cart.Items = slices.DeleteFunc(cart.Items, func(e domain.CartEntry) bool {
			return slices.Contains(productIDs, e.ProductID)
		})
	}
	return nil
}

func (m *mockRepository) DeleteCart(_ context.Context, buyerID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.carts, buyerID)
	return nil
}

func (m *mockRepository) GetAddresses(_ context.Context, buyerID string) ([]domain.ShippingAddress, error) {
	m.m.Lock()
	defer m.m.Unlock()
	addrs, ok := m.addresses[buyerID]
	if !ok {
		return nil, domain.ErrBuyerNotFound
	}
	return addrs, nil
}

func (m *mockRepository) AddAddress(_ context.Context, buyerID string, addr domain.ShippingAddress) (domain.ShippingAddress, error) {
	m.m.Lock()
	defer m.m.Unlock()
	addr.ID = "addr-1"
	m.addresses[buyerID] = append(m.addresses[buyerID], addr)
	return addr, nil
}

func (m *mockRepository) AppendOrderID(_ context.Context, buyerID, orderID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if !slices.Contains(m.orderIDs[buyerID], orderID) {
		m.orderIDs[buyerID] = append(m.orderIDs[buyerID], orderID)
	}
	return nil
}

func (m *mockRepository) GetOrderIDs(_ context.Context, buyerID string) ([]string, error) {
	m.m.Lock()
	defer m.m.Unlock()
	return m.orderIDs[buyerID], nil
}

type mockCache struct {
	m         sync.RWMutex
	carts     map[string]*domain.Cart
	getErr    error
	deleteErr error
	calls     atomic.Int32
	// beforeSet runs ahead of every Set without holding the lock.
	beforeSet func()
}

func newMockCache() *mockCache {
	return &mockCache{carts: map[string]*domain.Cart{}}
}

func (m *mockCache) Get(_ context.Context, buyerID string) (*domain.Cart, error) {
	m.calls.Add(1)
	m.m.RLock()
	defer m.m.RUnlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	cart, ok := m.carts[buyerID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (m *mockCache) Set(_ context.Context, buyerID string, cart *domain.Cart) error {
	m.calls.Add(1)
	if m.beforeSet != nil {
		m.beforeSet()
	}
	m.m.Lock()
	defer m.m.Unlock()
	m.carts[buyerID] = cart
	return nil
}

func (m *mockCache) Delete(_ context.Context, buyerID string) error {
	m.calls.Add(1)
	m.m.Lock()
	defer m.m.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.carts, buyerID)
	return nil
}

func (m *mockCache) cached(buyerID string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.carts[buyerID]
	return ok
}

func seedCart(t *testing.T, svc *BuyerService, buyerID string, items map[string]int) {
	t.Helper()
	for _, id := range slices.Sorted(maps.Keys(items)) {
		require.NoError(t, svc.SetItem(context.Background(), buyerID, id, items[id]))
	}
}

func TestGetCart_MissThenCached(t *testing.T) {
	repo, c := newMockRepository(), newMockCache()
	svc := NewBuyerService(repo, c, logger.Discard())
	seedCart(t, svc, "buyer-1", map[string]int{"apples": 2, "eggs": 12})

	cart, err := svc.GetCart(context.Background(), "buyer-1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, "apples", cart.Items[0].ProductID)
	assert.True(t, c.cached("buyer-1"), "cart is cached before GetCart returns")

	_, err = svc.GetCart(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.getCalls.Load())
}

func TestGetCart_NotFoundIsEmpty(t *testing.T) {
	svc := NewBuyerService(newMockRepository(), newMockCache(), logger.Discard())

	cart, err := svc.GetCart(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", cart.BuyerID)
	assert.Empty(t, cart.Items)
}

func TestGetCart_RepoError(t *testing.T) {
	repo, c := newMockRepository(), newMockCache()
	repo.err = errors.New("database error")
	svc := NewBuyerService(repo, c, logger.Discard())

	cart, err := svc.GetCart(context.Background(), "buyer-1")
	require.ErrorContains(t, err, "database error")
	assert.Nil(t, cart)
	assert.False(t, c.cached("buyer-1"))
}

func TestGetCart_CacheErrorFallsBackToRepo(t *testing.T) {
	repo, c := newMockRepository(), newMockCache()
	svc := NewBuyerService(repo, c, logger.Discard())
	seedCart(t, svc, "buyer-1", map[string]int{"apples": 2})
	c.getErr = errors.New("redis down")

	cart, err := svc.GetCart(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestGetCart_ConcurrentMissesShareOneRead(t *testing.T) {
	repo, c := newMockRepository(), newMockCache()
	repo.getDelay = 50 * time.Millisecond
	svc := NewBuyerService(repo, c, logger.Discard())
	seedCart(t, svc, "buyer-1", map[string]int{"apples": 2})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cart, err := svc.GetCart(context.Background(), "buyer-1")
			assert.NoError(t, err)
			assert.Len(t, cart.Items, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), repo.getCalls.Load())
}

func TestLoadCart_IgnoresStaleCacheFill(t *testing.T) {
	repo, c := newMockRepository(), newMockCache()
	svc := NewBuyerService(repo, c, logger.Discard())
	ctx := context.Background()
	seedCart(t, svc, "buyer-1", map[string]int{"apples": 2, "eggs": 6})

	// A checkout removes the apples and invalidates while a cached read is
	// between its repository load and its cache fill.
	c.beforeSet = func() {
		c.beforeSet = nil
		require.NoError(t, svc.RemoveCartLines(ctx, "buyer-1", []string{"apples"}))
	}
	stale, err := svc.GetCart(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, stale.Items, 2)
	require.True(t, c.cached("buyer-1"), "the stale copy outlived the invalidation")

	before := c.calls.Load()
	cart, err := svc.LoadCart(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "eggs", cart.Items[0].ProductID)
	assert.Equal(t, before, c.calls.Load(), "LoadCart must not touch the cache")
}

func TestLoadCart_NotFound(t *testing.T) {
	svc := NewBuyerService(newMockRepository(), newMockCache(), logger.Discard())

	_, err := svc.LoadCart(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestSetItem_ValidatesQuantity(t *testing.T) {
	svc := NewBuyerService(newMockRepository(), newMockCache(), logger.Discard())

	for _, q := range []int{0, -1, MaxItemQuantity + 1} {
		assert.ErrorIs(t, svc.SetItem(context.Background(), "buyer-1", "apples", q), ErrInvalidQuantity)
	}
}

func TestMutationsInvalidateCache(t *testing.T) {
	repo, c := newMockRepository(), newMockCache()
	svc := NewBuyerService(repo, c, logger.Discard())
	ctx := context.Background()
	seedCart(t, svc, "buyer-1", map[string]int{"apples": 2, "eggs": 12, "honey": 1})

	_, err := svc.GetCart(ctx, "buyer-1")
	require.NoError(t, err)
	require.True(t, c.cached("buyer-1"))

	require.NoError(t, svc.RemoveCartLines(ctx, "buyer-1", []string{"apples"}))
	assert.False(t, c.cached("buyer-1"))

	cart, err := svc.GetCart(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)

	require.NoError(t, svc.ClearCart(ctx, "buyer-1"))
	assert.False(t, c.cached("buyer-1"))
	cart, err = svc.GetCart(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestClearCart_InvalidationFailureIsReported(t *testing.T) {
	repo, c := newMockRepository(), newMockCache()
	svc := NewBuyerService(repo, c, logger.Discard())
	seedCart(t, svc, "buyer-1", map[string]int{"apples": 2})
	c.deleteErr = errors.New("redis down")

	err := svc.ClearCart(context.Background(), "buyer-1")
	require.ErrorContains(t, err, "cart cache invalidation failed")
}

func TestAddresses(t *testing.T) {
	svc := NewBuyerService(newMockRepository(), newMockCache(), logger.Discard())
	ctx := context.Background()

	_, err := svc.AddAddress(ctx, "buyer-1", domain.ShippingAddress{Street: "1 Farm Rd"})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	saved, err := svc.AddAddress(ctx, "buyer-1", domain.ShippingAddress{
		Street: "1 Farm Rd", City: "Ames", PostalCode: "50010", Country: "US", IsDefault: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	addrs, err := svc.GetAddresses(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Len(t, addrs, 1)
}

func TestAppendOrderID(t *testing.T) {
	svc := NewBuyerService(newMockRepository(), newMockCache(), logger.Discard())
	ctx := context.Background()

	require.NoError(t, svc.AppendOrderID(ctx, "buyer-1", "order-1"))
	require.NoError(t, svc.AppendOrderID(ctx, "buyer-1", "order-1"))

	ids, err := svc.GetOrderIDs(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"order-1"}, ids)
}

func TestGetCart_WithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMockRepository()
	svc := NewBuyerService(repo, cache.NewRedisCache(client), logger.Discard())
	ctx := context.Background()
	seedCart(t, svc, "buyer-1", map[string]int{"apples": 2})

	_, err := svc.GetCart(ctx, "buyer-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("cart:buyer-1"))

	require.NoError(t, svc.ClearCart(ctx, "buyer-1"))
	assert.False(t, mr.Exists("cart:buyer-1"))
}
