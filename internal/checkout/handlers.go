package checkout

import (
	"context"
	"time"

	"github.com/fjod/farm-checkout/internal/domain"
	"github.com/fjod/farm-checkout/pkg/circuitbreaker"
)

// guard bounds one collaborator call with its own timeout and an optional breaker.
type guard struct {
	timeout time.Duration
	breaker *circuitbreaker.Breaker
}

func (g guard) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel() // releases resources if the call completes before timeout elapses
	if g.breaker == nil {
		return fn(callCtx)
	}
	return g.breaker.Do(func() error { return fn(callCtx) })
}

type CatalogHandler struct {
	catalog Catalog
	lookup  guard
	stock   guard
}

func NewCatalogHandler(catalog Catalog, lookupTimeout, stockTimeout time.Duration, breaker *circuitbreaker.Breaker) *CatalogHandler {
	return &CatalogHandler{
		catalog: catalog,
		lookup:  guard{timeout: lookupTimeout, breaker: breaker},
		stock:   guard{timeout: stockTimeout, breaker: breaker},
	}
}

func (h *CatalogHandler) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var product *domain.Product
	err := h.lookup.call(ctx, func(ctx context.Context) error {
		var err error
		product, err = h.catalog.GetProduct(ctx, productID)
		return err
	})
	return product, err
}

func (h *CatalogHandler) DecrementStock(ctx context.Context, key, productID string, qty int) error {
	return h.stock.call(ctx, func(ctx context.Context) error {
		return h.catalog.DecrementStock(ctx, key, productID, qty)
	})
}

func (h *CatalogHandler) ReleaseReservation(ctx context.Context, key string) error {
	return h.stock.call(ctx, func(ctx context.Context) error {
		return h.catalog.ReleaseReservation(ctx, key)
	})
}

func (h *CatalogHandler) RestoreStock(ctx context.Context, key string, lines []domain.StockLine) error {
	return h.stock.call(ctx, func(ctx context.Context) error {
		return h.catalog.RestoreStock(ctx, key, lines)
	})
}

type BuyerHandler struct {
	buyers BuyerDirectory
	cart   guard
	link   guard
}

func NewBuyerHandler(buyers BuyerDirectory, cartTimeout, linkTimeout time.Duration, breaker *circuitbreaker.Breaker) *BuyerHandler {
	return &BuyerHandler{
		buyers: buyers,
		cart:   guard{timeout: cartTimeout, breaker: breaker},
		link:   guard{timeout: linkTimeout, breaker: breaker},
	}
}

func (h *BuyerHandler) LoadCart(ctx context.Context, buyerID string) (*domain.Cart, error) {
	var cart *domain.Cart
	err := h.cart.call(ctx, func(ctx context.Context) error {
		var err error
		cart, err = h.buyers.LoadCart(ctx, buyerID)
		return err
	})
	return cart, err
}

func (h *BuyerHandler) GetAddresses(ctx context.Context, buyerID string) ([]domain.ShippingAddress, error) {
	var addresses []domain.ShippingAddress
	err := h.cart.call(ctx, func(ctx context.Context) error {
		var err error
		addresses, err = h.buyers.GetAddresses(ctx, buyerID)
		return err
	})
	return addresses, err
}

func (h *BuyerHandler) AppendOrderID(ctx context.Context, buyerID, orderID string) error {
	return h.link.call(ctx, func(ctx context.Context) error {
		return h.buyers.AppendOrderID(ctx, buyerID, orderID)
	})
}

func (h *BuyerHandler) RemoveCartLines(ctx context.Context, buyerID string, productIDs []string) error {
	return h.cart.call(ctx, func(ctx context.Context) error {
		return h.buyers.RemoveCartLines(ctx, buyerID, productIDs)
	})
}

type OrderHandler struct {
	orders  OrderStore
	persist guard
}

func NewOrderHandler(orders OrderStore, timeout time.Duration, breaker *circuitbreaker.Breaker) *OrderHandler {
	return &OrderHandler{
		orders:  orders,
		persist: guard{timeout: timeout, breaker: breaker},
	}
}

func (h *OrderHandler) CreateOrder(ctx context.Context, order *domain.Order) error {
	return h.persist.call(ctx, func(ctx context.Context) error {
		return h.orders.CreateOrder(ctx, order)
	})
}

func (h *OrderHandler) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	var order *domain.Order
	err := h.persist.call(ctx, func(ctx context.Context) error {
		var err error
		order, err = h.orders.GetOrderByID(ctx, id)
		return err
	})
	return order, err
}

func (h *OrderHandler) GetOrderByCheckout(ctx context.Context, buyerID, checkoutID, sellerID string) (*domain.Order, error) {
	var order *domain.Order
	err := h.persist.call(ctx, func(ctx context.Context) error {
		var err error
		order, err = h.orders.GetOrderByCheckout(ctx, buyerID, checkoutID, sellerID)
		return err
	})
	return order, err
}

func (h *OrderHandler) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) error {
	return h.persist.call(ctx, func(ctx context.Context) error {
		return h.orders.UpdateStatus(ctx, id, from, to)
	})
}

func (h *OrderHandler) list(ctx context.Context, fn func(ctx context.Context) ([]*domain.Order, error)) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := h.persist.call(ctx, func(ctx context.Context) error {
		var err error
		orders, err = fn(ctx)
		return err
	})
	return orders, err
}
