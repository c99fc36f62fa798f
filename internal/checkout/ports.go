package checkout

import (
	"context"

	"github.com/fjod/farm-checkout/internal/domain"
)

// Catalog is the product/stock collaborator.
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	DecrementStock(ctx context.Context, key, productID string, qty int) error
	ReleaseReservation(ctx context.Context, key string) error
	RestoreStock(ctx context.Context, key string, lines []domain.StockLine) error
}

// BuyerDirectory is the customer collaborator: address book, order history and cart.
// AppendOrderID and RemoveCartLines must be idempotent. LoadCart reads the
// stored cart, never a cached copy.
type BuyerDirectory interface {
	GetAddresses(ctx context.Context, buyerID string) ([]domain.ShippingAddress, error)
	AppendOrderID(ctx context.Context, buyerID, orderID string) error
	LoadCart(ctx context.Context, buyerID string) (*domain.Cart, error)
	RemoveCartLines(ctx context.Context, buyerID string, productIDs []string) error
}

// OrderStore persists orders. CreateOrder reports domain.ErrDuplicateCheckout
// when the buyer already has an order for the same checkout and seller; UpdateStatus reports
// domain.ErrStatusConflict when the stored status is no longer from.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByCheckout(ctx context.Context, buyerID, checkoutID, sellerID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) error
	ListOrdersByBuyer(ctx context.Context, buyerID string) ([]*domain.Order, error)
	ListOrdersBySeller(ctx context.Context, sellerID string) ([]*domain.Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]*domain.Order, error)
}
