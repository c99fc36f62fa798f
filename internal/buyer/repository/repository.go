package repository

import (
	"context"
	"errors"

	"github.com/fjod/farm-checkout/internal/domain"
)

var ErrAddressNotFound = errors.New("address not found")

// BuyerRepository stores carts and buyer records (address book and order history).
// RemoveCartLines, DeleteCart and AppendOrderID are idempotent.
type BuyerRepository interface {
	GetCart(ctx context.Context, buyerID string) (*domain.Cart, error)
	SetItem(ctx context.Context, buyerID string, entry domain.CartEntry) error
	RemoveCartLines(ctx context.Context, buyerID string, productIDs []string) error
	DeleteCart(ctx context.Context, buyerID string) error

	GetAddresses(ctx context.Context, buyerID string) ([]domain.ShippingAddress, error)
	AddAddress(ctx context.Context, buyerID string, addr domain.ShippingAddress) (domain.ShippingAddress, error)
	AppendOrderID(ctx context.Context, buyerID, orderID string) error
	GetOrderIDs(ctx context.Context, buyerID string) ([]string, error)
}
