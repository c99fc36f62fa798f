package store

import (
	"context"
	"errors"

	"github.com/fjod/farm-checkout/internal/domain"
)

var (
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrReservationReleased = errors.New("stock reservation already released")
)

// CatalogStore is the catalog collaborator consumed by checkout: live product
// lookup plus the stock ledger.
type CatalogStore interface {
	// GetProduct returns domain.ErrProductNotFound once a product is deleted.
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// DecrementStock removes qty only if at least qty is available, in a
	// single atomic step, and records the decrement under the reservation key.
	// Repeating a key for the same product is a no-op and a released key is
	// refused with ErrReservationReleased. Fails with
	// *domain.InsufficientStockError when stock is short.
	DecrementStock(ctx context.Context, key, productID string, qty int) error

	// ReleaseReservation gives back every decrement recorded under key,
	// including ones whose caller never saw the acknowledgement. Releasing
	// twice is a no-op.
	ReleaseReservation(ctx context.Context, key string) error

	// RestoreStock adds the lines back. Applying the same key twice is a no-op.
	RestoreStock(ctx context.Context, key string, lines []domain.StockLine) error

	// PutProduct creates or replaces a product (used for seeding).
	PutProduct(ctx context.Context, product domain.Product) error

	Close() error
}
