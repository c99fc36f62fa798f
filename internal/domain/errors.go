package domain

import (
	"errors"
	"fmt"
)

// Errors shared between the checkout core and the collaborator adapters.
var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCartNotFound      = errors.New("cart not found")
	ErrBuyerNotFound     = errors.New("buyer not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateCheckout = errors.New("order for this checkout and seller already exists")
	ErrStatusConflict    = errors.New("order status changed concurrently")
	ErrCheckoutConflict  = errors.New("checkout id already used for a different order")
)

type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
