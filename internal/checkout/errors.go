package checkout

import (
	"errors"
	"fmt"

	"github.com/fjod/farm-checkout/internal/domain"
)

var (
	ErrCartEmpty           = errors.New("cart is empty, nothing to checkout")
	ErrProductUnavailable  = errors.New("product is no longer available")
	ErrCheckoutUnavailable = errors.New("checkout is temporarily unavailable")
	ErrMissingBuyer        = errors.New("buyer id is required")
	ErrNoShippingAddress   = errors.New("no usable shipping address")
	ErrForbidden           = errors.New("actor is not allowed to perform this transition")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrStockRestorePending = errors.New("order cancelled but stock restoration did not complete")
)

type InvalidTransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
