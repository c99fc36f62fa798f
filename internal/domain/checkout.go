package domain

type FailureReason string

const (
	ReasonInsufficientStock  FailureReason = "INSUFFICIENT_STOCK"
	ReasonProductUnavailable FailureReason = "PRODUCT_UNAVAILABLE"
	ReasonUnavailable        FailureReason = "SERVICE_UNAVAILABLE"
	ReasonInternal           FailureReason = "INTERNAL_ERROR"
	ReasonCheckoutConflict   FailureReason = "CHECKOUT_CONFLICT"
)

type FailedGroup struct {
	SellerID string
	Reason   FailureReason
	Detail   string
}

type FollowUp string

const (
	FollowUpBuyerLink  FollowUp = "buyer_link"
	FollowUpCartUpdate FollowUp = "cart_update"
)

// CheckoutResult is returned once per checkout attempt and never persisted.
// A non-empty FailedGroups with some CreatedOrderIDs is a partial checkout,
// the normal shape rather than an error.
type CheckoutResult struct {
	CheckoutID      string
	CreatedOrderIDs []string
	FailedGroups    []FailedGroup
	DroppedProducts []string
	PendingFollowUp []FollowUp
}

func (r *CheckoutResult) IsPartial() bool {
	return len(r.CreatedOrderIDs) > 0 && len(r.FailedGroups) > 0
}

func (r *CheckoutResult) Succeeded() bool {
	return len(r.CreatedOrderIDs) > 0 && len(r.FailedGroups) == 0
}
