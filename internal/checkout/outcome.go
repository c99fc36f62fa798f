package checkout

import (
	"errors"

	catalogstore "github.com/fjod/farm-checkout/internal/catalog/store"
	"github.com/fjod/farm-checkout/internal/domain"
)

// Outcome tags the result of one saga step.
type Outcome int

const (
	// Success means the step committed.
	Success Outcome = iota
	// Retryable means nothing was committed and the same step may succeed later
	// (timeouts, open breakers, unreachable stores).
	Retryable
	// Fatal means the step can never succeed as requested.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	default:
		return "fatal"
	}
}

type StepResult struct {
	Outcome Outcome
	Err     error
}

func succeeded() StepResult {
	return StepResult{Outcome: Success}
}

// classify sorts collaborator errors. Anything that is not a known business
// rejection is assumed to be infrastructure and therefore retryable.
func classify(err error) StepResult {
	switch {
	case err == nil:
		return succeeded()
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrCartNotFound),
		errors.Is(err, domain.ErrBuyerNotFound),
		errors.Is(err, domain.ErrStatusConflict),
		errors.Is(err, domain.ErrDuplicateCheckout),
		errors.Is(err, domain.ErrCheckoutConflict),
		errors.Is(err, catalogstore.ErrInvalidQuantity),
		errors.Is(err, catalogstore.ErrReservationReleased),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrForbidden):
		return StepResult{Outcome: Fatal, Err: err}
	default:
		return StepResult{Outcome: Retryable, Err: err}
	}
}

// IsInfrastructureFailure reports whether err should count against a
// collaborator's circuit breaker.
func IsInfrastructureFailure(err error) bool {
	return classify(err).Outcome == Retryable
}

func failureReason(res StepResult) domain.FailureReason {
	switch {
	case errors.Is(res.Err, domain.ErrInsufficientStock):
		return domain.ReasonInsufficientStock
	case errors.Is(res.Err, domain.ErrProductNotFound):
		return domain.ReasonProductUnavailable
	case errors.Is(res.Err, domain.ErrCheckoutConflict):
		return domain.ReasonCheckoutConflict
	case res.Outcome == Retryable:
		return domain.ReasonUnavailable
	default:
		return domain.ReasonInternal
	}
}
