package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	buyersvc "github.com/fjod/farm-checkout/internal/buyer/service"
	"github.com/fjod/farm-checkout/internal/checkout"
	"github.com/fjod/farm-checkout/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps service errors to HTTP statuses. Unknown errors are
// logged and reported as 500 without leaking their text.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, checkout.ErrMissingBuyer):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, checkout.ErrCartEmpty):
		status, code = http.StatusBadRequest, "cart_empty"
	case errors.Is(err, checkout.ErrNoShippingAddress):
		status, code = http.StatusBadRequest, "no_shipping_address"
	case errors.Is(err, buyersvc.ErrInvalidQuantity):
		status, code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, buyersvc.ErrInvalidAddress):
		status, code = http.StatusBadRequest, "invalid_address"
	case errors.Is(err, checkout.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrOrderNotFound):
		status, code = http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrBuyerNotFound):
		status, code = http.StatusNotFound, "buyer_not_found"
	case errors.Is(err, checkout.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrStatusConflict):
		status, code = http.StatusConflict, "status_conflict"
	case errors.Is(err, checkout.ErrCheckoutUnavailable):
		status, code = http.StatusServiceUnavailable, "checkout_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}

	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err))
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	respondError(w, status, code, message)
}
