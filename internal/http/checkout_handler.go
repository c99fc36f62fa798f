package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fjod/farm-checkout/internal/checkout"
)

const maxIdempotencyKeyLen = 128

type CheckoutHandler struct {
	service checkout.CheckoutService
	log     *slog.Logger
}

func NewCheckoutHandler(service checkout.CheckoutService, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{service: service, log: log}
}

// POST /api/v1/checkout
//
// 201 when every seller order was placed, 207 when only some were, 409 when
// none were. The body is optional; without it the default address is used.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	buyerID := buyerIDFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing "+HeaderBuyerID+" header")
		return
	}

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		respondError(w, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key is too long")
		return
	}

	in := checkout.CheckoutRequest{
		BuyerID:    buyerID,
		CheckoutID: key,
		AddressID:  req.AddressID,
	}
	if req.ShippingAddress != nil {
		addr := req.ShippingAddress.toDomain()
		in.Address = &addr
	}

	result, err := h.service.Checkout(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	status := http.StatusConflict
	switch {
	case result.Succeeded():
		status = http.StatusCreated
	case result.IsPartial():
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, toCheckoutResponse(result))
}
