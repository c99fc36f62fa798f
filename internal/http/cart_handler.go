package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fjod/farm-checkout/internal/domain"
	"github.com/go-chi/chi/v5"
)

type CartService interface {
	GetCart(ctx context.Context, buyerID string) (*domain.Cart, error)
	SetItem(ctx context.Context, buyerID, productID string, quantity int) error
	RemoveCartLines(ctx context.Context, buyerID string, productIDs []string) error
	ClearCart(ctx context.Context, buyerID string) error
	GetAddresses(ctx context.Context, buyerID string) ([]domain.ShippingAddress, error)
	AddAddress(ctx context.Context, buyerID string, addr domain.ShippingAddress) (domain.ShippingAddress, error)
}

type CartHandler struct {
	carts CartService
	log   *slog.Logger
}

func NewCartHandler(carts CartService, log *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, log: log}
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireBuyer(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(r.Context(), buyerID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(cart))
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireBuyer(w, r)
	if !ok {
		return
	}
	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	var req SetQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.carts.SetItem(r.Context(), buyerID, productID, req.Quantity); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	h.GetCart(w, r)
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireBuyer(w, r)
	if !ok {
		return
	}
	productID := chi.URLParam(r, "product_id")
	if err := h.carts.RemoveCartLines(r.Context(), buyerID, []string{productID}); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	h.GetCart(w, r)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireBuyer(w, r)
	if !ok {
		return
	}
	if err := h.carts.ClearCart(r.Context(), buyerID); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/buyers/me/addresses
func (h *CartHandler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireBuyer(w, r)
	if !ok {
		return
	}
	addrs, err := h.carts.GetAddresses(r.Context(), buyerID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	dtos := make([]AddressDTO, 0, len(addrs))
	for _, a := range addrs {
		dtos = append(dtos, toAddressDTO(a))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// POST /api/v1/buyers/me/addresses
func (h *CartHandler) AddAddress(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireBuyer(w, r)
	if !ok {
		return
	}
	var req AddressDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.ID = ""

	saved, err := h.carts.AddAddress(r.Context(), buyerID, req.toDomain())
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toAddressDTO(saved))
}

func requireBuyer(w http.ResponseWriter, r *http.Request) (string, bool) {
	buyerID := buyerIDFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing "+HeaderBuyerID+" header")
		return "", false
	}
	return buyerID, true
}
