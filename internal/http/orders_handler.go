package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjod/farm-checkout/internal/checkout"
	"github.com/fjod/farm-checkout/internal/domain"
	"github.com/go-chi/chi/v5"
)

type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID string) ([]*domain.Order, error)
	ListOrdersBySeller(ctx context.Context, sellerID string) ([]*domain.Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]*domain.Order, error)
	CancelOrder(ctx context.Context, orderID string, role checkout.ActorRole) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error)
}

type OrdersHandler struct {
	orders OrderService
	log    *slog.Logger
}

func NewOrdersHandler(orders OrderService, log *slog.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, log: log}
}

// GET /api/v1/orders?limit=&offset=
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if role, _ := actorRoleFromContext(r.Context()); role != checkout.RoleAdmin {
		respondError(w, http.StatusForbidden, "forbidden", "admin role required")
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), limit, offset)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTOs(orders))
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

// GET /api/v1/buyers/me/orders
func (h *OrdersHandler) ListBuyerOrders(w http.ResponseWriter, r *http.Request) {
	buyerID := buyerIDFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing "+HeaderBuyerID+" header")
		return
	}

	orders, err := h.orders.ListOrdersByBuyer(r.Context(), buyerID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTOs(orders))
}

// GET /api/v1/sellers/{seller_id}/orders
func (h *OrdersHandler) ListSellerOrders(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "seller_id")
	if sellerID == "" {
		respondError(w, http.StatusBadRequest, "missing_seller_id", "seller_id is required")
		return
	}

	orders, err := h.orders.ListOrdersBySeller(r.Context(), sellerID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTOs(orders))
}

// PATCH /api/v1/orders/{order_id}/status
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	role, _ := actorRoleFromContext(r.Context())
	if role != checkout.RoleSeller && role != checkout.RoleAdmin {
		respondError(w, http.StatusForbidden, "forbidden", "seller or admin role required")
		return
	}

	var req UpdateStatusRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	next, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_status", "unknown order status "+strconv.Quote(req.Status))
		return
	}

	orderID := chi.URLParam(r, "order_id")
	if !h.authorizeOwner(w, r, role, orderID) {
		return
	}

	order, err := h.orders.UpdateOrderStatus(r.Context(), orderID, next)
	h.respondTransition(w, r, order, err)
}

// POST /api/v1/orders/{order_id}/cancel
//
// Buyers and sellers may only cancel their own orders.
func (h *OrdersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	role, ok := actorRoleFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing "+HeaderActorRole+" header")
		return
	}
	orderID := chi.URLParam(r, "order_id")
	if !h.authorizeOwner(w, r, role, orderID) {
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), orderID, role)
	h.respondTransition(w, r, order, err)
}

// authorizeOwner writes an error and returns false unless a buyer or seller
// caller owns the order. Other roles are left to the lifecycle policy.
func (h *OrdersHandler) authorizeOwner(w http.ResponseWriter, r *http.Request, role checkout.ActorRole, orderID string) bool {
	if role != checkout.RoleBuyer && role != checkout.RoleSeller {
		return true
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return false
	}

	switch {
	case role == checkout.RoleBuyer && order.BuyerID != buyerIDFromContext(r.Context()):
		respondError(w, http.StatusForbidden, "forbidden", "order belongs to another buyer")
		return false
	case role == checkout.RoleSeller && order.SellerID != sellerIDFromContext(r.Context()):
		respondError(w, http.StatusForbidden, "forbidden", "order belongs to another seller")
		return false
	}
	return true
}

// respondTransition reports a cancelled order whose stock restore is still
// pending as a success carrying a warning.
func (h *OrdersHandler) respondTransition(w http.ResponseWriter, r *http.Request, order *domain.Order, err error) {
	if errors.Is(err, checkout.ErrStockRestorePending) && order != nil {
		dto := toOrderDTO(order)
		dto.Warnings = []string{"stock_restore_pending"}
		respondJSON(w, http.StatusAccepted, dto)
		return
	}
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}
