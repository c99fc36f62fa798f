package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/fjod/farm-checkout/internal/domain"
	"github.com/fjod/farm-checkout/pkg/metrics"
)

type ActorRole string

const (
	RoleBuyer  ActorRole = "buyer"
	RoleSeller ActorRole = "seller"
	RoleAdmin  ActorRole = "admin"
)

// cancellableBy lists the statuses each role may cancel from.
var cancellableBy = map[ActorRole][]domain.OrderStatus{
	RoleBuyer:  {domain.OrderStatusPending},
	RoleSeller: {domain.OrderStatusPending, domain.OrderStatusConfirmed},
	RoleAdmin:  {domain.OrderStatusPending, domain.OrderStatusConfirmed},
}

// maxTransitionAttempts bounds re-reads after a concurrent status change.
const maxTransitionAttempts = 3

const defaultListLimit = 50

// OrderLifecycle applies status transitions to stored orders.
type OrderLifecycle struct {
	orders  *OrderHandler
	catalog *CatalogHandler
	retry   RetryPolicy
	metrics *metrics.CheckoutMetrics
	log     *slog.Logger
}

func NewOrderLifecycle(orders *OrderHandler, catalog *CatalogHandler, retry RetryPolicy, m *metrics.CheckoutMetrics, log *slog.Logger) *OrderLifecycle {
	return &OrderLifecycle{orders: orders, catalog: catalog, retry: retry, metrics: m, log: log}
}

// CancelOrder moves an order to CANCELLED and returns its stock to the catalog.
// When the order is cancelled but the stock could not be restored the updated
// order is returned together with ErrStockRestorePending.
func (l *OrderLifecycle) CancelOrder(ctx context.Context, orderID string, role ActorRole) (*domain.Order, error) {
	allowed, known := cancellableBy[role]
	if !known {
		return nil, fmt.Errorf("%w: unknown role %q", ErrForbidden, role)
	}

	return l.transition(ctx, orderID, domain.OrderStatusCancelled, func(current domain.OrderStatus) error {
		if current.CanTransitionTo(domain.OrderStatusCancelled) && !slices.Contains(allowed, current) {
			return fmt.Errorf("%w: %s cannot cancel a %s order", ErrForbidden, role, current)
		}
		return nil
	})
}

// UpdateOrderStatus applies a fulfilment transition. Moving to CANCELLED goes
// through the same stock restoration as CancelOrder.
func (l *OrderLifecycle) UpdateOrderStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error) {
	if !next.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	return l.transition(ctx, orderID, next, nil)
}

func (l *OrderLifecycle) transition(ctx context.Context, orderID string, next domain.OrderStatus, policy func(domain.OrderStatus) error) (*domain.Order, error) {
	var order *domain.Order
	for attempt := 1; ; attempt++ {
		var err error
		order, err = l.orders.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		current := order.Status
		if policy != nil {
			if err := policy(current); err != nil {
				return nil, err
			}
		}
		if !current.CanTransitionTo(next) {
			return nil, &InvalidTransitionError{From: current, To: next}
		}

		err = l.orders.UpdateStatus(ctx, orderID, current, next)
		if err == nil {
			order.Status = next
			break
		}
		if !errors.Is(err, domain.ErrStatusConflict) || attempt == maxTransitionAttempts {
			return nil, err
		}
	}

	l.log.InfoContext(ctx, "order status changed",
		slog.String("order_id", orderID),
		slog.String("status", next.String()))
	if l.metrics != nil {
		l.metrics.Transitions.WithLabelValues(next.String()).Inc()
	}

	if next == domain.OrderStatusCancelled {
		if err := l.restoreStock(ctx, order); err != nil {
			return order, err
		}
	}
	return order, nil
}

// restoreStock is keyed by order id so a repeated signal never double-counts.
func (l *OrderLifecycle) restoreStock(ctx context.Context, order *domain.Order) error {
	ctx = context.WithoutCancel(ctx)
	err := l.retry.Do(ctx, func() error {
		return l.catalog.RestoreStock(ctx, "order:"+order.ID, order.StockLines())
	})

	result := "restored"
	if err != nil {
		result = "pending"
		l.log.ErrorContext(ctx, "failed to restore stock of cancelled order",
			slog.String("order_id", order.ID),
			slog.Any("error", err))
	}
	if l.metrics != nil {
		l.metrics.Restores.WithLabelValues(result).Inc()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStockRestorePending, err)
	}
	return nil
}

func (l *OrderLifecycle) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return l.orders.GetOrderByID(ctx, orderID)
}

func (l *OrderLifecycle) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]*domain.Order, error) {
	return l.orders.list(ctx, func(ctx context.Context) ([]*domain.Order, error) {
		return l.orders.orders.ListOrdersByBuyer(ctx, buyerID)
	})
}

func (l *OrderLifecycle) ListOrdersBySeller(ctx context.Context, sellerID string) ([]*domain.Order, error) {
	return l.orders.list(ctx, func(ctx context.Context) ([]*domain.Order, error) {
		return l.orders.orders.ListOrdersBySeller(ctx, sellerID)
	})
}

func (l *OrderLifecycle) ListOrders(ctx context.Context, limit, offset int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return l.orders.list(ctx, func(ctx context.Context) ([]*domain.Order, error) {
		return l.orders.orders.ListOrders(ctx, limit, offset)
	})
}
