package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/farm-checkout/internal/domain"
	"github.com/fjod/farm-checkout/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fjod/farm-checkout/internal/checkout"

type CheckoutRequest struct {
	BuyerID string
	// CheckoutID makes a checkout replayable; a fresh id is generated when empty.
	CheckoutID string
	// Address wins over AddressID; with neither, the default address is used.
	Address   *domain.ShippingAddress
	AddressID string
}

type CheckoutService interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*domain.CheckoutResult, error)
}

type CheckoutServiceImpl struct {
	reader  *CartReader
	factory *OrderFactory
	buyers  *BuyerHandler
	retry   RetryPolicy
	metrics *metrics.CheckoutMetrics
	tracer  trace.Tracer
	log     *slog.Logger
}

func NewCheckoutService(
	catalog *CatalogHandler,
	buyers *BuyerHandler,
	orders *OrderHandler,
	retry RetryPolicy,
	m *metrics.CheckoutMetrics,
	log *slog.Logger,
) *CheckoutServiceImpl {
	return &CheckoutServiceImpl{
		reader:  NewCartReader(buyers, catalog, log),
		factory: NewOrderFactory(catalog, orders, retry, log),
		buyers:  buyers,
		retry:   retry,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
		log:     log,
	}
}

// Checkout places one order per seller in the buyer's cart. Seller groups are
// processed one after another in cart order and a failing group never stops
// the others. Cart lines are removed only after their order is stored.
func (s *CheckoutServiceImpl) Checkout(ctx context.Context, req CheckoutRequest) (result *domain.CheckoutResult, err error) {
	if req.BuyerID == "" {
		return nil, ErrMissingBuyer
	}
	if req.CheckoutID == "" {
		req.CheckoutID = uuid.NewString()
	}

	ctx, span := s.tracer.Start(ctx, "checkout", trace.WithAttributes(
		attribute.String("buyer.id", req.BuyerID),
		attribute.String("checkout.id", req.CheckoutID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := s.log.With(slog.String("buyer_id", req.BuyerID), slog.String("checkout_id", req.CheckoutID))

	lines, dropped, err := s.reader.Read(ctx, req.BuyerID)
	if err != nil {
		s.countCheckout(checkoutOutcome(nil, err))
		return nil, err
	}

	address, err := s.resolveAddress(ctx, req)
	if err != nil {
		s.countCheckout(checkoutOutcome(nil, err))
		return nil, err
	}

	groups := PartitionBySeller(lines)
	result = &domain.CheckoutResult{CheckoutID: req.CheckoutID, DroppedProducts: dropped}

	var placed []domain.SellerGroup
	allRetryable := true
	for _, group := range groups {
		orderID, res := s.factory.Create(ctx, GroupOrder{
			CheckoutID: req.CheckoutID,
			BuyerID:    req.BuyerID,
			Group:      group,
			Address:    address,
		})
		s.countGroup(res.Outcome)

		if res.Outcome == Success {
			log.InfoContext(ctx, "order created",
				slog.String("seller_id", group.SellerID),
				slog.String("order_id", orderID),
				slog.String("total", group.Subtotal.StringFixed(2)))
			result.CreatedOrderIDs = append(result.CreatedOrderIDs, orderID)
			placed = append(placed, group)
			continue
		}

		if res.Outcome != Retryable {
			allRetryable = false
		}
		log.WarnContext(ctx, "seller group failed",
			slog.String("seller_id", group.SellerID),
			slog.String("outcome", res.Outcome.String()),
			slog.Any("error", res.Err))
		result.FailedGroups = append(result.FailedGroups, domain.FailedGroup{
			SellerID: group.SellerID,
			Reason:   failureReason(res),
			Detail:   errorDetail(res.Err),
		})
	}

	if len(placed) == 0 && allRetryable {
		err = fmt.Errorf("%w: every seller group failed to reach its collaborators", ErrCheckoutUnavailable)
		s.countCheckout(checkoutOutcome(result, err))
		return nil, err
	}

	if len(placed) > 0 {
		s.linkOrders(ctx, log, req.BuyerID, result)
		s.updateCart(ctx, log, req.BuyerID, placed, result)
	}

	s.countCheckout(checkoutOutcome(result, nil))
	span.SetAttributes(
		attribute.Int("checkout.orders_created", len(result.CreatedOrderIDs)),
		attribute.Int("checkout.groups_failed", len(result.FailedGroups)))
	return result, nil
}

// linkOrders appends every created order to the buyer's history. Appending is
// idempotent by order id, so retries are safe.
func (s *CheckoutServiceImpl) linkOrders(ctx context.Context, log *slog.Logger, buyerID string, result *domain.CheckoutResult) {
	ctx = context.WithoutCancel(ctx)
	for _, orderID := range result.CreatedOrderIDs {
		err := s.retry.Do(ctx, func() error {
			return s.buyers.AppendOrderID(ctx, buyerID, orderID)
		})
		if err != nil {
			log.ErrorContext(ctx, "failed to link order to buyer",
				slog.String("order_id", orderID),
				slog.Any("error", err))
			result.PendingFollowUp = appendFollowUp(result.PendingFollowUp, domain.FollowUpBuyerLink)
		}
	}
}

// updateCart removes the lines whose orders were stored. When every group
// succeeded the dropped lines go too. Lines added after the cart was read stay.
func (s *CheckoutServiceImpl) updateCart(ctx context.Context, log *slog.Logger, buyerID string, placed []domain.SellerGroup, result *domain.CheckoutResult) {
	ctx = context.WithoutCancel(ctx)

	var productIDs []string
	for _, g := range placed {
		productIDs = append(productIDs, g.ProductIDs()...)
	}
	if len(result.FailedGroups) == 0 {
		productIDs = append(productIDs, result.DroppedProducts...)
	}

	err := s.retry.Do(ctx, func() error {
		return s.buyers.RemoveCartLines(ctx, buyerID, productIDs)
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to update cart after checkout", slog.Any("error", err))
		result.PendingFollowUp = appendFollowUp(result.PendingFollowUp, domain.FollowUpCartUpdate)
	}
}

func (s *CheckoutServiceImpl) resolveAddress(ctx context.Context, req CheckoutRequest) (domain.ShippingAddress, error) {
	if req.Address != nil {
		if !req.Address.IsComplete() {
			return domain.ShippingAddress{}, fmt.Errorf("%w: address is incomplete", ErrNoShippingAddress)
		}
		return *req.Address, nil
	}

	addresses, err := s.buyers.GetAddresses(ctx, req.BuyerID)
	if errors.Is(err, domain.ErrBuyerNotFound) {
		return domain.ShippingAddress{}, fmt.Errorf("%w: buyer has no address book", ErrNoShippingAddress)
	}
	if err != nil {
		return domain.ShippingAddress{}, fmt.Errorf("%w: failed to get addresses: %w", ErrCheckoutUnavailable, err)
	}

	for _, a := range addresses {
		if req.AddressID != "" && a.ID == req.AddressID {
			return a, nil
		}
		if req.AddressID == "" && a.IsDefault {
			return a, nil
		}
	}
	if req.AddressID == "" && len(addresses) == 1 {
		return addresses[0], nil
	}
	return domain.ShippingAddress{}, ErrNoShippingAddress
}

func (s *CheckoutServiceImpl) countCheckout(outcome string) {
	if s.metrics != nil {
		s.metrics.Checkouts.WithLabelValues(outcome).Inc()
	}
}

func (s *CheckoutServiceImpl) countGroup(outcome Outcome) {
	if s.metrics != nil {
		s.metrics.Groups.WithLabelValues(outcome.String()).Inc()
	}
}

func checkoutOutcome(result *domain.CheckoutResult, err error) string {
	switch {
	case errors.Is(err, ErrCartEmpty):
		return "empty"
	case errors.Is(err, ErrCheckoutUnavailable):
		return "unavailable"
	case err != nil:
		return "rejected"
	case result.Succeeded():
		return "complete"
	case result.IsPartial():
		return "partial"
	default:
		return "failed"
	}
}

func appendFollowUp(list []domain.FollowUp, f domain.FollowUp) []domain.FollowUp {
	for _, existing := range list {
		if existing == f {
			return list
		}
	}
	return append(list, f)
}

func errorDetail(err error) string {
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		return stockErr.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
