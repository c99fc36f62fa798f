package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/fjod/farm-checkout/internal/domain"
	"github.com/google/uuid"
)

// GroupOrder is the input for one seller group.
type GroupOrder struct {
	CheckoutID string
	BuyerID    string
	Group      domain.SellerGroup
	Address    domain.ShippingAddress
}

// OrderFactory turns one seller group into one PENDING order backed by stock.
// Either every line's stock is taken and the order is stored, or neither happens.
type OrderFactory struct {
	catalog *CatalogHandler
	orders  *OrderHandler
	retry   RetryPolicy
	log     *slog.Logger
	now     func() time.Time
}

func NewOrderFactory(catalog *CatalogHandler, orders *OrderHandler, retry RetryPolicy, log *slog.Logger) *OrderFactory {
	return &OrderFactory{
		catalog: catalog,
		orders:  orders,
		retry:   retry,
		log:     log,
		now:     time.Now,
	}
}

// Create returns the id of the order for this group. Replaying a checkout id
// returns the order already stored for it instead of creating a second one,
// and leaves stock alone.
func (f *OrderFactory) Create(ctx context.Context, in GroupOrder) (string, StepResult) {
	if len(in.Group.Lines) == 0 {
		return "", StepResult{Outcome: Fatal, Err: errors.New("seller group has no lines")}
	}

	order := f.buildOrder(in)

	existing, res := f.findReplay(ctx, order)
	if res.Outcome != Success {
		return "", res
	}
	if existing != nil {
		f.log.InfoContext(ctx, "checkout replayed, returning stored order",
			slog.String("checkout_id", in.CheckoutID),
			slog.String("seller_id", in.Group.SellerID),
			slog.String("order_id", existing.ID))
		return existing.ID, res
	}

	reserve := &reserveStockStep{
		catalog: f.catalog,
		retry:   f.retry,
		key:     "reserve:" + uuid.NewString(),
		lines:   order.StockLines(),
	}
	persist := &persistOrderStep{orders: f.orders, retry: f.retry, order: order}

	res = runSteps(ctx, f.log, reserve, persist)
	if res.Outcome != Success {
		return "", res
	}

	if persist.replayed {
		// The stored order already holds its own stock.
		if err := reserve.Compensate(context.WithoutCancel(ctx)); err != nil {
			f.log.ErrorContext(ctx, "failed to release stock of replayed checkout",
				slog.String("checkout_id", in.CheckoutID),
				slog.String("seller_id", in.Group.SellerID),
				slog.Any("error", err))
		}
	}
	return persist.order.ID, res
}

// findReplay returns the order an earlier attempt of this checkout stored for
// the same buyer and seller, or nil when there is none.
func (f *OrderFactory) findReplay(ctx context.Context, order *domain.Order) (*domain.Order, StepResult) {
	var existing *domain.Order
	err := f.retry.Do(ctx, func() error {
		var err error
		existing, err = f.orders.GetOrderByCheckout(ctx, order.BuyerID, order.CheckoutID, order.SellerID)
		return err
	})
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, succeeded()
	}
	if err != nil {
		return nil, classify(fmt.Errorf("look up checkout %s: %w", order.CheckoutID, err))
	}
	if err := sameOrder(existing, order); err != nil {
		return nil, classify(err)
	}
	return existing, succeeded()
}

// sameOrder reports domain.ErrCheckoutConflict unless stored was placed by the
// same buyer with the same seller for the same product quantities as want.
func sameOrder(stored, want *domain.Order) error {
	if stored.BuyerID != want.BuyerID || stored.SellerID != want.SellerID {
		return fmt.Errorf("checkout %s: %w", want.CheckoutID, domain.ErrCheckoutConflict)
	}
	if !maps.Equal(quantities(stored.Items), quantities(want.Items)) {
		return fmt.Errorf("checkout %s holds different items: %w", want.CheckoutID, domain.ErrCheckoutConflict)
	}
	return nil
}

func quantities(items []domain.OrderItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, item := range items {
		out[item.ProductID] += item.Quantity
	}
	return out
}

func (f *OrderFactory) buildOrder(in GroupOrder) *domain.Order {
	now := f.now().UTC()
	items := make([]domain.OrderItem, 0, len(in.Group.Lines))
	for _, line := range in.Group.Lines {
		items = append(items, domain.OrderItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  domain.LineTotal(line.UnitPrice, line.Quantity),
		})
	}

	return &domain.Order{
		ID:              uuid.NewString(),
		CheckoutID:      in.CheckoutID,
		BuyerID:         in.BuyerID,
		SellerID:        in.Group.SellerID,
		Status:          domain.OrderStatusPending,
		TotalAmount:     domain.SumItems(items),
		Currency:        domain.DefaultCurrency,
		ShippingAddress: in.Address.Snapshot(),
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// reserveStockStep takes stock line by line with the catalog's atomic
// decrement-if-sufficient. Every decrement is recorded under key.
type reserveStockStep struct {
	catalog   *CatalogHandler
	retry     RetryPolicy
	key       string
	lines     []domain.StockLine
	attempted bool
}

func (s *reserveStockStep) Name() string { return "reserve_stock" }

func (s *reserveStockStep) Execute(ctx context.Context) StepResult {
	for _, line := range s.lines {
		s.attempted = true
		if err := s.catalog.DecrementStock(ctx, s.key, line.ProductID, line.Quantity); err != nil {
			return classify(fmt.Errorf("decrement stock of %s: %w", line.ProductID, err))
		}
	}
	return succeeded()
}

// Compensate releases the reservation by key, which also covers a decrement
// that applied after its caller timed out.
func (s *reserveStockStep) Compensate(ctx context.Context) error {
	if !s.attempted {
		return nil
	}
	return s.retry.Do(ctx, func() error {
		return s.catalog.ReleaseReservation(ctx, s.key)
	})
}

// persistOrderStep stores the order. Creation is keyed by (buyer, checkout,
// seller), so retrying after a timeout never duplicates the order.
type persistOrderStep struct {
	orders   *OrderHandler
	retry    RetryPolicy
	order    *domain.Order
	replayed bool
}

func (s *persistOrderStep) Name() string { return "persist_order" }

func (s *persistOrderStep) Execute(ctx context.Context) StepResult {
	err := s.retry.Do(ctx, func() error {
		return s.orders.CreateOrder(ctx, s.order)
	})
	if err == nil {
		return succeeded()
	}
	if errors.Is(err, domain.ErrDuplicateCheckout) || classify(err).Outcome == Retryable {
		found, adoptErr := s.adoptExisting(ctx)
		if adoptErr != nil {
			return classify(adoptErr)
		}
		if found {
			return succeeded()
		}
	}
	return classify(fmt.Errorf("create order: %w", err))
}

// adoptExisting looks up the order stored for this buyer, checkout and seller.
// It is either our own insert whose acknowledgement was lost, or a concurrent
// attempt of the same checkout. An order with other items is never adopted.
func (s *persistOrderStep) adoptExisting(ctx context.Context) (bool, error) {
	existing, err := s.orders.GetOrderByCheckout(ctx, s.order.BuyerID, s.order.CheckoutID, s.order.SellerID)
	if err != nil {
		return false, nil
	}
	if existing.ID == s.order.ID {
		return true, nil
	}
	if err := sameOrder(existing, s.order); err != nil {
		return false, err
	}
	s.replayed = true
	s.order = existing
	return true, nil
}

func (s *persistOrderStep) Compensate(context.Context) error {
	return nil
}
