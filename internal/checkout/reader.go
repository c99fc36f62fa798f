package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/farm-checkout/internal/domain"
	"golang.org/x/sync/errgroup"
)

const productLookupConcurrency = 8

// CartReader resolves a buyer's persisted cart against the live catalog.
type CartReader struct {
	buyers  *BuyerHandler
	catalog *CatalogHandler
	log     *slog.Logger
}

func NewCartReader(buyers *BuyerHandler, catalog *CatalogHandler, log *slog.Logger) *CartReader {
	return &CartReader{buyers: buyers, catalog: catalog, log: log}
}

// Read returns resolved lines in cart order plus the product ids that were
// dropped because the catalog no longer knows them. Repeated entries for one
// product are merged at the position of the first one.
func (r *CartReader) Read(ctx context.Context, buyerID string) ([]domain.CartLine, []string, error) {
	cart, err := r.buyers.LoadCart(ctx, buyerID)
	if err != nil && !errors.Is(err, domain.ErrCartNotFound) {
		return nil, nil, fmt.Errorf("%w: failed to get cart: %w", ErrCheckoutUnavailable, err)
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, nil, ErrCartEmpty
	}

	entries, dropped := r.mergeEntries(ctx, buyerID, cart.Items)
	if len(entries) == 0 {
		return nil, dropped, ErrCartEmpty
	}

	products := make([]*domain.Product, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(productLookupConcurrency)
	for i, entry := range entries {
		g.Go(func() error {
			p, err := r.catalog.GetProduct(gctx, entry.ProductID)
			if errors.Is(err, domain.ErrProductNotFound) {
				return nil // left nil, dropped below
			}
			if err != nil {
				return fmt.Errorf("failed to get product %s: %w", entry.ProductID, err)
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCheckoutUnavailable, err)
	}

	lines := make([]domain.CartLine, 0, len(entries))
	for i, entry := range entries {
		p := products[i]
		if p == nil {
			r.log.WarnContext(ctx, "dropping cart line",
				slog.String("buyer_id", buyerID),
				slog.String("product_id", entry.ProductID),
				slog.String("error", ErrProductUnavailable.Error()))
			dropped = append(dropped, entry.ProductID)
			continue
		}
		lines = append(lines, domain.CartLine{
			ProductID:   p.ID,
			ProductName: p.Name,
			SellerID:    p.SellerID,
			Quantity:    entry.Quantity,
			UnitPrice:   p.Price,
			Available:   p.Stock,
		})
	}

	if len(lines) == 0 {
		return nil, dropped, ErrCartEmpty
	}
	return lines, dropped, nil
}

func (r *CartReader) mergeEntries(ctx context.Context, buyerID string, items []domain.CartEntry) ([]domain.CartEntry, []string) {
	index := make(map[string]int, len(items))
	merged := make([]domain.CartEntry, 0, len(items))
	var dropped []string

	for _, item := range items {
		if item.Quantity <= 0 {
			r.log.WarnContext(ctx, "dropping cart line with non-positive quantity",
				slog.String("buyer_id", buyerID),
				slog.String("product_id", item.ProductID),
				slog.Int("quantity", item.Quantity))
			dropped = append(dropped, item.ProductID)
			continue
		}
		if i, seen := index[item.ProductID]; seen {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, dropped
}
