package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/farm-checkout/internal/buyer/cache"
	"github.com/fjod/farm-checkout/internal/buyer/repository"
	"github.com/fjod/farm-checkout/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	cacheOpTimeout  = time.Second
	MaxItemQuantity = 99
)

var (
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 99")
	ErrInvalidAddress  = errors.New("address requires street, city, postal code and country")
)

// BuyerService owns carts, address books and order history. Carts are read
// cache-aside; every cart mutation invalidates the cached copy before returning.
type BuyerService struct {
	repo  repository.BuyerRepository
	cache cache.CartCache
	sfg   singleflight.Group
	log   *slog.Logger
}

func NewBuyerService(repo repository.BuyerRepository, cache cache.CartCache, log *slog.Logger) *BuyerService {
	return &BuyerService{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// GetCart returns an empty cart when the buyer has none.
func (s *BuyerService) GetCart(ctx context.Context, buyerID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(buyerID, func() (any, error) {
		cart, err := s.cache.Get(ctx, buyerID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cart cache get failed",
				slog.String("buyer_id", buyerID), slog.Any("error", err))
		}

		cart, err = s.repo.GetCart(ctx, buyerID)
		if errors.Is(err, domain.ErrCartNotFound) {
			now := time.Now().UTC()
			return &domain.Cart{BuyerID: buyerID, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		// Written synchronously: a late write could resurrect lines a
		// concurrent checkout has just removed.
		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
		defer cancel()
		if err := s.cache.Set(setCtx, buyerID, cart); err != nil {
			s.log.WarnContext(ctx, "cart cache set failed",
				slog.String("buyer_id", buyerID), slog.Any("error", err))
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// LoadCart reads the stored cart without touching the cache, so a cached copy
// filled before a concurrent removal is never returned. It reports
// domain.ErrCartNotFound when the buyer has no cart.
func (s *BuyerService) LoadCart(ctx context.Context, buyerID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, buyerID)
	if err != nil && !errors.Is(err, domain.ErrCartNotFound) {
		s.log.ErrorContext(ctx, "load cart failed",
			slog.String("buyer_id", buyerID), slog.Any("error", err))
	}
	return cart, err
}

func (s *BuyerService) SetItem(ctx context.Context, buyerID, productID string, quantity int) error {
	if quantity <= 0 || quantity > MaxItemQuantity {
		return ErrInvalidQuantity
	}
	err := s.repo.SetItem(ctx, buyerID, domain.CartEntry{ProductID: productID, Quantity: quantity})
	if err != nil {
		s.log.ErrorContext(ctx, "set cart item failed",
			slog.String("buyer_id", buyerID), slog.String("product_id", productID), slog.Any("error", err))
		return err
	}
	return s.invalidate(ctx, buyerID)
}

func (s *BuyerService) RemoveCartLines(ctx context.Context, buyerID string, productIDs []string) error {
	if err := s.repo.RemoveCartLines(ctx, buyerID, productIDs); err != nil {
		s.log.ErrorContext(ctx, "remove cart lines failed",
			slog.String("buyer_id", buyerID), slog.Any("error", err))
		return err
	}
	return s.invalidate(ctx, buyerID)
}

func (s *BuyerService) ClearCart(ctx context.Context, buyerID string) error {
	if err := s.repo.DeleteCart(ctx, buyerID); err != nil {
		s.log.ErrorContext(ctx, "clear cart failed",
			slog.String("buyer_id", buyerID), slog.Any("error", err))
		return err
	}
	return s.invalidate(ctx, buyerID)
}

func (s *BuyerService) GetAddresses(ctx context.Context, buyerID string) ([]domain.ShippingAddress, error) {
	return s.repo.GetAddresses(ctx, buyerID)
}

func (s *BuyerService) AddAddress(ctx context.Context, buyerID string, addr domain.ShippingAddress) (domain.ShippingAddress, error) {
	if !addr.IsComplete() {
		return domain.ShippingAddress{}, ErrInvalidAddress
	}
	return s.repo.AddAddress(ctx, buyerID, addr)
}

func (s *BuyerService) AppendOrderID(ctx context.Context, buyerID, orderID string) error {
	return s.repo.AppendOrderID(ctx, buyerID, orderID)
}

func (s *BuyerService) GetOrderIDs(ctx context.Context, buyerID string) ([]string, error) {
	return s.repo.GetOrderIDs(ctx, buyerID)
}

// invalidate drops the cached cart. A failure is returned so callers that
// depend on the cart being gone (checkout cart mutation) can retry.
func (s *BuyerService) invalidate(ctx context.Context, buyerID string) error {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Delete(delCtx, buyerID); err != nil {
		s.log.ErrorContext(ctx, "cart cache invalidation failed",
			slog.String("buyer_id", buyerID), slog.Any("error", err))
		return fmt.Errorf("cart cache invalidation failed: %w", err)
	}
	return nil
}
