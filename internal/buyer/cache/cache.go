package cache

import (
	"context"
	"errors"

	"github.com/fjod/farm-checkout/internal/domain"
)

type CartCache interface {
	Get(ctx context.Context, buyerID string) (*domain.Cart, error)
	Set(ctx context.Context, buyerID string, cart *domain.Cart) error
	Delete(ctx context.Context, buyerID string) error
}

var ErrCacheMiss = errors.New("cache miss")
