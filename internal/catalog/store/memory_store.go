package store

import (
	"context"
	"sync"

	"github.com/fjod/farm-checkout/internal/domain"
)

// MemoryStore implements CatalogStore with in-memory storage
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[string]*domain.Product // productID -> product
	restored     map[string]struct{}        // restore keys already applied
	reservations map[string]map[string]int  // key -> productID -> qty
	released     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]*domain.Product),
		restored:     make(map[string]struct{}),
		reservations: make(map[string]map[string]int),
		released:     make(map[string]struct{}),
	}
}

func (s *MemoryStore) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.products[productID]
	if !exists {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) DecrementStock(_ context.Context, key, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.released[key]; done {
		return ErrReservationReleased
	}
	if _, applied := s.reservations[key][productID]; applied {
		return nil
	}

	p, exists := s.products[productID]
	if !exists {
		return domain.ErrProductNotFound
	}
	if p.Stock < qty {
		return &domain.InsufficientStockError{ProductID: productID, Available: p.Stock, Requested: qty}
	}
	p.Stock -= qty

	if s.reservations[key] == nil {
		s.reservations[key] = make(map[string]int)
	}
	s.reservations[key][productID] = qty
	return nil
}

func (s *MemoryStore) ReleaseReservation(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.released[key]; done {
		return nil
	}
	for productID, qty := range s.reservations[key] {
		if p, exists := s.products[productID]; exists {
			p.Stock += qty
		}
	}
	delete(s.reservations, key)
	s.released[key] = struct{}{}
	return nil
}

func (s *MemoryStore) RestoreStock(_ context.Context, key string, lines []domain.StockLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.restored[key]; done {
		return nil
	}

	// Deleted products have nothing to restore into; skip them.
	for _, line := range lines {
		if p, exists := s.products[line.ProductID]; exists {
			p.Stock += line.Quantity
		}
	}
	s.restored[key] = struct{}{}
	return nil
}

func (s *MemoryStore) PutProduct(_ context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products[product.ID] = &product
	return nil
}

// DeleteProduct removes a product from the catalog.
func (s *MemoryStore) DeleteProduct(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, productID)
}

// Stock returns the current available quantity, or -1 for unknown products.
func (s *MemoryStore) Stock(productID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, exists := s.products[productID]; exists {
		return p.Stock
	}
	return -1
}

func (s *MemoryStore) Close() error {
	return nil
}
