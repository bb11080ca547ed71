// Package memory implements the domain store interfaces in process memory.
// It backs the memory storage mode and service tests; data does not survive
// a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[string]domain.Market
}

// NewMarketStore creates an empty MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[string]domain.Market)}
}

// Create inserts m unless the name is taken.
func (s *MarketStore) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.Name]; ok {
		return fmt.Errorf("memory: create market %s: %w", m.Name, domain.ErrDuplicateMarket)
	}
	m.Version = 1
	s.markets[m.Name] = m
	return nil
}

// Get returns the market called name.
func (s *MarketStore) Get(_ context.Context, name string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[name]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

// Update writes m if its version matches the stored one.
func (s *MarketStore) Update(_ context.Context, m domain.Market) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.markets[m.Name]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	if cur.Version != m.Version {
		return domain.Market{}, fmt.Errorf("memory: update market %s: %w", m.Name, domain.ErrConflict)
	}
	m.Version++
	s.markets[m.Name] = m
	return m, nil
}

// List returns markets newest first.
func (s *MarketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && m.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, m)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, opts), nil
}

// ListSettledBefore returns markets settled strictly before the cutoff.
func (s *MarketStore) ListSettledBefore(_ context.Context, before time.Time) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Settled && m.SettledAt != nil && m.SettledAt.Before(before) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(*out[j].SettledAt) })
	return out, nil
}

// Count returns the number of stored markets.
func (s *MarketStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.markets)), nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
