package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

type positionKey struct {
	market      string
	participant string
}

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[positionKey]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[positionKey]domain.Position)}
}

// Get returns the position of participant in market.
func (s *PositionStore) Get(_ context.Context, market, participant string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionKey{market, participant}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

// Create inserts p if no position exists for its key.
func (s *PositionStore) Create(_ context.Context, p domain.Position) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := positionKey{p.MarketName, p.Participant}
	if _, ok := s.positions[k]; ok {
		return domain.Position{}, fmt.Errorf("memory: create position %s/%s: %w", p.MarketName, p.Participant, domain.ErrConflict)
	}
	p.Version = 1
	s.positions[k] = p
	return p, nil
}

// Update writes p if its version matches the stored one.
func (s *PositionStore) Update(_ context.Context, p domain.Position) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := positionKey{p.MarketName, p.Participant}
	cur, ok := s.positions[k]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	if cur.Version != p.Version {
		return domain.Position{}, fmt.Errorf("memory: update position %s/%s: %w", p.MarketName, p.Participant, domain.ErrConflict)
	}
	p.Version++
	s.positions[k] = p
	return p, nil
}

// ListByMarket returns every position in market, oldest first.
func (s *PositionStore) ListByMarket(_ context.Context, market string) ([]domain.Position, error) {
	s.mu.RLock()
	var out []domain.Position
	for k, p := range s.positions {
		if k.market == market {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sortPositions(out)
	return out, nil
}

// ListByParticipant returns the positions held by participant, oldest first.
func (s *PositionStore) ListByParticipant(_ context.Context, participant string, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.RLock()
	var out []domain.Position
	for k, p := range s.positions {
		if k.participant == participant {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sortPositions(out)
	return page(out, opts), nil
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].Participant < ps[j].Participant
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
