package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets keyed by name.
type MarketStore interface {
	// Create inserts m if no market with the same name exists, otherwise it
	// returns ErrDuplicateMarket.
	Create(ctx context.Context, m Market) error
	Get(ctx context.Context, name string) (Market, error)
	// Update writes m if the stored version still equals m.Version and bumps
	// the version. It returns ErrConflict when the row changed underneath.
	Update(ctx context.Context, m Market) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists positions keyed by (market, participant).
type PositionStore interface {
	Get(ctx context.Context, market, participant string) (Position, error)
	// Create inserts p if absent, otherwise it returns ErrConflict.
	Create(ctx context.Context, p Position) (Position, error)
	Update(ctx context.Context, p Position) (Position, error)
	ListByMarket(ctx context.Context, market string) ([]Position, error)
	ListByParticipant(ctx context.Context, participant string, opts ListOpts) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
