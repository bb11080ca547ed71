package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketSelectCols = `name, creator, custody, expires_at,
	yes_total::text, no_total::text, outcome, settled, settled_at,
	created_at, updated_at, version`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var yes, no string
	var outcome bool

	if err := row.Scan(
		&m.Name, &m.Creator, &m.Custody, &m.ExpiresAt,
		&yes, &no, &outcome, &m.Settled, &m.SettledAt,
		&m.CreatedAt, &m.UpdatedAt, &m.Version,
	); err != nil {
		return domain.Market{}, err
	}
	m.Outcome = domain.Side(outcome)

	var err error
	if m.YesTotal, err = parseAmount("yes_total", yes); err != nil {
		return domain.Market{}, err
	}
	if m.NoTotal, err = parseAmount("no_total", no); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

func scanMarkets(rows pgx.Rows) ([]domain.Market, error) {
	defer rows.Close()
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Create inserts m. A taken name yields domain.ErrDuplicateMarket.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			name, creator, custody, expires_at,
			yes_total, no_total, outcome, settled, settled_at,
			created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4,
			$5::numeric, $6::numeric, $7, $8, $9,
			$10, $11, 1
		)
		ON CONFLICT (name) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		m.Name, m.Creator, m.Custody, m.ExpiresAt,
		amountText(m.YesTotal), amountText(m.NoTotal), bool(m.Outcome), m.Settled, m.SettledAt,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create market %s: %w", m.Name, domain.ErrDuplicateMarket)
	}
	return nil
}

// Get retrieves a market by name.
func (s *MarketStore) Get(ctx context.Context, name string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE name = $1`, name)

	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", name, err)
	}
	return m, nil
}

// Update writes the mutable fields of m when the stored version still equals
// m.Version and returns the row as stored.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) (domain.Market, error) {
	const query = `
		UPDATE markets SET
			yes_total  = $2::numeric,
			no_total   = $3::numeric,
			outcome    = $4,
			settled    = $5,
			settled_at = $6,
			updated_at = $7,
			version    = version + 1
		WHERE name = $1 AND version = $8
		RETURNING ` + marketSelectCols

	row := s.pool.QueryRow(ctx, query,
		m.Name, amountText(m.YesTotal), amountText(m.NoTotal),
		bool(m.Outcome), m.Settled, m.SettledAt, m.UpdatedAt, m.Version,
	)
	updated, err := scanMarket(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: update market %s: %w", m.Name, err)
	}

	// Nothing matched: either the market is gone or the version moved.
	if _, getErr := s.Get(ctx, m.Name); getErr != nil {
		return domain.Market{}, getErr
	}
	return domain.Market{}, fmt.Errorf("postgres: update market %s: %w", m.Name, domain.ErrConflict)
}

// List returns markets newest first with pagination and optional creation
// time filtering.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, name ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	markets, err := scanMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return markets, nil
}

// ListSettledBefore returns markets settled before the cutoff, oldest first.
func (s *MarketStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets
		 WHERE settled AND settled_at < $1
		 ORDER BY settled_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled markets: %w", err)
	}
	markets, err := scanMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled markets: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
