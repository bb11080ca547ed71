package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `market, participant, stake::text, side,
	claimed, payout::text, claimed_at, created_at, updated_at, version`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var stake, payout string
	var side bool

	if err := row.Scan(
		&p.MarketName, &p.Participant, &stake, &side,
		&p.Claimed, &payout, &p.ClaimedAt, &p.CreatedAt, &p.UpdatedAt, &p.Version,
	); err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)

	var err error
	if p.Stake, err = parseAmount("stake", stake); err != nil {
		return domain.Position{}, err
	}
	if p.Payout, err = parseAmount("payout", payout); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Get retrieves the position of participant in market.
func (s *PositionStore) Get(ctx context.Context, market, participant string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE market = $1 AND participant = $2`, market, participant)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", market, participant, err)
	}
	return p, nil
}

// Create inserts p if no position exists for its key yet.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) (domain.Position, error) {
	const query = `
		INSERT INTO positions (
			market, participant, stake, side,
			claimed, payout, claimed_at, created_at, updated_at, version
		) VALUES (
			$1, $2, $3::numeric, $4,
			$5, $6::numeric, $7, $8, $9, 1
		)
		ON CONFLICT (market, participant) DO NOTHING
		RETURNING ` + positionSelectCols

	row := s.pool.QueryRow(ctx, query,
		p.MarketName, p.Participant, amountText(p.Stake), bool(p.Side),
		p.Claimed, amountText(p.Payout), p.ClaimedAt, p.CreatedAt, p.UpdatedAt,
	)
	created, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: create position %s/%s: %w", p.MarketName, p.Participant, domain.ErrConflict)
		}
		return domain.Position{}, fmt.Errorf("postgres: create position %s/%s: %w", p.MarketName, p.Participant, err)
	}
	return created, nil
}

// Update writes p when the stored version still equals p.Version.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) (domain.Position, error) {
	const query = `
		UPDATE positions SET
			stake      = $3::numeric,
			side       = $4,
			claimed    = $5,
			payout     = $6::numeric,
			claimed_at = $7,
			updated_at = $8,
			version    = version + 1
		WHERE market = $1 AND participant = $2 AND version = $9
		RETURNING ` + positionSelectCols

	row := s.pool.QueryRow(ctx, query,
		p.MarketName, p.Participant, amountText(p.Stake), bool(p.Side),
		p.Claimed, amountText(p.Payout), p.ClaimedAt, p.UpdatedAt, p.Version,
	)
	updated, err := scanPosition(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: update position %s/%s: %w", p.MarketName, p.Participant, err)
	}
	if _, getErr := s.Get(ctx, p.MarketName, p.Participant); getErr != nil {
		return domain.Position{}, getErr
	}
	return domain.Position{}, fmt.Errorf("postgres: update position %s/%s: %w", p.MarketName, p.Participant, domain.ErrConflict)
}

// ListByMarket returns every position in market, oldest first.
func (s *PositionStore) ListByMarket(ctx context.Context, market string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE market = $1
		 ORDER BY created_at ASC, participant ASC`, market)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions of %s: %w", market, err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions of %s: %w", market, err)
	}
	return positions, nil
}

// ListByParticipant returns positions held by participant with pagination and
// optional time filtering.
func (s *PositionStore) ListByParticipant(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE participant = $1`
	args := []any{participant}
	argIdx := 2

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

	query += " ORDER BY created_at ASC, market ASC"

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
		return nil, fmt.Errorf("postgres: list positions of %s: %w", participant, err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions of %s: %w", participant, err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
