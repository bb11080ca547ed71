package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/parimarket/internal/domain"
	"github.com/alanyoungcy/parimarket/internal/escrow"
)

// EscrowStore implements domain.Escrow on the escrow_balances table. Each
// call runs as one statement or one transaction, so partial transfers are
// never visible.
type EscrowStore struct {
	pool    *pgxpool.Pool
	deriver escrow.Deriver
}

// NewEscrowStore creates an EscrowStore that authorizes custody transfers
// with d.
func NewEscrowStore(pool *pgxpool.Pool, d escrow.Deriver) *EscrowStore {
	return &EscrowStore{pool: pool, deriver: d}
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func debit(ctx context.Context, q execer, owner string, amount uint64) error {
	const query = `
		UPDATE escrow_balances
		SET balance = balance - $2::numeric, updated_at = NOW()
		WHERE account = $1 AND balance >= $2::numeric
		RETURNING account`

	var account string
	err := q.QueryRow(ctx, query, escrow.AccountKey(owner), amountText(amount)).Scan(&account)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: debit %s by %d: %w", owner, amount, domain.ErrInsufficientFunds)
	}
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", owner, err)
	}
	return nil
}

func credit(ctx context.Context, q execer, target string, amount uint64) error {
	const query = `
		INSERT INTO escrow_balances (account, balance, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (account) DO UPDATE
		SET balance = escrow_balances.balance + EXCLUDED.balance, updated_at = NOW()
		WHERE escrow_balances.balance + EXCLUDED.balance <= 18446744073709551615
		RETURNING account`

	var account string
	err := q.QueryRow(ctx, query, escrow.AccountKey(target), amountText(amount)).Scan(&account)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: credit %s: %w", target, domain.ErrAmountOverflow)
	}
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", target, err)
	}
	return nil
}

// Debit removes amount from owner.
func (s *EscrowStore) Debit(ctx context.Context, owner string, amount uint64) error {
	return debit(ctx, s.pool, owner, amount)
}

// Credit adds amount to target, creating the account when needed.
func (s *EscrowStore) Credit(ctx context.Context, target string, amount uint64) error {
	return credit(ctx, s.pool, target, amount)
}

// TransferAuthorizedByMarket moves amount out of the custody account derived
// for market.
func (s *EscrowStore) TransferAuthorizedByMarket(ctx context.Context, market, from, to string, amount uint64) error {
	if !strings.EqualFold(from, s.deriver.Custody(market)) {
		return fmt.Errorf("postgres: %s is not the custody of %s: %w", from, market, domain.ErrUnauthorized)
	}
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := debit(ctx, tx, from, amount); err != nil {
			return err
		}
		return credit(ctx, tx, to, amount)
	})
}

// Balance returns the balance of account, zero when it has never been funded.
func (s *EscrowStore) Balance(ctx context.Context, account string) (uint64, error) {
	var text string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::text FROM escrow_balances WHERE account = $1`,
		escrow.AccountKey(account),
	).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: balance %s: %w", account, err)
	}
	return parseAmount("balance", text)
}

// Compile-time interface check.
var _ domain.Escrow = (*EscrowStore)(nil)
