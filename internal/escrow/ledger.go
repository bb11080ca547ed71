package escrow

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// Ledger is an in-process domain.Escrow. Every call completes under one
// mutex, so each transfer is atomic and bounded.
type Ledger struct {
	deriver  Deriver
	mu       sync.Mutex
	balances map[string]uint64
}

// NewLedger creates an empty ledger that authorizes custody transfers with
// the given deriver.
func NewLedger(d Deriver) *Ledger {
	return &Ledger{
		deriver:  d,
		balances: make(map[string]uint64),
	}
}

// AccountKey normalizes hex addresses so that checksummed and lower-case
// spellings share one balance.
func AccountKey(account string) string {
	if strings.HasPrefix(account, "0x") || strings.HasPrefix(account, "0X") {
		return strings.ToLower(account)
	}
	return account
}

// Fund mints amount into account. It exists for bootstrapping balances in
// memory mode and tests.
func (l *Ledger) Fund(account string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creditLocked(AccountKey(account), amount)
}

// Debit removes amount from owner.
func (l *Ledger) Debit(_ context.Context, owner string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debitLocked(AccountKey(owner), amount)
}

// Credit adds amount to target.
func (l *Ledger) Credit(_ context.Context, target string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creditLocked(AccountKey(target), amount)
}

// TransferAuthorizedByMarket moves amount from the custody account of market
// to to. from must equal the derived custody address for market.
func (l *Ledger) TransferAuthorizedByMarket(_ context.Context, market, from, to string, amount uint64) error {
	if !strings.EqualFold(from, l.deriver.Custody(market)) {
		return fmt.Errorf("escrow: %s is not the custody of %s: %w", from, market, domain.ErrUnauthorized)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src, dst := AccountKey(from), AccountKey(to)
	if l.balances[src] < amount {
		return fmt.Errorf("escrow: custody %s holds %d, need %d: %w", from, l.balances[src], amount, domain.ErrInsufficientFunds)
	}
	if l.balances[dst] > math.MaxUint64-amount {
		return fmt.Errorf("escrow: credit %s: %w", to, domain.ErrAmountOverflow)
	}
	l.balances[src] -= amount
	l.balances[dst] += amount
	return nil
}

// Balance returns the current balance of account.
func (l *Ledger) Balance(_ context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[AccountKey(account)], nil
}

func (l *Ledger) debitLocked(owner string, amount uint64) error {
	if l.balances[owner] < amount {
		return fmt.Errorf("escrow: debit %s: balance %d, need %d: %w", owner, l.balances[owner], amount, domain.ErrInsufficientFunds)
	}
	l.balances[owner] -= amount
	return nil
}

func (l *Ledger) creditLocked(target string, amount uint64) error {
	if l.balances[target] > math.MaxUint64-amount {
		return fmt.Errorf("escrow: credit %s: %w", target, domain.ErrAmountOverflow)
	}
	l.balances[target] += amount
	return nil
}

// Compile-time interface check.
var _ domain.Escrow = (*Ledger)(nil)
