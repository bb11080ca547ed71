package domain

import "context"

// Escrow moves value between participant balances and market custody
// accounts. Implementations must make each call all-or-nothing.
type Escrow interface {
	// Debit removes amount from owner's balance. It returns
	// ErrInsufficientFunds when the balance is too small.
	Debit(ctx context.Context, owner string, amount uint64) error
	// Credit adds amount to target's balance.
	Credit(ctx context.Context, target string, amount uint64) error
	// TransferAuthorizedByMarket moves amount out of a custody account. The
	// authority is the market's derived identity rather than a signer, so
	// from must be the custody account derived for market.
	TransferAuthorizedByMarket(ctx context.Context, market, from, to string, amount uint64) error
	Balance(ctx context.Context, account string) (uint64, error)
}
