package domain

import "errors"

// Engine rejections. Every one of them is terminal for the request that
// produced it; none is transient.
var (
	ErrDuplicateMarket      = errors.New("duplicate market")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrAlreadySettled       = errors.New("market already settled")
	ErrNotYetExpired        = errors.New("market not yet expired")
	ErrMarketExpired        = errors.New("market expired")
	ErrMarketAlreadySettled = errors.New("betting closed: market already settled")
	ErrMarketNotSettled     = errors.New("market not settled")
	ErrNotAWinner           = errors.New("position is not on the winning side")
	ErrAlreadyClaimed       = errors.New("winnings already claimed")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrNoWinningStake       = errors.New("no stake on the winning side")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidMarket        = errors.New("invalid market parameters")
	ErrInvalidSide          = errors.New("invalid side")
	ErrSideMismatch         = errors.New("rebet side does not match existing position")
	ErrAmountOverflow       = errors.New("amount overflows market pool")
)

// Infrastructure errors.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("concurrent modification")
	ErrLockHeld  = errors.New("lock already held")
	ErrBadSigner = errors.New("invalid request signature")
)

// errorCodes maps each sentinel to the stable kind name surfaced to callers.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrDuplicateMarket, "DuplicateMarket"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrAlreadySettled, "AlreadySettled"},
	{ErrNotYetExpired, "NotYetExpired"},
	{ErrMarketExpired, "MarketExpired"},
	{ErrMarketAlreadySettled, "MarketAlreadySettled"},
	{ErrMarketNotSettled, "MarketNotSettled"},
	{ErrNotAWinner, "NotAWinner"},
	{ErrAlreadyClaimed, "AlreadyClaimed"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrNoWinningStake, "NoWinningStake"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidMarket, "InvalidMarket"},
	{ErrInvalidSide, "InvalidSide"},
	{ErrSideMismatch, "SideMismatch"},
	{ErrAmountOverflow, "AmountOverflow"},
	{ErrNotFound, "NotFound"},
	{ErrConflict, "Conflict"},
	{ErrLockHeld, "Busy"},
	{ErrBadSigner, "BadSignature"},
}

// ErrorCode returns the stable kind name for err, or "Internal" when err does
// not wrap a known sentinel.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "Internal"
}
