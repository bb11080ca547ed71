// Package amount converts between base-unit amounts and their wire and
// display forms.
package amount

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// Format renders v as a base-unit decimal string.
func Format(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// Parse reads a base-unit decimal string. Signs, fractions and values beyond
// the uint64 range are rejected with domain.ErrInvalidAmount.
func Parse(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	return v, nil
}

// Display renders v scaled down by decimals, e.g. 1500000 with 6 decimals is
// "1.5". Trailing zeros are dropped.
func Display(v uint64, decimals int32) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals)
	return d.String()
}

// FromDisplay converts a human amount such as "1.5" back to base units. More
// fractional digits than decimals is an error rather than a silent rounding.
func FromDisplay(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() || scaled.IsNegative() {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	return bi.Uint64(), nil
}
