package postgres

import (
	"fmt"
	"strconv"
)

// Amounts live in NUMERIC(20,0) columns. They cross the driver boundary as
// decimal text so the full unsigned 64-bit range survives in both directions.

func amountText(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(column, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: decode %s %q: %w", column, s, err)
	}
	return v, nil
}
