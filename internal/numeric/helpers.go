package numeric

import (
	"fmt"
	"regexp"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/shopspring/decimal"
)

var pairAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var hundred = decimal.NewFromInt(100)

// PercentChange returns (to - from) / from * 100 rounded to places digits.
// A zero base yields zero.
func PercentChange(from, to decimal.Decimal, places int32) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Mul(hundred).DivRound(from, places)
}

// Round rounds half away from zero to places fractional digits.
func Round(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// ValidatePairAddress checks the 0x-prefixed 20-byte hex form of a pair contract.
func ValidatePairAddress(s string) error {
	if !pairAddress.MatchString(s) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidPairAddress, s)
	}
	return nil
}

// ValidateTimeframe checks s against the closed timeframe set.
func ValidateTimeframe(s string) error {
	_, err := domain.ParseTimeframe(s)
	if err != nil {
		return fmt.Errorf("%w: %q", err, s)
	}
	return nil
}
