// Package numeric converts between on-chain fixed-point integers and decimals
// and holds the small numeric and format helpers used around candle math.
package numeric

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultDecimals is the precision of ERC-20 style token amounts.
const DefaultDecimals = 18

var decimalNumeral = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// ToDecimal interprets raw as a fixed-point integer with the given number of decimals.
func ToDecimal(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ToRaw parses a decimal numeral into its fixed-point integer form. It fails
// with ErrMalformedNumericInput on anything that is not a plain base-10 numeral
// or that carries more fractional digits than decimals allows.
func ToRaw(s string, decimals int32) (*big.Int, error) {
	if !decimalNumeral.MatchString(s) {
		return nil, fmt.Errorf("%w: %q is not a decimal numeral", domain.ErrMalformedNumericInput, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedNumericInput, err)
	}
	return RawFromDecimal(d, decimals)
}

// RawFromDecimal is ToRaw for values already in the decimal domain.
func RawFromDecimal(d decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s has more than %d fractional digits", domain.ErrMalformedNumericInput, d, decimals)
	}
	return shifted.BigInt(), nil
}
