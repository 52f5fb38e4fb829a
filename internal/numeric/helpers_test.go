package numeric

import (
	"testing"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPercentChange(t *testing.T) {
	d := decimal.RequireFromString
	assert.Equal(t, "5", PercentChange(d("1.00"), d("1.05"), 2).String())
	assert.Equal(t, "-2", PercentChange(d("1.00"), d("0.98"), 2).String())
	assert.Equal(t, "33.33", PercentChange(d("3"), d("4"), 2).String())
	assert.True(t, PercentChange(decimal.Zero, d("4"), 2).IsZero())
}

func TestRound(t *testing.T) {
	assert.Equal(t, "1.24", Round(decimal.RequireFromString("1.235"), 2).String())
	assert.Equal(t, "-1.24", Round(decimal.RequireFromString("-1.235"), 2).String())
}

func TestValidatePairAddress(t *testing.T) {
	assert.NoError(t, ValidatePairAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"))
	for _, s := range []string{"", "0x", "B4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9D", "0xZ4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"} {
		assert.ErrorIs(t, ValidatePairAddress(s), domain.ErrInvalidPairAddress, s)
	}
}

func TestValidateTimeframe(t *testing.T) {
	for _, s := range []string{"1m", "5m", "15m", "1h", "4h", "1d"} {
		assert.NoError(t, ValidateTimeframe(s))
	}
	assert.ErrorIs(t, ValidateTimeframe("2h"), domain.ErrInvalidTimeframe)
}
