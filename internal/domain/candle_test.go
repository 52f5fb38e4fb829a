package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(seq uint64, price, volume string) TradeEvent {
	return TradeEvent{
		Pair:       "0xpair",
		Price:      decimal.RequireFromString(price),
		Volume:     decimal.RequireFromString(volume),
		OccurredAt: time.Unix(1700000000+int64(seq), 0),
		SequenceID: seq,
	}
}

func TestCandleApply(t *testing.T) {
	trades := []TradeEvent{
		trade(1, "1.00", "10"),
		trade(2, "1.05", "5"),
		trade(3, "0.98", "20"),
		trade(4, "1.01", "0.5"),
	}

	c := NewCandle(trades[0], Timeframe1m, BucketStart(trades[0].OccurredAt, Timeframe1m))
	for _, e := range trades[1:] {
		c.Apply(e)
	}

	assert.True(t, c.Open.Equal(decimal.RequireFromString("1.00")))
	assert.True(t, c.High.Equal(decimal.RequireFromString("1.05")))
	assert.True(t, c.Low.Equal(decimal.RequireFromString("0.98")))
	assert.True(t, c.Close.Equal(decimal.RequireFromString("1.01")))
	assert.True(t, c.Volume.Equal(decimal.RequireFromString("35.5")))
	assert.Equal(t, uint32(4), c.TradeCount)
	assert.Equal(t, uint64(4), c.LastSequenceID)

	assert.True(t, c.Low.LessThanOrEqual(decimal.Min(c.Open, c.Close)))
	assert.True(t, c.High.GreaterThanOrEqual(decimal.Max(c.Open, c.Close)))
	assert.Equal(t, c.BucketStart.Add(time.Minute), c.BucketEnd())
}

func TestTradeValidate(t *testing.T) {
	require.NoError(t, trade(1, "1", "0").Validate())

	cases := map[string]TradeEvent{
		"zero price":      trade(1, "0", "1"),
		"negative price":  trade(1, "-1", "1"),
		"negative volume": trade(1, "1", "-0.1"),
		"empty pair":      {Price: decimal.NewFromInt(1), OccurredAt: time.Unix(1, 0)},
	}
	for name, e := range cases {
		assert.ErrorIs(t, e.Validate(), ErrMalformedNumericInput, name)
	}
}
