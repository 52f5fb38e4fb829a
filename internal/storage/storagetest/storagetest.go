// Package storagetest holds the behaviour every candle store must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
)

type Store interface {
	UpsertClosedCandle(ctx context.Context, candle *domain.Candle) error
	LoadLastKnownBucket(ctx context.Context, pair string, tf domain.Timeframe) (*domain.Candle, error)
	GetCandles(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error)
}

const (
	PairA = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
	PairB = "0xa478c2975ab1ea89e8196811f51a7b7ade33eb11"
)

// T0 is aligned to every timeframe.
var T0 = time.Unix(1699920000, 0).UTC()

func Candle(pair string, tf domain.Timeframe, bucket time.Time, price string, seq uint64) *domain.Candle {
	p := decimal.RequireFromString(price)
	return &domain.Candle{
		Pair:           pair,
		Timeframe:      tf,
		BucketStart:    bucket,
		Open:           p,
		High:           p.Add(decimal.NewFromInt(1)),
		Low:            p,
		Close:          p,
		Volume:         decimal.RequireFromString("12.345"),
		TradeCount:     3,
		IsClosed:       true,
		LastSequenceID: seq,
	}
}

// AssertCandleEqual compares by value, ignoring decimal representation.
func AssertCandleEqual(t *testing.T, want, got *domain.Candle) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.Pair, got.Pair)
	assert.Equal(t, want.Timeframe, got.Timeframe)
	assert.True(t, want.BucketStart.Equal(got.BucketStart), "bucket start: want %s got %s", want.BucketStart, got.BucketStart)
	assert.True(t, want.Open.Equal(got.Open), "open: want %s got %s", want.Open, got.Open)
	assert.True(t, want.High.Equal(got.High), "high: want %s got %s", want.High, got.High)
	assert.True(t, want.Low.Equal(got.Low), "low: want %s got %s", want.Low, got.Low)
	assert.True(t, want.Close.Equal(got.Close), "close: want %s got %s", want.Close, got.Close)
	assert.True(t, want.Volume.Equal(got.Volume), "volume: want %s got %s", want.Volume, got.Volume)
	assert.Equal(t, want.TradeCount, got.TradeCount)
	assert.Equal(t, want.LastSequenceID, got.LastSequenceID)
	assert.True(t, got.IsClosed)
}

// Run exercises a store returned fresh by newStore for every subtest.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	tf := domain.Timeframe1m
	minute := tf.Duration()

	t.Run("missing series", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadLastKnownBucket(ctx, PairA, tf)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		candles, err := s.GetCandles(ctx, PairA, tf, T0, T0.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, candles)
	})

	t.Run("upsert and load last", func(t *testing.T) {
		s := newStore(t)
		first := Candle(PairA, tf, T0, "2000", 10)
		second := Candle(PairA, tf, T0.Add(minute), "2010", 20)
		require.NoError(t, s.UpsertClosedCandle(ctx, second))
		require.NoError(t, s.UpsertClosedCandle(ctx, first))

		last, err := s.LoadLastKnownBucket(ctx, PairA, tf)
		require.NoError(t, err)
		AssertCandleEqual(t, second, last)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpsertClosedCandle(ctx, Candle(PairA, tf, T0, "2000", 10)))
		updated := Candle(PairA, tf, T0, "1999.5", 11)
		updated.TradeCount = 4
		require.NoError(t, s.UpsertClosedCandle(ctx, updated))

		candles, err := s.GetCandles(ctx, PairA, tf, T0, T0)
		require.NoError(t, err)
		require.Len(t, candles, 1)
		AssertCandleEqual(t, updated, candles[0])
	})

	t.Run("range is inclusive and ordered", func(t *testing.T) {
		s := newStore(t)
		for i := 4; i >= 0; i-- {
			c := Candle(PairA, tf, T0.Add(time.Duration(i)*minute), "100", uint64(i+1))
			require.NoError(t, s.UpsertClosedCandle(ctx, c))
		}

		candles, err := s.GetCandles(ctx, PairA, tf, T0.Add(minute), T0.Add(3*minute))
		require.NoError(t, err)
		require.Len(t, candles, 3)
		for i, c := range candles {
			assert.True(t, T0.Add(time.Duration(i+1)*minute).Equal(c.BucketStart))
		}
	})

	t.Run("series are isolated", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpsertClosedCandle(ctx, Candle(PairA, domain.Timeframe1m, T0, "1", 1)))
		require.NoError(t, s.UpsertClosedCandle(ctx, Candle(PairA, domain.Timeframe5m, T0, "2", 1)))
		require.NoError(t, s.UpsertClosedCandle(ctx, Candle(PairB, domain.Timeframe1m, T0, "3", 1)))

		got, err := s.GetCandles(ctx, PairA, domain.Timeframe1m, T0, T0.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, decimal.NewFromInt(1).Equal(got[0].Close))

		last, err := s.LoadLastKnownBucket(ctx, PairB, domain.Timeframe1m)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(3).Equal(last.Close))

		_, err = s.LoadLastKnownBucket(ctx, PairB, domain.Timeframe5m)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("full precision", func(t *testing.T) {
		s := newStore(t)
		c := Candle(PairA, domain.Timeframe1d, T0, "0.000000000000000001", 1<<40|7)
		c.Volume = decimal.RequireFromString("123456789012345678901234567890.123456789012345678")
		require.NoError(t, s.UpsertClosedCandle(ctx, c))

		last, err := s.LoadLastKnownBucket(ctx, PairA, domain.Timeframe1d)
		require.NoError(t, err)
		AssertCandleEqual(t, c, last)
	})
}
