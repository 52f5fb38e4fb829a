package memory

import (
	"context"
	"testing"
	"time"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/0xc0d3d00d/swapcandles/internal/storage/storagetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candle(pair string, tf domain.Timeframe, bucket int64, closePrice string) *domain.Candle {
	p := decimal.RequireFromString(closePrice)
	return &domain.Candle{
		Pair:        pair,
		Timeframe:   tf,
		BucketStart: time.Unix(bucket, 0).UTC(),
		Open:        p, High: p, Low: p, Close: p,
		Volume:     decimal.NewFromInt(1),
		TradeCount: 1,
		IsClosed:   true,
	}
}

var _ storagetest.Store = (*Store)(nil)

func TestContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store { return New() })
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.LoadLastKnownBucket(ctx, "p", domain.Timeframe1m)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.UpsertClosedCandle(ctx, candle("p", domain.Timeframe1m, 120, "1")))
	require.NoError(t, s.UpsertClosedCandle(ctx, candle("p", domain.Timeframe1m, 60, "2")))
	require.NoError(t, s.UpsertClosedCandle(ctx, candle("p", domain.Timeframe5m, 300, "3")))
	require.NoError(t, s.UpsertClosedCandle(ctx, candle("p", domain.Timeframe1m, 120, "4")))
	assert.Equal(t, 3, s.Len())

	last, err := s.LoadLastKnownBucket(ctx, "p", domain.Timeframe1m)
	require.NoError(t, err)
	assert.Equal(t, int64(120), last.BucketStart.Unix())
	assert.Equal(t, "4", last.Close.String())

	got, err := s.GetCandles(ctx, "p", domain.Timeframe1m, time.Unix(0, 0), time.Unix(120, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(60), got[0].BucketStart.Unix())
	assert.Equal(t, int64(120), got[1].BucketStart.Unix())

	got, err = s.GetCandles(ctx, "other", domain.Timeframe1m, time.Unix(0, 0), time.Unix(120, 0))
	require.NoError(t, err)
	assert.Empty(t, got)
}
