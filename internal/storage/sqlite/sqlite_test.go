package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/0xc0d3d00d/swapcandles/internal/storage/storagetest"
)

var _ storagetest.Store = (*Store)(nil)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Store {
		return newTestStore(t, filepath.Join(t.TempDir(), "candles.db"))
	})
}

func TestReopenKeepsCandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "candles.db")

	s, err := New(ctx, path)
	require.NoError(t, err)
	want := storagetest.Candle(storagetest.PairA, domain.Timeframe1h, storagetest.T0, "1.5", 3)
	require.NoError(t, s.UpsertClosedCandle(ctx, want))
	require.NoError(t, s.Close())

	got, err := newTestStore(t, path).LoadLastKnownBucket(ctx, storagetest.PairA, domain.Timeframe1h)
	require.NoError(t, err)
	storagetest.AssertCandleEqual(t, want, got)
}
