// Package memory is a map-backed candle store for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
)

type seriesKey struct {
	pair      string
	timeframe domain.Timeframe
}

type Store struct {
	mu     sync.RWMutex
	series map[seriesKey]map[int64]domain.Candle
}

func New() *Store {
	return &Store{series: make(map[seriesKey]map[int64]domain.Candle)}
}

func (s *Store) UpsertClosedCandle(_ context.Context, candle *domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{pair: candle.Pair, timeframe: candle.Timeframe}
	if _, ok := s.series[key]; !ok {
		s.series[key] = make(map[int64]domain.Candle)
	}
	s.series[key][candle.BucketStart.Unix()] = *candle
	return nil
}

func (s *Store) LoadLastKnownBucket(_ context.Context, pair string, tf domain.Timeframe) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *domain.Candle
	for _, c := range s.series[seriesKey{pair: pair, timeframe: tf}] {
		if last == nil || c.BucketStart.After(last.BucketStart) {
			last = &c
		}
	}
	if last == nil {
		return nil, fmt.Errorf("%w: no candle for pair=%s timeframe=%s", domain.ErrNotFound, pair, tf)
	}
	return last, nil
}

// GetCandles returns candles with bucket start in [from, to], oldest first.
func (s *Store) GetCandles(_ context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candles := []*domain.Candle{}
	for _, c := range s.series[seriesKey{pair: pair, timeframe: tf}] {
		if c.BucketStart.Before(from) || c.BucketStart.After(to) {
			continue
		}
		candles = append(candles, &c)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].BucketStart.Before(candles[j].BucketStart)
	})
	return candles, nil
}

// Len is the number of stored candles across all series.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, series := range s.series {
		n += len(series)
	}
	return n
}

func (s *Store) Close() error { return nil }
