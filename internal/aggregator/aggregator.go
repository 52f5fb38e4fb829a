// Package aggregator folds trade events into OHLCV candles for every
// timeframe and flushes each candle exactly once, when its bucket closes.
//
// State is partitioned per pair. Calls for different pairs never contend;
// calls for the same pair are serialized by the pair's lock, which is
// released before any store I/O. Callers must still feed a given pair from a
// single goroutine so that flushes for that pair reach the store in order.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/0xc0d3d00d/swapcandles/internal/retry"
)

type Outcome int

const (
	Applied Outcome = iota
	RejectedDuplicate
	RejectedStale
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case RejectedDuplicate:
		return "rejected_duplicate"
	case RejectedStale:
		return "rejected_stale"
	default:
		return "unknown"
	}
}

// CandleStore receives closed candles.
type CandleStore interface {
	UpsertClosedCandle(ctx context.Context, candle *domain.Candle) error
}

// FlushError reports a closed candle that could not be persisted. The candle
// has already left the working set; the fields identify it for backfill.
type FlushError struct {
	Pair        string
	Timeframe   domain.Timeframe
	BucketStart time.Time
	Err         error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush candle pair=%s timeframe=%s bucket_start=%s: %v",
		e.Pair, e.Timeframe, e.BucketStart.Format(time.RFC3339), e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// OrderingError is the fatal time-ordering violation.
type OrderingError struct {
	Pair          string
	Timeframe     domain.Timeframe
	WorkingBucket time.Time
	TradeBucket   time.Time
	SequenceID    uint64
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("%s: pair=%s timeframe=%s working_bucket=%s trade_bucket=%s sequence_id=%d",
		domain.ErrOutOfOrderTimestamp, e.Pair, e.Timeframe,
		e.WorkingBucket.Format(time.RFC3339), e.TradeBucket.Format(time.RFC3339), e.SequenceID)
}

func (e *OrderingError) Unwrap() error { return domain.ErrOutOfOrderTimestamp }

type pairState struct {
	mu       sync.Mutex
	lastSeen uint64
	seen     bool
	working  map[domain.Timeframe]*domain.Candle
	// floors holds the last persisted bucket per timeframe after a warm restart.
	floors map[domain.Timeframe]time.Time
}

type Aggregator struct {
	store  CandleStore
	retry  retry.Caller
	logger *slog.Logger

	mu    sync.RWMutex
	pairs map[string]*pairState

	// Optional hooks.
	OnFlush     func(c domain.Candle, err error)
	OnLateTrade func(e domain.TradeEvent, tf domain.Timeframe)
}

func New(store CandleStore, caller retry.Caller, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:  store,
		retry:  caller,
		logger: logger.With("component", "aggregator"),
		pairs:  make(map[string]*pairState),
	}
}

func (a *Aggregator) state(pair string) *pairState {
	a.mu.RLock()
	st, ok := a.pairs[pair]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok = a.pairs[pair]; ok {
		return st
	}
	st = &pairState{
		working: make(map[domain.Timeframe]*domain.Candle, len(domain.Timeframes)),
		floors:  make(map[domain.Timeframe]time.Time),
	}
	a.pairs[pair] = st
	return st
}

// ApplyTrade folds e into every timeframe. Closed candles are flushed to the
// store before returning; a failed flush is returned as a *FlushError together
// with the Applied outcome. An *OrderingError leaves all state untouched.
func (a *Aggregator) ApplyTrade(ctx context.Context, e domain.TradeEvent) (Outcome, error) {
	if err := e.Validate(); err != nil {
		return 0, fmt.Errorf("pair=%s sequence_id=%d: %w", e.Pair, e.SequenceID, err)
	}

	st := a.state(e.Pair)
	st.mu.Lock()

	if st.seen {
		if e.SequenceID == st.lastSeen {
			st.mu.Unlock()
			return RejectedDuplicate, nil
		}
		if e.SequenceID < st.lastSeen {
			st.mu.Unlock()
			return RejectedStale, nil
		}
	}

	buckets := make([]time.Time, len(domain.Timeframes))
	for i, tf := range domain.Timeframes {
		b := domain.BucketStart(e.OccurredAt, tf)
		buckets[i] = b
		if w, ok := st.working[tf]; ok && b.Before(w.BucketStart.Add(-tf.Duration())) {
			st.mu.Unlock()
			return 0, &OrderingError{
				Pair:          e.Pair,
				Timeframe:     tf,
				WorkingBucket: w.BucketStart,
				TradeBucket:   b,
				SequenceID:    e.SequenceID,
			}
		}
	}

	st.lastSeen = e.SequenceID
	st.seen = true

	var closed []*domain.Candle
	var late []domain.Timeframe
	for i, tf := range domain.Timeframes {
		b := buckets[i]
		if floor, ok := st.floors[tf]; ok {
			if !b.After(floor) {
				continue
			}
			delete(st.floors, tf)
		}

		w, ok := st.working[tf]
		switch {
		case ok && b.Equal(w.BucketStart):
			w.Apply(e)
		case ok && b.Before(w.BucketStart):
			late = append(late, tf)
		default:
			if ok {
				w.IsClosed = true
				closed = append(closed, w)
			}
			st.working[tf] = domain.NewCandle(e, tf, b)
		}
	}
	st.mu.Unlock()

	for _, tf := range late {
		a.logger.WarnContext(ctx, "late trade skipped for closed bucket",
			"pair", e.Pair, "timeframe", tf, "sequence_id", e.SequenceID,
			"occurred_at", e.OccurredAt, "bucket_start", domain.BucketStart(e.OccurredAt, tf))
		if a.OnLateTrade != nil {
			a.OnLateTrade(e, tf)
		}
	}

	return Applied, a.flush(ctx, closed)
}

// flush persists closed candles. Failures are reported, never re-buffered.
func (a *Aggregator) flush(ctx context.Context, closed []*domain.Candle) error {
	var firstErr error
	for _, c := range closed {
		err := a.retry.Do(ctx, func(ctx context.Context) error {
			if err := a.store.UpsertClosedCandle(ctx, c); err != nil {
				return fmt.Errorf("%w: %w", domain.ErrTransientWrite, err)
			}
			return nil
		})

		if a.OnFlush != nil {
			a.OnFlush(*c, err)
		}

		if err != nil {
			a.logger.ErrorContext(ctx, "failed to persist closed candle, backfill required",
				"pair", c.Pair, "timeframe", c.Timeframe, "bucket_start", c.BucketStart,
				"last_sequence_id", c.LastSequenceID, "error", err)
			if firstErr == nil {
				firstErr = &FlushError{Pair: c.Pair, Timeframe: c.Timeframe, BucketStart: c.BucketStart, Err: err}
			}
			continue
		}

		a.logger.DebugContext(ctx, "flushed candle",
			"pair", c.Pair, "timeframe", c.Timeframe, "bucket_start", c.BucketStart, "trade_count", c.TradeCount)
	}
	return firstErr
}

// Resume seeds a pair from the last candle persisted for tf before a restart:
// trades in that bucket or earlier are not folded into tf again.
func (a *Aggregator) Resume(last *domain.Candle) {
	if last == nil {
		return
	}
	st := a.state(last.Pair)
	st.mu.Lock()
	defer st.mu.Unlock()
	if floor, ok := st.floors[last.Timeframe]; !ok || last.BucketStart.After(floor) {
		st.floors[last.Timeframe] = last.BucketStart
	}
}

// SetLastSeen records the highest sequence id already applied for pair.
func (a *Aggregator) SetLastSeen(pair string, sequenceID uint64) {
	st := a.state(pair)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastSeen = sequenceID
	st.seen = true
}

// LastSeen returns the highest sequence id applied for pair.
func (a *Aggregator) LastSeen(pair string) (uint64, bool) {
	a.mu.RLock()
	st, ok := a.pairs[pair]
	a.mu.RUnlock()
	if !ok {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSeen, st.seen
}

// OpenCandles returns copies of the pair's open candles ordered by timeframe.
func (a *Aggregator) OpenCandles(pair string) []domain.Candle {
	a.mu.RLock()
	st, ok := a.pairs[pair]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	candles := make([]domain.Candle, 0, len(st.working))
	for _, c := range st.working {
		candles = append(candles, *c)
	}
	st.mu.Unlock()

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timeframe < candles[j].Timeframe
	})
	return candles
}

// OpenCount is the size of the working set across all pairs.
func (a *Aggregator) OpenCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, st := range a.pairs {
		st.mu.Lock()
		n += len(st.working)
		st.mu.Unlock()
	}
	return n
}
