package generator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/0xc0d3d00d/swapcandles/internal/metrics"
	"github.com/0xc0d3d00d/swapcandles/internal/retry"
	"github.com/0xc0d3d00d/swapcandles/internal/storage/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pairA = "0x00000000000000000000000000000000000000aa"
	pairB = "0x00000000000000000000000000000000000000bb"
)

var t0 = time.Unix(1700000100, 0).UTC()

// scriptedSource serves a fixed event log per pair, honouring since.
type scriptedSource struct {
	mu       sync.Mutex
	events   map[string][]domain.TradeEvent
	failures int
	sinces   map[string][]uint64
	polls    int
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		events: make(map[string][]domain.TradeEvent),
		sinces: make(map[string][]uint64),
	}
}

func (s *scriptedSource) add(events ...domain.TradeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.events[e.Pair] = append(s.events[e.Pair], e)
	}
}

func (s *scriptedSource) Poll(_ context.Context, pair string, since uint64) ([]domain.TradeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	s.sinces[pair] = append(s.sinces[pair], since)
	if s.failures > 0 {
		s.failures--
		return nil, domain.ErrTransientFetch
	}
	var out []domain.TradeEvent
	for _, e := range s.events[pair] {
		if e.SequenceID > since {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *scriptedSource) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func (s *scriptedSource) firstSince(pair string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sinces[pair]) == 0 {
		return 0, false
	}
	return s.sinces[pair][0], true
}

func ev(pair string, seq uint64, at time.Time, price, volume string) domain.TradeEvent {
	return domain.TradeEvent{
		Pair:       pair,
		Price:      decimal.RequireFromString(price),
		Volume:     decimal.RequireFromString(volume),
		OccurredAt: at,
		SequenceID: seq,
	}
}

func newTestService(source EventSource, store CandleStore, m *metrics.Metrics, pairs ...string) *Service {
	return New(Options{
		Source:       source,
		Store:        store,
		Pairs:        pairs,
		PollInterval: 5 * time.Millisecond,
		Concurrency:  2,
		Retry:        retry.New(2, time.Millisecond),
		Metrics:      m,
	})
}

func TestServiceLifecycle(t *testing.T) {
	source := newScriptedSource()
	source.add(
		ev(pairA, 1, t0.Add(1*time.Second), "1.00", "10"),
		ev(pairA, 2, t0.Add(20*time.Second), "1.05", "5"),
		ev(pairA, 3, t0.Add(59*time.Second), "0.98", "20"),
		ev(pairA, 4, t0.Add(61*time.Second), "1.10", "1"),
		ev(pairB, 1, t0.Add(5*time.Second), "3", "1"),
	)
	store := memory.New()
	m := metrics.New(prometheus.NewRegistry())
	svc := newTestService(source, store, m, pairA, pairB)

	assert.Equal(t, Stopped, svc.State())
	svc.Stop() // no-op before start

	run := svc.Start(context.Background())
	assert.Same(t, run, svc.Start(context.Background()))

	require.Eventually(t, svc.Ready, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return source.pollCount() > 6 }, time.Second, time.Millisecond)

	svc.Stop()
	svc.Stop()
	require.NoError(t, run.Wait())
	assert.Equal(t, Stopped, svc.State())

	last, err := store.LoadLastKnownBucket(context.Background(), pairA, domain.Timeframe1m)
	require.NoError(t, err)
	assert.Equal(t, t0, last.BucketStart)
	assert.Equal(t, uint32(3), last.TradeCount)
	assert.True(t, decimal.RequireFromString("35").Equal(last.Volume))
	assert.True(t, last.IsClosed)

	lastA, _ := svc.Aggregator().LastSeen(pairA)
	lastB, _ := svc.Aggregator().LastSeen(pairB)
	assert.Equal(t, uint64(4), lastA)
	assert.Equal(t, uint64(1), lastB)
	assert.Len(t, svc.Aggregator().OpenCandles(pairB), len(domain.Timeframes))

	assert.Equal(t, 5.0, testutil.ToFloat64(m.TradesApplied.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandlesFlushed.WithLabelValues("1m")))
	assert.Equal(t, float64(Stopped), testutil.ToFloat64(m.ServiceState))

	// A stopped service can be started again and resumes from memory.
	run = svc.Start(context.Background())
	require.Eventually(t, svc.Ready, time.Second, time.Millisecond)
	svc.Stop()
	require.NoError(t, run.Wait())
	assert.Equal(t, 5.0, testutil.ToFloat64(m.TradesApplied.WithLabelValues("applied")))
}

func TestServicePollFailureIsRecoverable(t *testing.T) {
	source := newScriptedSource()
	source.failures = 5
	source.add(ev(pairA, 1, t0, "1", "1"))
	m := metrics.New(prometheus.NewRegistry())
	svc := newTestService(source, memory.New(), m, pairA)

	run := svc.Start(context.Background())
	require.Eventually(t, func() bool {
		last, ok := svc.Aggregator().LastSeen(pairA)
		return ok && last == 1
	}, 2*time.Second, time.Millisecond)

	svc.Stop()
	require.NoError(t, run.Wait())
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.PollFailures.WithLabelValues(pairA)), 2.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.RetryAttempts.WithLabelValues("poll")), 2.0)
}

func TestServiceMalformedTradeDoesNotAbortBatch(t *testing.T) {
	source := newScriptedSource()
	source.add(
		ev(pairA, 1, t0, "1", "1"),
		ev(pairA, 2, t0.Add(time.Second), "0", "1"),
		ev(pairA, 3, t0.Add(2*time.Second), "2", "1"),
	)
	m := metrics.New(prometheus.NewRegistry())
	svc := newTestService(source, memory.New(), m, pairA)

	run := svc.Start(context.Background())
	require.Eventually(t, func() bool {
		last, _ := svc.Aggregator().LastSeen(pairA)
		return last == 3
	}, time.Second, time.Millisecond)
	svc.Stop()
	require.NoError(t, run.Wait())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TradesApplied.WithLabelValues("applied")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.MalformedTrades), 1.0)
}

func TestServiceStopsOnOrderingViolation(t *testing.T) {
	source := newScriptedSource()
	source.add(
		ev(pairA, 1, t0.Add(time.Hour), "1", "1"),
		ev(pairA, 2, t0, "1", "1"),
	)
	svc := newTestService(source, memory.New(), nil, pairA)

	run := svc.Start(context.Background())
	select {
	case <-run.Done():
	case <-time.After(time.Second):
		t.Fatal("service kept running after an ordering violation")
	}

	err := run.Wait()
	assert.ErrorIs(t, err, domain.ErrOutOfOrderTimestamp)
	assert.Equal(t, Stopped, svc.State())
}

type blockingSource struct {
	calls chan struct{}
}

func (s *blockingSource) Poll(context.Context, string, uint64) ([]domain.TradeEvent, error) {
	select {
	case s.calls <- struct{}{}:
	default:
	}
	return nil, domain.ErrTransientFetch
}

func TestServiceStopInterruptsBackoff(t *testing.T) {
	source := &blockingSource{calls: make(chan struct{}, 1)}
	svc := New(Options{
		Source:       source,
		Store:        memory.New(),
		Pairs:        []string{pairA},
		PollInterval: time.Hour,
		Retry:        retry.New(5, time.Hour),
	})

	run := svc.Start(context.Background())
	<-source.calls

	start := time.Now()
	svc.Stop()
	require.NoError(t, run.Wait())
	assert.Less(t, time.Since(start), time.Second)
}

func TestServiceWarmRestart(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for _, tf := range domain.Timeframes {
		bucket := domain.BucketStart(t0, tf)
		seq := uint64(10)
		if tf == domain.Timeframe1d {
			seq = 4
		}
		require.NoError(t, store.UpsertClosedCandle(ctx, &domain.Candle{
			Pair: pairA, Timeframe: tf, BucketStart: bucket.Add(-tf.Duration()),
			Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1),
			Volume: decimal.NewFromInt(1), TradeCount: 1, IsClosed: true, LastSequenceID: seq,
		}))
	}

	source := newScriptedSource()
	source.add(ev(pairA, 11, t0, "1", "1"))
	svc := New(Options{
		Source:       source,
		Store:        store,
		Pairs:        []string{pairA, pairB},
		PollInterval: 5 * time.Millisecond,
		Retry:        retry.New(1, 0),
		WarmRestart:  true,
	})

	run := svc.Start(ctx)
	require.Eventually(t, func() bool {
		_, okA := source.firstSince(pairA)
		_, okB := source.firstSince(pairB)
		return okA && okB
	}, time.Second, time.Millisecond)
	svc.Stop()
	require.NoError(t, run.Wait())

	sinceA, _ := source.firstSince(pairA)
	sinceB, _ := source.firstSince(pairB)
	assert.Equal(t, uint64(4), sinceA)
	assert.Equal(t, uint64(0), sinceB)
}

type failingLoader struct {
	*memory.Store
}

var errLoad = errors.New("load failed")

func (failingLoader) LoadLastKnownBucket(context.Context, string, domain.Timeframe) (*domain.Candle, error) {
	return nil, errLoad
}

func TestServiceStartupFailure(t *testing.T) {
	svc := New(Options{
		Source:      newScriptedSource(),
		Store:       failingLoader{memory.New()},
		Pairs:       []string{pairA},
		Retry:       retry.New(2, 0),
		WarmRestart: true,
	})

	err := svc.Start(context.Background()).Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, errLoad)
	assert.ErrorIs(t, err, retry.ErrRetriesExhausted)
	assert.Equal(t, Stopped, svc.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "starting", Starting.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopping", Stopping.String())
}
