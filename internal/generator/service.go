// Package generator runs the polling loop that feeds trade events from an
// event source into the candle aggregator.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/0xc0d3d00d/swapcandles/internal/aggregator"
	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/0xc0d3d00d/swapcandles/internal/metrics"
	"github.com/0xc0d3d00d/swapcandles/internal/retry"
	"golang.org/x/sync/errgroup"
)

// EventSource returns the trades of pair with sequence id above since, in
// (occurredAt, sequenceID) order.
type EventSource interface {
	Poll(ctx context.Context, pair string, since uint64) ([]domain.TradeEvent, error)
}

type CandleStore interface {
	aggregator.CandleStore
	LoadLastKnownBucket(ctx context.Context, pair string, tf domain.Timeframe) (*domain.Candle, error)
}

type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

type Options struct {
	Source       EventSource
	Store        CandleStore
	Pairs        []string
	PollInterval time.Duration
	// Concurrency bounds how many pairs are polled in parallel.
	Concurrency int
	// Retry is the policy for every source poll and store call.
	Retry       retry.Caller
	WarmRestart bool
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Run is one start-to-stop lifetime of the service.
type Run struct {
	done chan struct{}
	err  error
}

func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends. The error is nil after a requested stop.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

type Service struct {
	source       EventSource
	store        CandleStore
	agg          *aggregator.Aggregator
	pairs        []string
	pollInterval time.Duration
	concurrency  int
	pollRetry    retry.Caller
	loadRetry    retry.Caller
	warmRestart  bool
	metrics      *metrics.Metrics
	logger       *slog.Logger

	mu    sync.Mutex
	state State
	run   *Run
	stop  context.CancelFunc
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	s := &Service{
		source:       opts.Source,
		store:        opts.Store,
		pairs:        opts.Pairs,
		pollInterval: pollInterval,
		concurrency:  concurrency,
		warmRestart:  opts.WarmRestart,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "generator"),
	}

	s.pollRetry = s.instrument(opts.Retry, "poll")
	s.loadRetry = s.instrument(opts.Retry, "load")
	s.agg = aggregator.New(opts.Store, s.instrument(opts.Retry, "flush"), logger)
	if s.metrics != nil {
		s.agg.OnFlush = func(c domain.Candle, err error) {
			if err != nil {
				s.metrics.FlushFailures.WithLabelValues(c.Timeframe.String()).Inc()
				return
			}
			s.metrics.CandlesFlushed.WithLabelValues(c.Timeframe.String()).Inc()
		}
		s.agg.OnLateTrade = func(_ domain.TradeEvent, tf domain.Timeframe) {
			s.metrics.LateTrades.WithLabelValues(tf.String()).Inc()
		}
	}
	return s
}

func (s *Service) instrument(c retry.Caller, operation string) retry.Caller {
	c.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("retrying", "operation", operation, "attempt", attempt, "wait", wait, "error", err)
		if s.metrics != nil {
			s.metrics.RetryAttempts.WithLabelValues(operation).Inc()
		}
	}
	return c
}

// Aggregator exposes the working set for read-only snapshots.
func (s *Service) Aggregator() *aggregator.Aggregator {
	return s.agg
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether the polling loop is running.
func (s *Service) Ready() bool {
	return s.State() == Running
}

// Start launches the polling loop. If a run is already in progress it is
// returned unchanged.
func (s *Service) Start(ctx context.Context) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Stopped {
		return s.run
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{done: make(chan struct{})}
	s.run = run
	s.stop = cancel
	s.setState(Starting)

	go s.loop(runCtx, run)
	return run
}

// Stop asks the loop to exit at its next suspension point. The current poll
// and any in-flight flush complete first. Safe to call from a signal handler.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Stopped || s.state == Stopping {
		return
	}
	s.setState(Stopping)
	s.stop()
}

// setState must be called with s.mu held.
func (s *Service) setState(state State) {
	s.state = state
	if s.metrics != nil {
		s.metrics.ServiceState.Set(float64(state))
	}
}

func (s *Service) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.setState(to)
	return true
}

func (s *Service) loop(ctx context.Context, run *Run) {
	defer func() {
		s.mu.Lock()
		s.setState(Stopped)
		s.stop()
		s.mu.Unlock()
		close(run.done)
	}()

	if err := s.setup(ctx); err != nil {
		if ctx.Err() == nil {
			run.err = fmt.Errorf("startup: %w", err)
			s.logger.ErrorContext(ctx, "startup failed", "error", err)
		}
		return
	}

	if !s.transition(Starting, Running) {
		return
	}
	s.logger.InfoContext(ctx, "candle generator running",
		"pairs", len(s.pairs), "poll_interval", s.pollInterval, "concurrency", s.concurrency)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "candle generator stopped")
			return
		case <-timer.C:
		}

		if err := s.pollOnce(ctx); err != nil {
			run.err = err
			s.logger.ErrorContext(ctx, "invariant violation, stopping candle generator", "error", err)
			return
		}

		timer.Reset(s.pollInterval)
	}
}

// setup seeds the aggregator from the last persisted candles so that a
// restart replays open buckets without re-counting closed ones.
func (s *Service) setup(ctx context.Context) error {
	if !s.warmRestart {
		return nil
	}

	for _, pair := range s.pairs {
		since := uint64(math.MaxUint64)
		complete := true

		for _, tf := range domain.Timeframes {
			last, err := retry.Execute(ctx, s.loadRetry, func(ctx context.Context) (*domain.Candle, error) {
				c, err := s.store.LoadLastKnownBucket(ctx, pair, tf)
				if errors.Is(err, domain.ErrNotFound) {
					return nil, nil
				}
				return c, err
			})
			if err != nil {
				return fmt.Errorf("load last known bucket pair=%s timeframe=%s: %w", pair, tf, err)
			}
			if last == nil {
				complete = false
				continue
			}

			s.agg.Resume(last)
			since = min(since, last.LastSequenceID)
		}

		if complete {
			s.agg.SetLastSeen(pair, since)
		}
		s.logger.InfoContext(ctx, "resumed pair", "pair", pair, "since_sequence_id", since, "complete", complete)
	}
	return nil
}

// pollOnce polls every pair once. Only an invariant violation is returned.
func (s *Service) pollOnce(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, pair := range s.pairs {
		g.Go(func() error {
			return s.pollPair(gCtx, pair)
		})
	}

	err := g.Wait()
	if s.metrics != nil {
		s.metrics.OpenCandles.Set(float64(s.agg.OpenCount()))
	}
	return err
}

func (s *Service) pollPair(ctx context.Context, pair string) error {
	since, _ := s.agg.LastSeen(pair)

	start := time.Now()
	events, err := retry.Execute(ctx, s.pollRetry, func(ctx context.Context) ([]domain.TradeEvent, error) {
		return s.source.Poll(ctx, pair, since)
	})
	if s.metrics != nil {
		s.metrics.PollDuration.WithLabelValues(pair).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.ErrorContext(ctx, "poll failed", "pair", pair, "since_sequence_id", since, "error", err)
		if s.metrics != nil {
			s.metrics.PollFailures.WithLabelValues(pair).Inc()
		}
		return nil
	}

	if s.metrics != nil {
		s.metrics.EventsPolled.WithLabelValues(pair).Add(float64(len(events)))
	}

	for _, e := range events {
		outcome, err := s.agg.ApplyTrade(ctx, e)

		var ordering *aggregator.OrderingError
		var flushErr *aggregator.FlushError
		switch {
		case errors.As(err, &ordering):
			return err
		case errors.Is(err, domain.ErrMalformedNumericInput):
			s.logger.WarnContext(ctx, "rejected malformed trade", "pair", e.Pair, "sequence_id", e.SequenceID, "error", err)
			if s.metrics != nil {
				s.metrics.MalformedTrades.Inc()
			}
			continue
		case errors.As(err, &flushErr):
			// reported by the aggregator, the trade itself was applied
		case err != nil:
			s.logger.ErrorContext(ctx, "apply trade failed", "pair", e.Pair, "sequence_id", e.SequenceID, "error", err)
			continue
		}

		if s.metrics != nil {
			s.metrics.TradesApplied.WithLabelValues(outcome.String()).Inc()
		}
	}
	return nil
}
