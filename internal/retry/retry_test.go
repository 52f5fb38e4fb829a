package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantTimer fires immediately and records every requested wait.
type instantTimer struct {
	mu    sync.Mutex
	ch    chan time.Time
	waits []time.Duration
}

func newInstantTimer() *instantTimer {
	return &instantTimer{ch: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	t.ch <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.ch }

var errFlaky = errors.New("flaky")

func TestExecuteSucceedsAfterFailures(t *testing.T) {
	timer := newInstantTimer()
	c := New(3, time.Second)
	c.timer = timer

	calls := 0
	got, err := Execute(context.Background(), c, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errFlaky
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.waits)
}

func TestExecuteExhausted(t *testing.T) {
	timer := newInstantTimer()
	c := New(4, 100*time.Millisecond)
	c.timer = timer

	var retried []int
	c.OnRetry = func(attempt int, err error, wait time.Duration) {
		retried = append(retried, attempt)
		assert.ErrorIs(t, err, errFlaky)
	}

	calls := 0
	err := c.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errFlaky)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, retried)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, timer.waits)
}

func TestExecuteSingleAttempt(t *testing.T) {
	timer := newInstantTimer()
	c := New(0, time.Second)
	c.timer = timer

	calls := 0
	err := c.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.waits)
}

func TestExecutePermanent(t *testing.T) {
	timer := newInstantTimer()
	c := New(5, time.Second)
	c.timer = timer

	calls := 0
	err := c.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errFlaky)
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.waits)
}

func TestExecuteCancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(3, time.Hour)

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- c.Do(ctx, func(context.Context) error {
			calls++
			return errFlaky
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, errFlaky)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("backoff wait did not honour cancellation")
	}
}

func TestExecuteAttemptSurvivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(1, time.Second).Do(ctx, func(opCtx context.Context) error {
		return opCtx.Err()
	})
	assert.NoError(t, err)
}

func TestExecuteAttemptTimeout(t *testing.T) {
	c := New(1, time.Second)
	c.AttemptTimeout = 10 * time.Millisecond

	err := c.Do(context.Background(), func(opCtx context.Context) error {
		<-opCtx.Done()
		return opCtx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}
