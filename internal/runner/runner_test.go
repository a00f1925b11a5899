package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hse-launcher/instance-builder/internal/progress"
)

type countingBar struct {
	progress.NoProgressBar
	length   atomic.Int64
	incs     atomic.Int64
	finishes atomic.Int64
}

func (b *countingBar) SetLength(n int64) { b.length.Store(n) }
func (b *countingBar) Inc(n int64)       { b.incs.Add(n) }
func (b *countingBar) Finish()           { b.finishes.Add(1) }

func TestRunPreservesSubmissionOrder(t *testing.T) {
	var tasks []Task[int]
	for i := 0; i < 10; i++ {
		tasks = append(tasks, func(ctx context.Context) (int, error) {
			// later tasks finish first
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return i * i, nil
		})
	}
	bar := &countingBar{}

	results, err := Run(context.Background(), tasks, bar, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4, 9, 16, 25, 36, 49, 64, 81}, results)
	assert.Equal(t, int64(10), bar.length.Load())
	assert.Equal(t, int64(10), bar.incs.Load())
	assert.Equal(t, int64(1), bar.finishes.Load())
}

func TestRunRespectsConcurrencyBound(t *testing.T) {
	const bound = 3
	var running, peak atomic.Int32

	var tasks []Task[struct{}]
	for i := 0; i < 20; i++ {
		tasks = append(tasks, func(ctx context.Context) (struct{}, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
			return struct{}{}, nil
		})
	}

	_, err := Run(context.Background(), tasks, nil, 20, bound)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(bound))
	assert.Positive(t, peak.Load())
}

func TestRunFailFast(t *testing.T) {
	errUnit3 := errors.New("unit 3 failed")
	var ran [5]atomic.Bool
	var firstTwo sync.WaitGroup
	firstTwo.Add(2)
	unit3Returned := make(chan struct{})

	tasks := []Task[int]{
		func(ctx context.Context) (int, error) { ran[0].Store(true); firstTwo.Done(); return 1, nil },
		func(ctx context.Context) (int, error) { ran[1].Store(true); firstTwo.Done(); return 2, nil },
		func(ctx context.Context) (int, error) {
			firstTwo.Wait()
			ran[2].Store(true)
			close(unit3Returned)
			return 0, errUnit3
		},
		func(ctx context.Context) (int, error) {
			// Holds its slot until unit 3 has failed so unit 5 is only
			// admitted afterwards.
			ran[3].Store(true)
			<-unit3Returned
			time.Sleep(20 * time.Millisecond)
			return 4, nil
		},
		func(ctx context.Context) (int, error) { ran[4].Store(true); return 5, nil },
	}
	bar := &countingBar{}

	results, err := Run(context.Background(), tasks, bar, 5, 2)
	require.ErrorIs(t, err, errUnit3)
	assert.Nil(t, results)
	assert.True(t, ran[0].Load())
	assert.True(t, ran[1].Load())
	assert.True(t, ran[2].Load())
	assert.False(t, ran[4].Load(), "a unit admitted after the failure must not run")
	assert.Equal(t, int64(1), bar.finishes.Load())
}

func TestRunOnlyFirstErrorWins(t *testing.T) {
	first := errors.New("first")
	firstReturned := make(chan struct{})

	tasks := []Task[int]{
		func(ctx context.Context) (int, error) {
			close(firstReturned)
			return 0, first
		},
		func(ctx context.Context) (int, error) {
			<-firstReturned
			time.Sleep(20 * time.Millisecond)
			return 0, errors.New("second")
		},
	}

	_, err := Run(context.Background(), tasks, nil, 2, 2)
	assert.ErrorIs(t, err, first)
}

func TestRunDoesNotInterruptRunningUnits(t *testing.T) {
	errBoom := errors.New("boom")
	var started, completed atomic.Bool

	tasks := []Task[int]{
		func(ctx context.Context) (int, error) {
			started.Store(true)
			select {
			case <-time.After(100 * time.Millisecond):
				completed.Store(true)
				return 1, nil
			case <-ctx.Done():
				return 0, fmt.Errorf("interrupted: %w", ctx.Err())
			}
		},
		func(ctx context.Context) (int, error) {
			time.Sleep(10 * time.Millisecond)
			return 0, errBoom
		},
	}
	bar := &countingBar{}

	_, err := Run(context.Background(), tasks, bar, 2, 2)
	require.ErrorIs(t, err, errBoom)
	assert.True(t, started.Load())
	assert.True(t, completed.Load(), "running unit must finish after a sibling fails")
	assert.Equal(t, int64(1), bar.incs.Load())
	assert.Equal(t, int64(1), bar.finishes.Load())
}

func TestRunCancelledWithoutError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []Task[int]{
		func(ctx context.Context) (int, error) { return 1, nil },
	}
	bar := &countingBar{}

	_, err := Run(ctx, tasks, bar, 1, 1)
	require.ErrorIs(t, err, ErrNoErrorRecorded)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), bar.finishes.Load())
}

func TestRunEmpty(t *testing.T) {
	bar := &countingBar{}
	results, err := Run[int](context.Background(), nil, bar, 0, 4)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int64(1), bar.finishes.Load())
}

func TestRunFuncs(t *testing.T) {
	var count atomic.Int32
	tasks := make([]func(context.Context) error, 7)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			count.Add(1)
			return nil
		}
	}
	require.NoError(t, RunFuncs(context.Background(), tasks, nil, 0))
	assert.Equal(t, int32(7), count.Load())
}
