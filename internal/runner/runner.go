// Package runner executes batches of independent units of work with bounded
// parallelism, progress reporting and first-error-wins cancellation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hse-launcher/instance-builder/internal/progress"
)

// ErrNoErrorRecorded reports a batch that was cancelled without any unit failing.
var ErrNoErrorRecorded = errors.New("tasks cancelled but no error was recorded")

// Task is one unit of work. It receives the context given to Run, so a
// failing sibling never cancels it.
type Task[T any] func(ctx context.Context) (T, error)

// Run executes tasks with at most maxConcurrent running at once and returns
// their results in submission order, or the first error observed.
//
// A unit that is admitted after another unit failed does no work. Units
// already running are never interrupted; Run waits for them before returning.
// bar.Finish is called exactly once.
func Run[T any](ctx context.Context, tasks []Task[T], bar progress.ProgressBar, total int64, maxConcurrent int) ([]T, error) {
	if bar == nil {
		bar = progress.NoProgressBar{}
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	bar.SetLength(total)
	defer bar.Finish()

	var (
		mu       sync.Mutex
		firstErr error
		results  = make([]T, len(tasks))
		done     = make([]bool, len(tasks))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		// Go blocks until a slot is free.
		g.Go(func() error {
			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed || gctx.Err() != nil {
				return nil
			}

			// gctx only gates admission; running units finish their work.
			res, err := task(ctx)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return err
			}

			bar.Inc(1)
			results[i] = res
			done[i] = true
			return nil
		})
	}

	// errgroup keeps the first error too; ours is the authoritative copy.
	_ = g.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	for i := range done {
		if !done[i] {
			if cause := context.Cause(ctx); cause != nil {
				return nil, fmt.Errorf("%w: %w", ErrNoErrorRecorded, cause)
			}
			return nil, ErrNoErrorRecorded
		}
	}
	return results, nil
}

// RunFuncs runs tasks that produce no value.
func RunFuncs(ctx context.Context, tasks []func(ctx context.Context) error, bar progress.ProgressBar, maxConcurrent int) error {
	wrapped := make([]Task[struct{}], len(tasks))
	for i, fn := range tasks {
		wrapped[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		}
	}
	_, err := Run(ctx, wrapped, bar, int64(len(tasks)), maxConcurrent)
	return err
}
