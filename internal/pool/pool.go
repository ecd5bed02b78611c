// Package pool runs batches of independent jobs with bounded concurrency,
// collecting per-job results in submission order.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job produces a value or fails. Jobs in a batch never see each other's
// failures and are never cancelled by a sibling.
type Job[T any] func(ctx context.Context) (T, error)

// Result is one slot of a batch result, index-aligned with the input jobs.
type Result[T any] struct {
	Value T
	Err   error
}

// Executor is the scheduling strategy for a batch. Implementations must call
// fn exactly once for every index in [0,n) and return only after all calls
// have finished.
type Executor interface {
	Run(ctx context.Context, n, maxWorkers int, fn func(ctx context.Context, i int))
}

// Parallel runs jobs across up to maxWorkers goroutines.
type Parallel struct{}

func (Parallel) Run(ctx context.Context, n, maxWorkers int, fn func(ctx context.Context, i int)) {
	if n == 0 {
		return
	}
	workers := maxWorkers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		Serial{}.Run(ctx, n, 1, fn)
		return
	}

	// A bare errgroup (not WithContext) so one job's outcome never cancels
	// its siblings.
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

// Serial runs jobs one at a time in submission order. Useful for
// deterministic debugging.
type Serial struct{}

func (Serial) Run(ctx context.Context, n, _ int, fn func(ctx context.Context, i int)) {
	for i := 0; i < n; i++ {
		fn(ctx, i)
	}
}

// FromConfig resolves the configured executor name once at startup.
func FromConfig(name string) Executor {
	if name == "serial" {
		return Serial{}
	}
	return Parallel{}
}

// Collect runs every job through the executor and returns one result slot per
// job, result[i] corresponding to jobs[i] regardless of completion order. A
// failed job records its error at its slot; the batch always completes.
func Collect[T any](ctx context.Context, ex Executor, jobs []Job[T], maxWorkers int) []Result[T] {
	results := make([]Result[T], len(jobs))
	ex.Run(ctx, len(jobs), maxWorkers, func(ctx context.Context, i int) {
		v, err := jobs[i](ctx)
		results[i] = Result[T]{Value: v, Err: err}
	})
	return results
}
