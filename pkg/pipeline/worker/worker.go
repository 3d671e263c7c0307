package worker

import (
	"context"
	"sync"
)

type Options struct {
	// Workers is the number of goroutines processing items. It bounds concurrency
	// independently of any rate limit the processor applies. Defaults to 10.
	Workers int
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	// Index is the position of Input in the original item slice.
	Index  int
	Input  In
	Output Out
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 10
	}
	return o
}

// ProcessAll runs the processor over all input items and returns the completed results
// in input order.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) Out,
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, processor, nil, opts)
}

// ProcessAllWithCallback runs the processor over all input items and invokes onResult
// as each item completes. The callback receives completion-order results and is never
// called concurrently.
//
// When ctx is cancelled no further items are dispatched. Items already handed to a
// worker still complete and reach the callback before ProcessAllWithCallback returns
// ctx's error. A callback error stops dispatch in the same way and is returned.
//
// The returned slice holds every completed result in input order, also on error.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) Out,
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	out := make([]Result[In, Out], len(items))
	completed := make([]bool, len(items))

	type job struct {
		idx int
		in  In
	}

	jobs := make(chan job)
	done := make(chan Result[In, Out], opts.Workers)

	var wg sync.WaitGroup
	workerFn := func() {
		defer wg.Done()
		for j := range jobs {
			if dispatchCtx.Err() != nil {
				// Received after dispatch stopped; treat as never started.
				continue
			}
			done <- Result[In, Out]{
				Index:  j.idx,
				Input:  j.in,
				Output: processor(ctx, j.in),
			}
		}
	}

	workers := opts.Workers
	if workers > len(items) {
		workers = len(items)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go workerFn()
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- job{idx: i, in: item}:
			case <-dispatchCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	var firstErr error
	for res := range done {
		out[res.Index] = res
		completed[res.Index] = true
		if onResult == nil {
			continue
		}
		if err := onResult(res); err != nil && firstErr == nil {
			firstErr = err
			stopDispatch()
		}
	}

	results := make([]Result[In, Out], 0, len(items))
	for i := range out {
		if completed[i] {
			results = append(results, out[i])
		}
	}

	if firstErr != nil {
		return results, firstErr
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
