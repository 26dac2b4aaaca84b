package parallel

import (
	"context"
	"sync"
	"sync/atomic"
)

// FrontierItem is a unit of work fed into a FrontierPool. Processing
// an item may discover zero or more successor items, which are
// pushed back onto the same queue.
type FrontierItem any

// FrontierPool runs a growing frontier of work to exhaustion: unlike
// WorkerPool, the set of items to process is not known up front —
// each processed item can enqueue more. It terminates when the queue
// is empty and every worker is idle.
//
// SessionFactory is called once per worker (at N=1, exactly once, and
// that one session is reused for every item) so that per-goroutine
// database sessions are never shared across workers.
type FrontierPool[S any] struct {
	workers        int
	sessionFactory func(ctx context.Context) (S, error)
	process        func(ctx context.Context, session S, item FrontierItem, push func(FrontierItem)) error
}

// NewFrontierPool creates a FrontierPool with the given worker count,
// a factory that produces one session per worker, and a processing
// function invoked once per queued item.
func NewFrontierPool[S any](
	workers int,
	sessionFactory func(ctx context.Context) (S, error),
	process func(ctx context.Context, session S, item FrontierItem, push func(FrontierItem)) error,
) *FrontierPool[S] {
	if workers < 1 {
		workers = 1
	}
	return &FrontierPool[S]{workers: workers, sessionFactory: sessionFactory, process: process}
}

// Run drains seed and every item it transitively discovers. It
// returns the first error encountered; once an error is recorded,
// remaining queued items are drained without being processed.
func (p *FrontierPool[S]) Run(ctx context.Context, seed []FrontierItem) error {
	if len(seed) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.workers == 1 {
		return p.runSingle(ctx, seed)
	}

	queue := make(chan FrontierItem, len(seed)*4+p.workers)
	for _, item := range seed {
		queue <- item
	}

	var inFlight atomic.Int64
	inFlight.Add(int64(len(seed)))

	var errOnce sync.Once
	var firstErr error
	recordErr := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	var doneOnce sync.Once
	finish := func() { doneOnce.Do(func() { close(done) }) }

	push := func(item FrontierItem) {
		inFlight.Add(1)
		select {
		case queue <- item:
		case <-ctx.Done():
			inFlight.Add(-1)
		default:
			// Queue full: hand the send off so this worker keeps draining.
			go func() {
				select {
				case queue <- item:
				case <-ctx.Done():
					if inFlight.Add(-1) == 0 {
						finish()
					}
				}
			}()
		}
	}

	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := p.sessionFactory(ctx)
			if err != nil {
				recordErr(err)
				return
			}

			for {
				select {
				case <-done:
					return
				case item, ok := <-queue:
					if !ok {
						return
					}
					if ctx.Err() == nil {
						if err := p.process(ctx, session, item, push); err != nil {
							recordErr(err)
						}
					}
					if inFlight.Add(-1) == 0 {
						finish()
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(queue)

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// runSingle is the N=1 fast path: no session factory call per task,
// the caller's single session is created once and reused for every
// item in the frontier.
func (p *FrontierPool[S]) runSingle(ctx context.Context, seed []FrontierItem) error {
	session, err := p.sessionFactory(ctx)
	if err != nil {
		return err
	}

	queue := append([]FrontierItem{}, seed...)
	push := func(item FrontierItem) {
		queue = append(queue, item)
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := queue[0]
		queue = queue[1:]
		if err := p.process(ctx, session, item, push); err != nil {
			return err
		}
	}
	return nil
}
