package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Local runs units on goroutines, at most concurrency at a time. It is used
// when no Redis is configured and in tests.
type Local struct {
	ctx context.Context
	q   *Queue
	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	pending map[string]bool
}

// NewLocal runs units under ctx, which outlives the submitting call.
func NewLocal(ctx context.Context, q *Queue, concurrency int) *Local {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Local{
		ctx:     ctx,
		q:       q,
		sem:     make(chan struct{}, concurrency),
		pending: make(map[string]bool),
	}
}

func (l *Local) Submit(ctx context.Context, payload DispatchPayload) error {
	key := payload.key()

	l.mu.Lock()
	if l.pending[key] {
		l.mu.Unlock()
		return nil
	}
	l.pending[key] = true
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.pending, key)
			l.mu.Unlock()
		}()

		select {
		case l.sem <- struct{}{}:
		case <-l.ctx.Done():
			return
		}
		defer func() { <-l.sem }()

		if err := l.q.Run(l.ctx, payload); err != nil {
			slog.Error(err.Error())
		}
	}()
	return nil
}

// Wait blocks until every submitted unit has finished.
func (l *Local) Wait() {
	l.wg.Wait()
}
