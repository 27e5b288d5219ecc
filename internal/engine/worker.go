// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DefaultQueueSize is the number of requests that may wait for the worker.
const DefaultQueueSize = 16

// Resolver is what the worker executes.
type Resolver interface {
	Resolve(ctx context.Context, req Request) Answer
}

type job struct {
	ctx context.Context
	req Request
	out chan Answer
}

// Worker executes requests one at a time on a single goroutine.
type Worker struct {
	resolver Resolver
	jobs     chan job
	stop     chan struct{}
	wg       sync.WaitGroup
	logger   *zap.Logger

	mu      sync.RWMutex
	stopped bool
}

// NewWorker starts a worker. queueSize <= 0 uses DefaultQueueSize.
func NewWorker(r Resolver, queueSize int, logger *zap.Logger) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		resolver: r,
		jobs:     make(chan job, queueSize),
		stop:     make(chan struct{}),
		logger:   logger,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Submit queues req and returns a channel that receives exactly one Answer
// and is then closed. If the worker is closed, or ctx ends before the
// request is queued or started, the channel is closed without a value.
func (w *Worker) Submit(ctx context.Context, req Request) <-chan Answer {
	out := make(chan Answer, 1)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		close(out)
		return out
	}

	select {
	case w.jobs <- job{ctx: ctx, req: req, out: out}:
	case <-ctx.Done():
		close(out)
	}
	return out
}

// Pending returns the number of queued requests.
func (w *Worker) Pending() int {
	return len(w.jobs)
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case j := <-w.jobs:
			w.run(j)
		case <-w.stop:
			// Every accepted request is answered before exit.
			for {
				select {
				case j := <-w.jobs:
					w.run(j)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) run(j job) {
	defer close(j.out)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("resolve panic", zap.Any("panic", r), zap.String("request_id", j.req.RequestID))
		}
	}()
	if j.ctx.Err() != nil {
		return
	}
	j.out <- w.resolver.Resolve(j.ctx, j.req)
}

// Close stops accepting requests, answers the queued ones and waits for
// the worker goroutine to exit. It is safe to call more than once.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.wg.Wait()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()
}
