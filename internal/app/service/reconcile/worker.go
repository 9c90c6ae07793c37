package reconcile

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/internal/app/apperr"
)

// Handler is implemented by Reconciler.
type Handler interface {
	HandleGatewayEvent(ctx context.Context, raw RawEvent) (Result, error)
}

type reply struct {
	res Result
	err error
}

type job struct {
	ctx  context.Context
	raw  RawEvent
	done chan reply
}

// Worker is a bounded pool in front of a Handler. Webhook requests wait for
// their own event; when the queue is full they fail fast with a retryable
// error so the gateway redelivers later.
type Worker struct {
	handler Handler
	workers int
	jobs    chan job
	log     *zap.SugaredLogger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewWorker(h Handler, log *zap.SugaredLogger, workers, queueSize int) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Worker{handler: h, workers: workers, jobs: make(chan job, queueSize), log: log}
}

func (w *Worker) Start() {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for j := range w.jobs {
				w.run(j)
			}
		}()
	}
}

func (w *Worker) run(j job) {
	defer func() {
		if p := recover(); p != nil {
			w.log.Errorw("reconcile worker panic", "panic", p, "source", j.raw.Source)
			j.done <- reply{err: fmt.Errorf("%w: worker panic", apperr.ErrTransientStorage)}
		}
	}()
	if err := j.ctx.Err(); err != nil {
		j.done <- reply{err: fmt.Errorf("%w: %v", apperr.ErrTransientStorage, err)}
		return
	}
	res, err := w.handler.HandleGatewayEvent(j.ctx, j.raw)
	j.done <- reply{res: res, err: err}
}

// Stop rejects new submissions and waits for queued events to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
}

// Submit queues raw and waits for its result or ctx.
func (w *Worker) Submit(ctx context.Context, raw RawEvent) (Result, error) {
	j := job{ctx: ctx, raw: raw, done: make(chan reply, 1)}

	w.mu.RLock()
	if w.stopped {
		w.mu.RUnlock()
		return Result{}, fmt.Errorf("%w: reconcile worker stopped", apperr.ErrTransientStorage)
	}
	select {
	case w.jobs <- j:
		w.mu.RUnlock()
	default:
		w.mu.RUnlock()
		return Result{}, fmt.Errorf("%w: reconcile queue full", apperr.ErrTransientStorage)
	}

	select {
	case r := <-j.done:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", apperr.ErrTransientStorage, ctx.Err())
	}
}
