package effects

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/pkg/config"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/metrics"
)

type job struct {
	ctx context.Context
	req Request
}

// Dispatcher hands requests to a Notifier from a fixed pool of goroutines.
// With zero workers it delivers inline, which tests rely on for ordering.
type Dispatcher struct {
	notifier Notifier
	log      *zap.SugaredLogger
	workers  int
	queue    chan job
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewDispatcher(notifier Notifier, log *zap.SugaredLogger, workers, queueSize int) *Dispatcher {
	d := &Dispatcher{notifier: notifier, log: log, workers: workers}
	if workers > 0 {
		if queueSize <= 0 {
			queueSize = workers
		}
		d.queue = make(chan job, queueSize)
	}
	return d
}

// NewSyncDispatcher delivers every request before Dispatch returns.
func NewSyncDispatcher(notifier Notifier, log *zap.SugaredLogger) *Dispatcher {
	return NewDispatcher(notifier, log, 0, 0)
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.queue {
				d.deliver(j.ctx, j.req)
			}
		}()
	}
}

// Stop drains queued requests and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		if d.queue != nil {
			close(d.queue)
		}
	})
	d.wg.Wait()
}

// Dispatch never blocks on delivery. The request context is detached from
// cancellation so a finished HTTP request does not abort its emails.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs ...Request) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range reqs {
		if d.queue == nil {
			d.deliver(ctx, r)
			continue
		}
		select {
		case d.queue <- job{ctx: ctx, req: r}:
		default:
			logctx.FromCtx(ctx, d.log).Warnw("effect queue full, delivering out of band", "kind", r.Kind)
			d.wg.Add(1)
			go func(r Request) {
				defer d.wg.Done()
				d.deliver(ctx, r)
			}(r)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, r Request) {
	if err := d.notifier.Notify(ctx, r); err != nil {
		metrics.EffectDispatched(string(r.Kind), "error")
		logctx.FromCtx(ctx, d.log).Errorw("effect delivery failed", "kind", r.Kind, "recipient", r.Recipient, "err", err)
		return
	}
	metrics.EffectDispatched(string(r.Kind), "ok")
}

func newDispatcher(lc fx.Lifecycle, n Notifier, log *zap.SugaredLogger, cfg *config.Config) *Dispatcher {
	d := NewDispatcher(n, log, cfg.Effects.Workers, cfg.Effects.QueueSize)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			d.Stop()
			return nil
		},
	})
	return d
}

var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewLogNotifier, fx.As(new(Notifier))),
		newDispatcher,
		func(d *Dispatcher) Sink { return d },
	),
)
