// Package scheduler drives time-based transitions: invoices past their due
// date and subscriptions whose paid, trial or grace period has ended.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fatflowers/invoicing/internal/app/service/invoice"
	"github.com/fatflowers/invoicing/internal/app/service/subscription"
	"github.com/fatflowers/invoicing/pkg/config"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/metrics"
)

const defaultBatchSize = 500

type Result struct {
	Invoices      invoice.SweepResult      `json:"invoices"`
	Subscriptions subscription.SweepResult `json:"subscriptions"`
}

type Sweeper struct {
	invoices      *invoice.Service
	subscriptions *subscription.Service
	batchSize     int
	log           *zap.SugaredLogger
}

func NewSweeper(cfg *config.Config, invoices *invoice.Service, subs *subscription.Service, log *zap.SugaredLogger) *Sweeper {
	batch := cfg.Scheduler.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Sweeper{invoices: invoices, subscriptions: subs, batchSize: batch, log: log}
}

// Sweep runs both sweeps concurrently against the same instant. Entities
// are moved one transaction each, so a failing row only shows up in the
// Failed count; the returned error is reserved for listing failures and
// cancellation.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	defer metrics.ObserveProcess("scheduler", "sweep", time.Now())

	var res Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.invoices.SweepOverdue(gctx, now, s.batchSize)
		res.Invoices = r
		return err
	})
	g.Go(func() error {
		r, err := s.subscriptions.SweepPeriods(gctx, now, s.batchSize)
		res.Subscriptions = r
		return err
	})
	err := g.Wait()

	l := logctx.FromCtx(ctx, s.log)
	if err != nil {
		l.Errorw("sweep failed", "now", now, "result", res, "err", err)
		return res, err
	}
	if res.Invoices.Moved > 0 || res.Subscriptions.Moved > 0 || res.Invoices.Failed > 0 || res.Subscriptions.Failed > 0 {
		l.Infow("sweep finished", "now", now, "result", res)
	}
	return res, nil
}
