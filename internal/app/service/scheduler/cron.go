package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/pkg/config"
)

const defaultRunTimeout = 5 * time.Minute

// Scheduler runs the Sweeper on the configured cron spec. Overlapping runs
// are skipped rather than queued.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	timeout time.Duration
	now     func() time.Time
	log     *zap.SugaredLogger
}

func NewScheduler(cfg *config.Config, sweeper *Sweeper, log *zap.SugaredLogger) (*Scheduler, error) {
	timeout := cfg.Scheduler.Timeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		sweeper: sweeper,
		timeout: timeout,
		now:     time.Now,
		log:     log,
	}
	if _, err := s.cron.AddFunc(cfg.Scheduler.CronSpec, s.Run); err != nil {
		return nil, fmt.Errorf("scheduler.cron_spec %q: %w", cfg.Scheduler.CronSpec, err)
	}
	return s, nil
}

// Run performs one bounded sweep. It is the cron job body and is also
// usable on its own.
func (s *Scheduler) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.sweeper.Sweep(ctx, s.now().UTC()); err != nil {
		s.log.Warnw("scheduled sweep did not complete", "err", err)
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the cron and waits for a running sweep until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct{ log *zap.SugaredLogger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorw("cron: "+msg, append(keysAndValues, "err", err)...)
}

func runScheduler(lc fx.Lifecycle, cfg *config.Config, sweeper *Sweeper, log *zap.SugaredLogger) error {
	if !cfg.Scheduler.Enabled {
		log.Infow("scheduler disabled")
		return nil
	}
	s, err := NewScheduler(cfg, sweeper, log)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting scheduler", "spec", cfg.Scheduler.CronSpec, "timeout", s.timeout)
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping scheduler")
			return s.Stop(ctx)
		},
	})
	return nil
}

var Module = fx.Options(
	fx.Provide(NewSweeper),
	fx.Invoke(runScheduler),
)
