package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/effects"
	"github.com/fatflowers/invoicing/internal/app/service/invoice"
	"github.com/fatflowers/invoicing/internal/app/service/ledger"
	"github.com/fatflowers/invoicing/internal/app/service/subscription"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/internal/platform/db/dbtest"
	"github.com/fatflowers/invoicing/pkg/config"
	"github.com/fatflowers/invoicing/pkg/types"
)

type fixture struct {
	sweeper  *Sweeper
	invoices *invoice.Service
	subs     *subscription.Service
	notifier *effects.MemoryNotifier
	clock    *time.Time
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	gdb := dbtest.New(t)
	n := &effects.MemoryNotifier{}
	store := ledger.NewStore(gdb, effects.NewSyncDispatcher(n, log), log)
	rec := activity.NewRecorder(gdb, log)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f := &fixture{notifier: n, clock: &now}
	clock := func() time.Time { return *f.clock }
	f.invoices = invoice.NewService(store, rec, log).WithClock(clock)
	f.subs = subscription.NewService(cfg, store, rec, log).WithClock(clock)
	f.sweeper = NewSweeper(cfg, f.invoices, f.subs, log)

	require.NoError(t, gdb.Create(&models.Tenant{ID: "t1", Email: "t1@tenant.test", Name: "t1"}).Error)
	require.NoError(t, store.InTx(context.Background(), func(tx *ledger.Tx) error {
		_, err := f.subs.CreateTx(context.Background(), tx, "t1", "t1")
		return err
	}))
	return f
}

func testConfig() *config.Config {
	return &config.Config{
		Billing:   config.BillingConfig{TrialDuration: 7 * 24 * time.Hour},
		Scheduler: config.SchedulerConfig{Enabled: true, CronSpec: "@every 1m", BatchSize: 10},
	}
}

func TestSweep_MovesOverdueInvoicesAndElapsedTrials(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	due := f.clock.Add(24 * time.Hour)
	inv, err := f.invoices.Create(ctx, "t1", "t1", &invoice.CreateRequest{
		Number:      "INV-1",
		ClientName:  "Acme",
		ClientEmail: "billing@acme.test",
		Currency:    "usd",
		DueDate:     &due,
		Items:       []models.InvoiceItem{{Description: "work", Quantity: 1, UnitPrice: 5000}},
	})
	require.NoError(t, err)
	_, err = f.invoices.Act(ctx, "t1", inv.ID, types.InvoiceActionSend, "t1")
	require.NoError(t, err)
	_, err = f.subs.Act(ctx, "t1", types.SubscriptionActionStartTrial, "t1")
	require.NoError(t, err)

	res, err := f.sweeper.Sweep(ctx, *f.clock)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)

	*f.clock = f.clock.Add(8 * 24 * time.Hour)
	res, err = f.sweeper.Sweep(ctx, *f.clock)
	require.NoError(t, err)
	require.Equal(t, invoice.SweepResult{Scanned: 1, Moved: 1}, res.Invoices)
	require.Equal(t, subscription.SweepResult{Scanned: 1, Moved: 1}, res.Subscriptions)
	require.Equal(t, 1, f.notifier.Count(types.EffectOverdueNotice))

	// a second run finds nothing left to move
	res, err = f.sweeper.Sweep(ctx, *f.clock)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
	require.Equal(t, 1, f.notifier.Count(types.EffectOverdueNotice))

	got, err := f.invoices.Get(ctx, "t1", inv.ID)
	require.NoError(t, err)
	require.Equal(t, types.InvoiceStatusOverdue, got.Status)
	sub, err := f.subs.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusFree, sub.Status)
	require.Equal(t, types.PlanTypeFree, sub.PlanType)
}

func TestSweep_CanceledContext(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.sweeper.Sweep(ctx, *f.clock)
	require.Error(t, err)
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg)
	cfg.Scheduler.CronSpec = "every minute please"
	_, err := NewScheduler(cfg, f.sweeper, zap.NewNop().Sugar())
	require.Error(t, err)
}

func TestScheduler_RunAndStop(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg)
	_, err := f.subs.Act(context.Background(), "t1", types.SubscriptionActionStartTrial, "t1")
	require.NoError(t, err)

	s, err := NewScheduler(cfg, f.sweeper, zap.NewNop().Sugar())
	require.NoError(t, err)
	s.now = func() time.Time { return f.clock.Add(8 * 24 * time.Hour) }
	s.Run()

	sub, err := f.subs.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, types.SubscriptionStatusFree, sub.Status)

	s.Start()
	require.NoError(t, s.Stop(context.Background()))
}
