package invoice

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/effects"
	"github.com/fatflowers/invoicing/internal/app/service/ledger"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/internal/platform/db/dbtest"
	"github.com/fatflowers/invoicing/pkg/types"
)

type fixture struct {
	svc      *Service
	store    *ledger.Store
	activity *activity.Recorder
	notifier *effects.MemoryNotifier
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	gdb := dbtest.New(t)
	n := &effects.MemoryNotifier{}
	store := ledger.NewStore(gdb, effects.NewSyncDispatcher(n, log), log)
	rec := activity.NewRecorder(gdb, log)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f := &fixture{store: store, activity: rec, notifier: n, clock: &now}
	f.svc = NewService(store, rec, log).WithClock(func() time.Time { return *f.clock })
	return f
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

func (f *fixture) create(t *testing.T, number string, due *time.Time) *models.Invoice {
	t.Helper()
	inv, err := f.svc.Create(context.Background(), "tenant-1", "tenant-1", &CreateRequest{
		Number:      number,
		ClientName:  "Acme",
		ClientEmail: "billing@acme.test",
		Currency:    "usd",
		DueDate:     due,
		Items:       []models.InvoiceItem{{Description: "work", Quantity: 3, UnitPrice: 1000}},
	})
	require.NoError(t, err)
	return inv
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, "INV-001", nil)
	require.Equal(t, types.InvoiceStatusDraft, inv.Status)
	require.Equal(t, int64(3000), inv.Total)
	require.Equal(t, "USD", inv.Currency)
	require.Len(t, inv.AccessToken, 43)
	require.Nil(t, inv.PaidAt)

	_, err := f.svc.Create(context.Background(), "tenant-1", "tenant-1", &CreateRequest{
		Number: "INV-001", ClientName: "B", ClientEmail: "b@b.test", Currency: "USD",
		Items: []models.InvoiceItem{{Description: "x", Quantity: 1, UnitPrice: 1}},
	})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	// numbers are unique per tenant only
	_, err = f.svc.Create(context.Background(), "tenant-2", "tenant-2", &CreateRequest{
		Number: "INV-001", ClientName: "B", ClientEmail: "b@b.test", Currency: "USD",
		Items: []models.InvoiceItem{{Description: "x", Quantity: 1, UnitPrice: 1}},
	})
	require.NoError(t, err)
}

// Draft, send, sweep past due, pay, then cancel is rejected.
func TestInvoiceLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := f.clock.Add(48 * time.Hour)
	inv := f.create(t, "INV-100", &due)

	inv, err := f.svc.Act(ctx, "tenant-1", inv.ID, types.InvoiceActionSend, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, types.InvoiceStatusSent, inv.Status)
	require.Equal(t, 1, f.notifier.Count(types.EffectInvoiceSent))

	f.advance(72 * time.Hour)
	res, err := f.svc.SweepOverdue(ctx, *f.clock, 100)
	require.NoError(t, err)
	require.Equal(t, SweepResult{Scanned: 1, Moved: 1}, res)
	require.Equal(t, 1, f.notifier.Count(types.EffectOverdueNotice))

	inv, err = f.svc.Act(ctx, "tenant-1", inv.ID, types.InvoiceActionMarkPaid, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, types.InvoiceStatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	require.True(t, inv.PaidAt.Equal(*f.clock))

	_, err = f.svc.Act(ctx, "tenant-1", inv.ID, types.InvoiceActionCancel, "tenant-1")
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	notes := "late"
	_, err = f.svc.Edit(ctx, "tenant-1", inv.ID, "tenant-1", &EditRequest{Notes: &notes})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := f.svc.Get(ctx, "tenant-1", inv.ID)
	require.NoError(t, err)
	require.Equal(t, types.InvoiceStatusPaid, got.Status)
	require.Empty(t, got.Notes)

	trail, err := f.activity.ForEntity(ctx, activity.EntityInvoice, inv.ID)
	require.NoError(t, err)
	actions := make([]string, 0, len(trail))
	for _, e := range trail {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{"create", "send", "due_date_passed", "mark_paid"}, actions)
}

func TestMarkPaidTwice_OneConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, "INV-200", nil)
	_, err := f.svc.Act(ctx, "tenant-1", inv.ID, types.InvoiceActionMarkSent, "tenant-1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		got, err := f.svc.Act(ctx, "tenant-1", inv.ID, types.InvoiceActionMarkPaid, "tenant-1")
		require.NoError(t, err)
		require.Equal(t, types.InvoiceStatusPaid, got.Status)
	}
	require.Equal(t, 1, f.notifier.Count(types.EffectPaymentConfirmation))
}

func TestConcurrentMarkPaid_OneConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, "INV-300", nil)
	_, err := f.svc.Act(ctx, "tenant-1", inv.ID, types.InvoiceActionMarkSent, "tenant-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = f.svc.Act(ctx, "tenant-1", inv.ID, types.InvoiceActionMarkPaid, "tenant-1")
				return
			}
			errs[i] = f.store.InTx(ctx, func(tx *ledger.Tx) error {
				_, _, err := f.svc.MarkPaidTx(ctx, tx, inv.ID, activity.GatewayActor(types.GatewaySourceStripe), nil)
				return err
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, f.notifier.Count(types.EffectPaymentConfirmation))

	trail, err := f.activity.ForEntity(ctx, activity.EntityInvoice, inv.ID)
	require.NoError(t, err)
	confirmations := 0
	for _, e := range trail {
		if e.HasEffect(types.EffectPaymentConfirmation) {
			confirmations++
		}
	}
	require.Equal(t, 1, confirmations)
}

func TestGet_AppliesOverdueLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := f.clock.Add(time.Hour)
	inv := f.create(t, "INV-400", &due)
	_, err := f.svc.Act(ctx, "tenant-1", inv.ID, types.InvoiceActionSend, "tenant-1")
	require.NoError(t, err)

	got, err := f.svc.GetByAccessToken(ctx, inv.AccessToken)
	require.NoError(t, err)
	require.Equal(t, types.InvoiceStatusSent, got.Status)

	f.advance(2 * time.Hour)
	got, err = f.svc.GetByAccessToken(ctx, inv.AccessToken)
	require.NoError(t, err)
	require.Equal(t, types.InvoiceStatusOverdue, got.Status)
	require.Equal(t, 1, f.notifier.Count(types.EffectOverdueNotice))

	// a second read does not repeat the notice
	_, err = f.svc.Get(ctx, "tenant-1", inv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.notifier.Count(types.EffectOverdueNotice))

	_, err = f.svc.GetByAccessToken(ctx, "nope")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Get(ctx, "tenant-2", inv.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEdit_RecomputesTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, "INV-500", nil)
	token := inv.AccessToken

	got, err := f.svc.Edit(ctx, "tenant-1", inv.ID, "tenant-1", &EditRequest{
		Items: []models.InvoiceItem{{Description: "a", Quantity: 2, UnitPrice: 250}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(500), got.Total)
	require.Equal(t, int64(2), got.Version)
	require.Equal(t, token, got.AccessToken)

	_, err = f.svc.Edit(ctx, "tenant-1", inv.ID, "tenant-1", &EditRequest{
		Items: []models.InvoiceItem{{Description: "a", Quantity: 0, UnitPrice: 250}},
	})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.svc.Edit(ctx, "tenant-1", inv.ID, "tenant-1", &EditRequest{
		Items: []models.InvoiceItem{{Description: "a", Quantity: 4, UnitPrice: math.MaxInt64 / 2}},
	})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	got, err = f.svc.Get(ctx, "tenant-1", inv.ID)
	require.NoError(t, err)
	require.Equal(t, int64(500), got.Total)
}

func TestCreate_RejectsOverflowingTotal(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), "tenant-1", "tenant-1", &CreateRequest{
		Number: "INV-900", ClientName: "Acme", ClientEmail: "billing@acme.test", Currency: "USD",
		Items: []models.InvoiceItem{
			{Description: "a", Quantity: 1, UnitPrice: math.MaxInt64},
			{Description: "b", Quantity: 1, UnitPrice: 1},
		},
	})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSweepOverdue_SkipsPaidAndFutureInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := f.clock.Add(time.Hour)
	future := f.clock.Add(240 * time.Hour)

	paid := f.create(t, "A", &past)
	_, err := f.svc.Act(ctx, "tenant-1", paid.ID, types.InvoiceActionSend, "tenant-1")
	require.NoError(t, err)
	_, err = f.svc.Act(ctx, "tenant-1", paid.ID, types.InvoiceActionMarkPaid, "tenant-1")
	require.NoError(t, err)

	later := f.create(t, "B", &future)
	_, err = f.svc.Act(ctx, "tenant-1", later.ID, types.InvoiceActionSend, "tenant-1")
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	res, err := f.svc.SweepOverdue(ctx, *f.clock, 100)
	require.NoError(t, err)
	require.Equal(t, 0, res.Scanned)
}

func TestSweepOverdue_UsesSweepInstant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := f.clock.Add(24 * time.Hour)
	inv := f.create(t, "C", &due)
	_, err := f.svc.Act(ctx, "tenant-1", inv.ID, types.InvoiceActionSend, "tenant-1")
	require.NoError(t, err)

	// the service clock is still before the due date
	res, err := f.svc.SweepOverdue(ctx, f.clock.Add(48*time.Hour), 100)
	require.NoError(t, err)
	require.Equal(t, SweepResult{Scanned: 1, Moved: 1}, res)

	var got models.Invoice
	require.NoError(t, f.store.DB(ctx).Where("id = ?", inv.ID).Take(&got).Error)
	require.Equal(t, types.InvoiceStatusOverdue, got.Status)
}
