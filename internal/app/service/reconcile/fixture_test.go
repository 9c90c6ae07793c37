package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/effects"
	"github.com/fatflowers/invoicing/internal/app/service/invoice"
	"github.com/fatflowers/invoicing/internal/app/service/ledger"
	notificationlog "github.com/fatflowers/invoicing/internal/app/service/notification_log"
	"github.com/fatflowers/invoicing/internal/app/service/payment"
	"github.com/fatflowers/invoicing/internal/app/service/subscription"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/internal/platform/db/dbtest"
	"github.com/fatflowers/invoicing/internal/platform/midtrans"
	stripeclient "github.com/fatflowers/invoicing/internal/platform/stripe"
	"github.com/fatflowers/invoicing/pkg/config"
	"github.com/fatflowers/invoicing/pkg/types"
)

const (
	testStripeSecret = "whsec_reconcile"
	testServerKey    = "SB-Mid-server-test"
	period           = 30 * 24 * time.Hour
)

type fixture struct {
	db            *gorm.DB
	rec           *Reconciler
	store         *ledger.Store
	invoices      *invoice.Service
	subscriptions *subscription.Service
	payments      *payment.Service
	notifications *notificationlog.Service
	notifier      *effects.MemoryNotifier
	clock         *time.Time
}

func newFixture(t *testing.T, tenants ...string) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	gdb := dbtest.New(t)
	n := &effects.MemoryNotifier{}
	store := ledger.NewStore(gdb, effects.NewSyncDispatcher(n, log), log)
	act := activity.NewRecorder(gdb, log)
	cfg := &config.Config{
		Stripe:   config.StripeConfig{WebhookSecret: testStripeSecret},
		Midtrans: config.MidtransConfig{ServerKey: testServerKey},
		Billing:  config.BillingConfig{TrialDuration: 7 * 24 * time.Hour, PeriodDuration: period},
	}
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f := &fixture{db: gdb, store: store, notifier: n, clock: &now}
	clock := func() time.Time { return *f.clock }

	f.invoices = invoice.NewService(store, act, log).WithClock(clock)
	f.subscriptions = subscription.NewService(cfg, store, act, log).WithClock(clock)
	f.payments = payment.NewService(store, act, payment.Refunders{}, log).WithClock(clock)
	f.notifications = notificationlog.New(gdb, log)
	t.Cleanup(f.notifications.Wait)

	f.rec = NewReconciler(Deps{
		Store:         store,
		Invoices:      f.invoices,
		Subscriptions: f.subscriptions,
		Payments:      f.payments,
		Notifications: f.notifications,
		Log:           log,
		Timeout:       5 * time.Second,
	},
		NewStripeParser(stripeclient.New(cfg), period),
		NewMidtransParser(midtrans.NewVerifier(cfg), period),
	).WithClock(clock)

	for _, id := range tenants {
		require.NoError(t, gdb.Create(&models.Tenant{ID: id, Email: id + "@tenant.test", Name: id}).Error)
		require.NoError(t, store.InTx(context.Background(), func(tx *ledger.Tx) error {
			_, err := f.subscriptions.CreateTx(context.Background(), tx, id, id)
			return err
		}))
	}
	return f
}

func (f *fixture) handle(raw RawEvent) (Result, error) {
	return f.rec.HandleGatewayEvent(context.Background(), raw)
}

// stripeEvent signs an event envelope around object.
func (f *fixture) stripeEvent(t *testing.T, id, typ string, object any) RawEvent {
	t.Helper()
	obj, err := json.Marshal(object)
	require.NoError(t, err)
	body := fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"data":{"object":%s}}`,
		id, typ, f.clock.Unix(), obj)
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    testStripeSecret,
		Timestamp: time.Now(),
	})
	return RawEvent{Source: types.GatewaySourceStripe, Payload: sp.Payload, Signature: sp.Header, ReceivedAt: *f.clock}
}

func stripeInvoice(id, tenantID, customer string, amount int64, periodEnd time.Time) map[string]any {
	obj := map[string]any{
		"id":          id,
		"object":      "invoice",
		"customer":    customer,
		"amount_paid": amount,
		"currency":    "usd",
		"metadata":    map[string]string{},
		"lines": map[string]any{
			"object": "list",
			"data": []any{map[string]any{
				"id":     "il_" + id,
				"object": "line_item",
				"period": map[string]any{"start": periodEnd.Add(-period).Unix(), "end": periodEnd.Unix()},
			}},
		},
	}
	if tenantID != "" {
		obj["metadata"] = map[string]string{"tenant_id": tenantID}
	}
	return obj
}

func checkoutSession(id, paymentIntent, paymentStatus string, metadata map[string]string, amount int64) map[string]any {
	return map[string]any{
		"id":             id,
		"object":         "checkout.session",
		"mode":           "payment",
		"payment_status": paymentStatus,
		"payment_intent": paymentIntent,
		"amount_total":   amount,
		"currency":       "usd",
		"metadata":       metadata,
	}
}

type midtransBody struct {
	OrderID        string
	TransactionID  string
	Status         string
	StatusCode     string
	GrossAmount    string
	PaymentType    string
	SettlementTime string
}

func (f *fixture) midtransEvent(t *testing.T, b midtransBody) RawEvent {
	t.Helper()
	if b.PaymentType == "" {
		b.PaymentType = "bank_transfer"
	}
	body, err := json.Marshal(map[string]string{
		"order_id":           b.OrderID,
		"transaction_id":     b.TransactionID,
		"transaction_status": b.Status,
		"status_code":        b.StatusCode,
		"gross_amount":       b.GrossAmount,
		"payment_type":       b.PaymentType,
		"transaction_time":   "2026-05-01 15:55:00",
		"settlement_time":    b.SettlementTime,
		"currency":           "IDR",
		"signature_key":      midtrans.Signature(b.OrderID, b.StatusCode, b.GrossAmount, testServerKey),
	})
	require.NoError(t, err)
	return RawEvent{Source: types.GatewaySourceMidtrans, Payload: body, ReceivedAt: *f.clock}
}

func (f *fixture) subscription(t *testing.T, tenantID string) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, f.db.Where("tenant_id = ?", tenantID).Take(&sub).Error)
	return &sub
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}
