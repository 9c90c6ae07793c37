package reconcile

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/internal/app/service/invoice"
	"github.com/fatflowers/invoicing/internal/app/service/ledger"
	notificationlog "github.com/fatflowers/invoicing/internal/app/service/notification_log"
	"github.com/fatflowers/invoicing/internal/app/service/payment"
	"github.com/fatflowers/invoicing/internal/app/service/subscription"
	"github.com/fatflowers/invoicing/internal/platform/midtrans"
	stripeclient "github.com/fatflowers/invoicing/internal/platform/stripe"
	"github.com/fatflowers/invoicing/pkg/config"
)

func newReconciler(
	cfg *config.Config,
	store *ledger.Store,
	invoices *invoice.Service,
	subs *subscription.Service,
	payments *payment.Service,
	notifications *notificationlog.Service,
	sc *stripeclient.Client,
	mv *midtrans.Verifier,
	ms *midtrans.StatusClient,
	log *zap.SugaredLogger,
) *Reconciler {
	mp := NewMidtransParser(mv, cfg.Billing.PeriodDuration)
	if cfg.Midtrans.ConfirmStatus {
		mp.WithConfirmer(ms)
	}
	return NewReconciler(Deps{
		Store:         store,
		Invoices:      invoices,
		Subscriptions: subs,
		Payments:      payments,
		Notifications: notifications,
		Log:           log,
		Timeout:       cfg.Reconcile.EventTimeout,
	},
		NewStripeParser(sc, cfg.Billing.PeriodDuration),
		mp,
	)
}

func newWorker(lc fx.Lifecycle, r *Reconciler, cfg *config.Config, log *zap.SugaredLogger) *Worker {
	w := NewWorker(r, log, cfg.Reconcile.Workers, cfg.Reconcile.QueueSize)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			w.Stop()
			return nil
		},
	})
	return w
}

var Module = fx.Options(
	fx.Provide(newReconciler, newWorker),
)
