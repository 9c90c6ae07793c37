package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/invoice"
	"github.com/fatflowers/invoicing/internal/app/service/ledger"
	notificationlog "github.com/fatflowers/invoicing/internal/app/service/notification_log"
	"github.com/fatflowers/invoicing/internal/app/service/payment"
	"github.com/fatflowers/invoicing/internal/app/service/subscription"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/metrics"
	"github.com/fatflowers/invoicing/pkg/types"
)

// ErrNotReady means the event depends on a record a later delivery may bring
// (an unknown customer). The gateway should redeliver.
var ErrNotReady = fmt.Errorf("%w: prerequisite not recorded yet", apperr.ErrTransientStorage)

type Reconciler struct {
	store         *ledger.Store
	invoices      *invoice.Service
	subscriptions *subscription.Service
	payments      *payment.Service
	notifications *notificationlog.Service
	parsers       map[types.GatewaySource]Parser
	timeout       time.Duration
	log           *zap.SugaredLogger
	now           func() time.Time
}

type Deps struct {
	Store         *ledger.Store
	Invoices      *invoice.Service
	Subscriptions *subscription.Service
	Payments      *payment.Service
	Notifications *notificationlog.Service
	Log           *zap.SugaredLogger
	// Timeout bounds one event end to end; zero means no bound.
	Timeout time.Duration
}

func NewReconciler(d Deps, parsers ...Parser) *Reconciler {
	r := &Reconciler{
		store:         d.Store,
		invoices:      d.Invoices,
		subscriptions: d.Subscriptions,
		payments:      d.Payments,
		notifications: d.Notifications,
		parsers:       make(map[types.GatewaySource]Parser, len(parsers)),
		timeout:       d.Timeout,
		log:           d.Log,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, p := range parsers {
		r.parsers[p.Source()] = p
	}
	return r
}

// WithClock replaces the time source. Tests only.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// HandleGatewayEvent verifies raw, applies it at most once and reports what
// the gateway should be told. Errors are ErrAuthenticity (reject, do not
// retry), ErrInvalidInput, ErrCorruptState, or retryable storage failures.
func (r *Reconciler) HandleGatewayEvent(ctx context.Context, raw RawEvent) (res Result, err error) {
	start := time.Now()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = r.now()
	}
	l := logctx.FromCtx(ctx, r.log).With("source", raw.Source)

	parser, ok := r.parsers[raw.Source]
	if !ok {
		return Result{}, apperr.InvalidInput("unsupported gateway %q", raw.Source)
	}
	ev, err := parser.Parse(ctx, raw)
	if err != nil {
		status := models.PaymentNotificationLogStatusHandleFailed
		if errors.Is(err, apperr.ErrAuthenticity) {
			status = models.PaymentNotificationLogStatusRejected
		}
		r.saveLog(ctx, raw, nil, status, map[string]any{"error": err.Error()})
		metrics.GatewayEvent(string(raw.Source), "unparsed", "rejected")
		l.Warnw("gateway event rejected before processing", "err", err)
		return Result{}, err
	}
	l = l.With("event_id", ev.EventID, "kind", ev.Kind.String(), "type", ev.RawType)

	defer func() {
		label := res.Outcome
		status := models.PaymentNotificationLogStatusHandled
		result := map[string]any{"outcome": res.Outcome, "duplicate": res.Duplicate}
		switch {
		case err != nil:
			label = "error"
			status = models.PaymentNotificationLogStatusHandleFailed
			result["error"] = err.Error()
		case res.Duplicate:
			label = "duplicate"
		case isRejected(res.Outcome):
			label = "rejected"
		}
		r.saveLog(ctx, raw, ev, status, result)
		metrics.GatewayEvent(string(ev.Source), ev.Kind.String(), label)
		metrics.ObserveProcess("reconcile", ev.Kind.String(), start)
	}()

	if ev.Kind == KindUnknown {
		l.Infow("ignoring gateway event of unknown kind")
		return Result{Accepted: true, Outcome: OutcomeIgnored}, nil
	}

	prior, err := r.store.LookupEvent(ctx, string(ev.Source), ev.EventID)
	if err != nil {
		return Result{}, err
	}
	if prior != nil {
		return duplicateOf(prior), nil
	}

	var outcome string
	err = r.store.InTx(ctx, func(tx *ledger.Tx) error {
		o, err := r.apply(ctx, tx, ev)
		if err != nil {
			return err
		}
		outcome = o
		return tx.RecordEvent(string(ev.Source), ev.EventID, ev.Kind.String(), outcome, r.now())
	})
	switch {
	case errors.Is(err, apperr.ErrDuplicateEvent):
		// a concurrent delivery committed first
		prior, lerr := r.store.LookupEvent(ctx, string(ev.Source), ev.EventID)
		if lerr != nil || prior == nil {
			return Result{Accepted: true, Duplicate: true}, nil
		}
		return duplicateOf(prior), nil
	case err != nil:
		if errors.Is(err, apperr.ErrCorruptState) {
			l.Errorw("gateway event hit corrupt state", "err", err)
		} else {
			l.Warnw("gateway event not applied", "err", err)
		}
		return Result{}, err
	}

	res = Result{Accepted: true, Outcome: outcome}
	if isRejected(outcome) {
		res.Reason = outcome[len(rejectedPrefix):]
		l.Infow("gateway event rejected by state machine", "reason", res.Reason)
	} else {
		l.Infow("gateway event processed", "outcome", outcome)
	}
	return res, nil
}

func duplicateOf(prior *models.ProcessedEvent) Result {
	res := Result{Accepted: true, Duplicate: true, Outcome: prior.Outcome}
	if isRejected(prior.Outcome) {
		res.Reason = prior.Outcome[len(rejectedPrefix):]
	}
	return res
}

func isRejected(outcome string) bool {
	return len(outcome) >= len(rejectedPrefix) && outcome[:len(rejectedPrefix)] == rejectedPrefix
}

// apply dispatches on the event kind. Every kind has a case.
func (r *Reconciler) apply(ctx context.Context, tx *ledger.Tx, ev *Event) (string, error) {
	switch ev.Kind {
	case KindInvoicePaid:
		return r.invoicePaid(ctx, tx, ev)
	case KindSubscriptionPaymentCaptured:
		return r.subscriptionCaptured(ctx, tx, ev)
	case KindSubscriptionPaymentFailed:
		return r.subscriptionFailed(ctx, tx, ev)
	case KindPaymentPending:
		return r.paymentStatus(ctx, tx, ev, types.PaymentStatusPending)
	case KindPaymentFailed:
		return r.paymentStatus(ctx, tx, ev, types.PaymentStatusFailed)
	case KindPaymentRefunded:
		return r.paymentRefunded(ctx, tx, ev)
	case KindPaymentLinked:
		return r.paymentLinked(ctx, tx, ev)
	case KindUnknown:
		return "", fmt.Errorf("%w: %s", apperr.ErrUnknownEventKind, ev.RawType)
	}
	return "", fmt.Errorf("%w: kind %d", apperr.ErrUnknownEventKind, int(ev.Kind))
}

func (r *Reconciler) invoicePaid(ctx context.Context, tx *ledger.Tx, ev *Event) (string, error) {
	var inv models.Invoice
	if err := tx.DB().Select("id", "tenant_id", "total", "currency").Where("id = ?", ev.InvoiceID).Take(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reject(fmt.Errorf("invoice %s: %w", ev.InvoiceID, apperr.ErrNotFound))
		}
		return "", err
	}
	actor := activity.GatewayActor(ev.Source)
	extra := eventExtra(ev)
	if ev.Payment != nil && (ev.Payment.Amount != inv.Total || ev.Payment.Currency != inv.Currency) {
		extra["amount_mismatch"] = true
		logctx.FromCtx(ctx, r.log).Warnw("payment amount differs from invoice total",
			"invoice_id", inv.ID, "amount", ev.Payment.Amount, "currency", ev.Payment.Currency,
			"total", inv.Total, "invoice_currency", inv.Currency)
	}

	paymentChanged := false
	if ev.Payment != nil {
		p, changed, err := r.payments.UpsertTx(ctx, tx, r.record(ev, inv.TenantID, types.PaymentPurposeInvoice, types.PaymentStatusCompleted), actor)
		if err != nil {
			return reject(err)
		}
		paymentChanged = changed
		extra["payment_id"] = p.ID
	}
	_, res, err := r.invoices.MarkPaidTx(ctx, tx, inv.ID, actor, extra)
	if err != nil {
		return reject(err)
	}
	return applied(paymentChanged || res.Changed), nil
}

func (r *Reconciler) subscriptionCaptured(ctx context.Context, tx *ledger.Tx, ev *Event) (string, error) {
	tenantID, err := r.resolveTenant(tx, ev)
	if err != nil {
		return reject(err)
	}
	actor := activity.GatewayActor(ev.Source)

	// the payment is kept even when the subscription refuses the signal
	// (CANCELED): money moved either way
	paymentChanged := false
	if ev.Payment != nil {
		_, changed, err := r.payments.UpsertTx(ctx, tx, r.record(ev, tenantID, types.PaymentPurposeSubscription, types.PaymentStatusCompleted), actor)
		if err != nil {
			return reject(err)
		}
		if !changed {
			// the charge was already captured under another event id
			// (Midtrans capture then settlement); one charge buys one period
			return OutcomeNoop, nil
		}
		paymentChanged = true
	}
	sub, res, err := r.subscriptions.ApplyTx(ctx, tx, tenantID, subscription.Signal{
		Action:    types.SubscriptionActionPaymentCaptured,
		PeriodEnd: ev.PeriodEnd,
	}, actor, eventExtra(ev))
	if err != nil {
		return reject(err)
	}
	if err := r.subscriptions.SetGatewayRefsTx(tx, sub, optional(ev.CustomerRef), optional(ev.SubscriptionRef)); err != nil {
		return "", err
	}
	return applied(paymentChanged || res.Changed), nil
}

func (r *Reconciler) subscriptionFailed(ctx context.Context, tx *ledger.Tx, ev *Event) (string, error) {
	tenantID, err := r.resolveTenant(tx, ev)
	if err != nil {
		return reject(err)
	}
	_, res, err := r.subscriptions.ApplyTx(ctx, tx, tenantID, subscription.Signal{
		Action: types.SubscriptionActionPaymentFailed,
	}, activity.GatewayActor(ev.Source), eventExtra(ev))
	if err != nil {
		return reject(err)
	}
	return applied(res.Changed), nil
}

func (r *Reconciler) paymentStatus(ctx context.Context, tx *ledger.Tx, ev *Event, status types.PaymentStatus) (string, error) {
	if ev.Payment == nil {
		return reject(apperr.InvalidInput("%s event without payment", ev.Kind))
	}
	purpose := types.PaymentPurposeSubscription
	tenantID := ev.TenantID
	if ev.InvoiceID != "" {
		purpose = types.PaymentPurposeInvoice
		var inv models.Invoice
		err := tx.DB().Select("id", "tenant_id").Where("id = ?", ev.InvoiceID).Take(&inv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reject(fmt.Errorf("invoice %s: %w", ev.InvoiceID, apperr.ErrNotFound))
		}
		if err != nil {
			return "", err
		}
		tenantID = inv.TenantID
	}
	if tenantID == "" {
		var err error
		if tenantID, err = r.resolveTenant(tx, ev); err != nil {
			return reject(err)
		}
	}
	_, changed, err := r.payments.UpsertTx(ctx, tx, r.record(ev, tenantID, purpose, status), activity.GatewayActor(ev.Source))
	if err != nil {
		return reject(err)
	}
	return applied(changed), nil
}

// paymentRefunded only touches the payment record; a PAID invoice stays PAID.
func (r *Reconciler) paymentRefunded(ctx context.Context, tx *ledger.Tx, ev *Event) (string, error) {
	if ev.Payment == nil {
		return reject(apperr.InvalidInput("refund event without payment"))
	}
	_, changed, err := r.payments.SetStatusTx(ctx, tx, ev.Source, ev.Payment.GatewayRef, types.PaymentStatusRefunded,
		activity.GatewayActor(ev.Source), eventExtra(ev))
	if err != nil {
		return reject(err)
	}
	return applied(changed), nil
}

// paymentLinked waits for the payment it names: the event can arrive before
// the one that records the payment.
func (r *Reconciler) paymentLinked(ctx context.Context, tx *ledger.Tx, ev *Event) (string, error) {
	if ev.Payment == nil || ev.Payment.ChargeRef == "" {
		return reject(apperr.InvalidInput("link event without charge"))
	}
	_, changed, err := r.payments.LinkChargeTx(ctx, tx, ev.Source, ev.Payment.GatewayRef, ev.Payment.ChargeRef)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("%w: payment %s", ErrNotReady, ev.Payment.GatewayRef)
	}
	if err != nil {
		return reject(err)
	}
	return applied(changed), nil
}

func (r *Reconciler) resolveTenant(tx *ledger.Tx, ev *Event) (string, error) {
	if ev.TenantID != "" {
		return ev.TenantID, nil
	}
	if ev.CustomerRef == "" {
		return "", apperr.InvalidInput("event %s identifies no tenant", ev.EventID)
	}
	id, err := r.subscriptions.TenantByCustomerRef(tx, ev.CustomerRef)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("%w: customer %s", ErrNotReady, ev.CustomerRef)
	}
	return id, err
}

func (r *Reconciler) record(ev *Event, tenantID string, purpose types.PaymentPurpose, status types.PaymentStatus) payment.Record {
	rec := payment.Record{
		Source:     ev.Source,
		GatewayRef: ev.Payment.GatewayRef,
		ChargeRef:  ev.Payment.ChargeRef,
		TenantID:   tenantID,
		Purpose:    purpose,
		Amount:     ev.Payment.Amount,
		Currency:   ev.Payment.Currency,
		Method:     ev.Payment.Method,
		Status:     status,
		Extra:      map[string]any{"event_id": ev.EventID},
	}
	if ev.InvoiceID != "" {
		rec.InvoiceID = optional(ev.InvoiceID)
	}
	return rec
}

// reject turns business refusals into a recorded outcome so redelivery gets
// the same answer. Anything else aborts the transaction.
func reject(err error) (string, error) {
	if errors.Is(err, apperr.ErrInvalidTransition) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrInvalidInput) {
		return rejectedPrefix + err.Error(), nil
	}
	return "", err
}

func applied(changed bool) string {
	if changed {
		return OutcomeApplied
	}
	return OutcomeNoop
}

func eventExtra(ev *Event) map[string]any {
	return map[string]any{"event_id": ev.EventID, "event_type": ev.RawType}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *Reconciler) saveLog(ctx context.Context, raw RawEvent, ev *Event, status models.PaymentNotificationLogStatus, result any) {
	if r.notifications == nil {
		return
	}
	e := notificationlog.Entry{
		Source:     raw.Source,
		ReceivedAt: raw.ReceivedAt,
		Payload:    raw.Payload,
		Status:     status,
		Result:     result,
	}
	if ev != nil {
		e.EventID = ev.EventID
		e.Kind = ev.Kind.String()
	}
	r.notifications.Save(ctx, e)
}
