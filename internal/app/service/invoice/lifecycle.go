package invoice

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/pkg/types"
)

// Snapshot is the part of an invoice the state machine reads.
type Snapshot struct {
	Status  types.InvoiceStatus
	DueDate *time.Time
	PaidAt  *time.Time
}

// Result is the next state plus the effects to enqueue. Effects are only
// produced for the caller that actually moves the invoice (or for explicit
// send/remind requests), which is what keeps racing markPaid callers down to
// one confirmation.
type Result struct {
	Status  types.InvoiceStatus
	PaidAt  *time.Time
	Effects []types.EffectKind
	// Changed reports whether Status differs from the snapshot.
	Changed bool
}

var (
	// openStatuses may still be edited, sent or canceled.
	openStatuses    = []types.InvoiceStatus{types.InvoiceStatusDraft, types.InvoiceStatusSent}
	awaitingPayment = []types.InvoiceStatus{types.InvoiceStatusSent, types.InvoiceStatusOverdue}
)

// Transition is the single place invoice statuses change. The user API, the
// gateway reconciler and the scheduler all go through it.
func Transition(s Snapshot, action types.InvoiceAction, now time.Time) (Result, error) {
	if err := validate(s); err != nil {
		return Result{}, err
	}
	keep := Result{Status: s.Status, PaidAt: s.PaidAt}
	reject := apperr.Rejected("invoice", string(action), string(s.Status))

	switch action {
	case types.InvoiceActionSend:
		if !lo.Contains(openStatuses, s.Status) {
			return Result{}, reject
		}
		return moveTo(s, types.InvoiceStatusSent, nil, types.EffectInvoiceSent), nil

	case types.InvoiceActionMarkSent:
		if s.Status != types.InvoiceStatusDraft {
			return Result{}, reject
		}
		return moveTo(s, types.InvoiceStatusSent, nil), nil

	case types.InvoiceActionMarkPaid:
		switch s.Status {
		case types.InvoiceStatusPaid:
			return keep, nil
		case types.InvoiceStatusSent, types.InvoiceStatusOverdue:
			paidAt := now
			return moveTo(s, types.InvoiceStatusPaid, &paidAt, types.EffectPaymentConfirmation), nil
		}
		return Result{}, reject

	case types.InvoiceActionCancel:
		if !lo.Contains(openStatuses, s.Status) {
			return Result{}, reject
		}
		return moveTo(s, types.InvoiceStatusCanceled, nil), nil

	case types.InvoiceActionDueDatePassed:
		if s.Status == types.InvoiceStatusSent && s.DueDate != nil && s.DueDate.Before(now) {
			return moveTo(s, types.InvoiceStatusOverdue, nil, types.EffectOverdueNotice), nil
		}
		return keep, nil

	case types.InvoiceActionEdit:
		if !lo.Contains(openStatuses, s.Status) {
			return Result{}, reject
		}
		return keep, nil

	case types.InvoiceActionRemind:
		if !lo.Contains(awaitingPayment, s.Status) {
			return Result{}, reject
		}
		keep.Effects = []types.EffectKind{types.EffectPaymentReminder}
		return keep, nil
	}
	return Result{}, reject
}

func validate(s Snapshot) error {
	if !s.Status.Valid() {
		return fmt.Errorf("%w: invoice status %q", apperr.ErrCorruptState, s.Status)
	}
	if (s.PaidAt != nil) != (s.Status == types.InvoiceStatusPaid) {
		return fmt.Errorf("%w: invoice status %s with paid_at set=%t", apperr.ErrCorruptState, s.Status, s.PaidAt != nil)
	}
	return nil
}

func moveTo(s Snapshot, to types.InvoiceStatus, paidAt *time.Time, effects ...types.EffectKind) Result {
	if to == types.InvoiceStatusPaid && paidAt == nil {
		paidAt = s.PaidAt
	}
	return Result{
		Status:  to,
		PaidAt:  paidAt,
		Effects: effects,
		Changed: to != s.Status,
	}
}
