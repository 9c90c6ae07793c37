package invoice

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/pkg/types"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestTransitionTable(t *testing.T) {
	due := t0.Add(-time.Hour)
	future := t0.Add(time.Hour)
	paidAt := t0.Add(-24 * time.Hour)

	cases := []struct {
		name    string
		from    Snapshot
		action  types.InvoiceAction
		to      types.InvoiceStatus
		effects []types.EffectKind
		err     error
	}{
		{"send draft", Snapshot{Status: types.InvoiceStatusDraft}, types.InvoiceActionSend, types.InvoiceStatusSent, []types.EffectKind{types.EffectInvoiceSent}, nil},
		{"resend", Snapshot{Status: types.InvoiceStatusSent}, types.InvoiceActionSend, types.InvoiceStatusSent, []types.EffectKind{types.EffectInvoiceSent}, nil},
		{"send paid", Snapshot{Status: types.InvoiceStatusPaid, PaidAt: &paidAt}, types.InvoiceActionSend, "", nil, apperr.ErrInvalidTransition},
		{"mark sent", Snapshot{Status: types.InvoiceStatusDraft}, types.InvoiceActionMarkSent, types.InvoiceStatusSent, nil, nil},
		{"mark sent twice", Snapshot{Status: types.InvoiceStatusSent}, types.InvoiceActionMarkSent, "", nil, apperr.ErrInvalidTransition},
		{"pay sent", Snapshot{Status: types.InvoiceStatusSent}, types.InvoiceActionMarkPaid, types.InvoiceStatusPaid, []types.EffectKind{types.EffectPaymentConfirmation}, nil},
		{"pay overdue", Snapshot{Status: types.InvoiceStatusOverdue}, types.InvoiceActionMarkPaid, types.InvoiceStatusPaid, []types.EffectKind{types.EffectPaymentConfirmation}, nil},
		{"pay paid", Snapshot{Status: types.InvoiceStatusPaid, PaidAt: &paidAt}, types.InvoiceActionMarkPaid, types.InvoiceStatusPaid, nil, nil},
		{"pay draft", Snapshot{Status: types.InvoiceStatusDraft}, types.InvoiceActionMarkPaid, "", nil, apperr.ErrInvalidTransition},
		{"pay canceled", Snapshot{Status: types.InvoiceStatusCanceled}, types.InvoiceActionMarkPaid, "", nil, apperr.ErrInvalidTransition},
		{"cancel draft", Snapshot{Status: types.InvoiceStatusDraft}, types.InvoiceActionCancel, types.InvoiceStatusCanceled, nil, nil},
		{"cancel sent", Snapshot{Status: types.InvoiceStatusSent}, types.InvoiceActionCancel, types.InvoiceStatusCanceled, nil, nil},
		{"cancel paid", Snapshot{Status: types.InvoiceStatusPaid, PaidAt: &paidAt}, types.InvoiceActionCancel, "", nil, apperr.ErrInvalidTransition},
		{"cancel overdue", Snapshot{Status: types.InvoiceStatusOverdue}, types.InvoiceActionCancel, "", nil, apperr.ErrInvalidTransition},
		{"overdue", Snapshot{Status: types.InvoiceStatusSent, DueDate: &due}, types.InvoiceActionDueDatePassed, types.InvoiceStatusOverdue, []types.EffectKind{types.EffectOverdueNotice}, nil},
		{"not yet due", Snapshot{Status: types.InvoiceStatusSent, DueDate: &future}, types.InvoiceActionDueDatePassed, types.InvoiceStatusSent, nil, nil},
		{"no due date", Snapshot{Status: types.InvoiceStatusSent}, types.InvoiceActionDueDatePassed, types.InvoiceStatusSent, nil, nil},
		{"due on paid", Snapshot{Status: types.InvoiceStatusPaid, PaidAt: &paidAt, DueDate: &due}, types.InvoiceActionDueDatePassed, types.InvoiceStatusPaid, nil, nil},
		{"due on draft", Snapshot{Status: types.InvoiceStatusDraft, DueDate: &due}, types.InvoiceActionDueDatePassed, types.InvoiceStatusDraft, nil, nil},
		{"edit draft", Snapshot{Status: types.InvoiceStatusDraft}, types.InvoiceActionEdit, types.InvoiceStatusDraft, nil, nil},
		{"edit paid", Snapshot{Status: types.InvoiceStatusPaid, PaidAt: &paidAt}, types.InvoiceActionEdit, "", nil, apperr.ErrInvalidTransition},
		{"remind overdue", Snapshot{Status: types.InvoiceStatusOverdue}, types.InvoiceActionRemind, types.InvoiceStatusOverdue, []types.EffectKind{types.EffectPaymentReminder}, nil},
		{"remind draft", Snapshot{Status: types.InvoiceStatusDraft}, types.InvoiceActionRemind, "", nil, apperr.ErrInvalidTransition},
		{"unknown action", Snapshot{Status: types.InvoiceStatusDraft}, types.InvoiceAction("delete"), "", nil, apperr.ErrInvalidTransition},
		{"corrupt status", Snapshot{Status: "ARCHIVED"}, types.InvoiceActionSend, "", nil, apperr.ErrCorruptState},
		{"paid without paid_at", Snapshot{Status: types.InvoiceStatusPaid}, types.InvoiceActionMarkPaid, "", nil, apperr.ErrCorruptState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Transition(tc.from, tc.action, t0)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.to, res.Status)
			assert.Equal(t, tc.effects, res.Effects)
			assert.Equal(t, tc.to != tc.from.Status, res.Changed)
		})
	}
}

func TestMarkPaid_SecondCallProducesNoEffect(t *testing.T) {
	first, err := Transition(Snapshot{Status: types.InvoiceStatusSent}, types.InvoiceActionMarkPaid, t0)
	require.NoError(t, err)
	require.Equal(t, []types.EffectKind{types.EffectPaymentConfirmation}, first.Effects)
	require.Equal(t, t0, *first.PaidAt)

	second, err := Transition(Snapshot{Status: first.Status, PaidAt: first.PaidAt}, types.InvoiceActionMarkPaid, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, second.Effects)
	require.False(t, second.Changed)
	require.Equal(t, t0, *second.PaidAt)
}

// Random action sequences never break paid_at <=> PAID, and PAID never leaves PAID.
func TestTransition_PaidAtHoldsUnderRandomSequences(t *testing.T) {
	actions := []types.InvoiceAction{
		types.InvoiceActionSend, types.InvoiceActionMarkSent, types.InvoiceActionMarkPaid,
		types.InvoiceActionCancel, types.InvoiceActionDueDatePassed, types.InvoiceActionEdit,
		types.InvoiceActionRemind,
	}
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 500; run++ {
		due := t0.Add(time.Duration(rng.Intn(48)-24) * time.Hour)
		s := Snapshot{Status: types.InvoiceStatusDraft, DueDate: &due}
		now := t0
		paidEffects := 0
		for step := 0; step < 20; step++ {
			now = now.Add(time.Duration(rng.Intn(6)) * time.Hour)
			res, err := Transition(s, actions[rng.Intn(len(actions))], now)
			if err != nil {
				require.ErrorIs(t, err, apperr.ErrInvalidTransition)
				continue
			}
			if s.Status == types.InvoiceStatusPaid {
				require.Equal(t, types.InvoiceStatusPaid, res.Status)
			}
			for _, e := range res.Effects {
				if e == types.EffectPaymentConfirmation {
					paidEffects++
				}
			}
			s = Snapshot{Status: res.Status, DueDate: s.DueDate, PaidAt: res.PaidAt}
			require.Equal(t, s.Status == types.InvoiceStatusPaid, s.PaidAt != nil)
		}
		require.LessOrEqual(t, paidEffects, 1)
	}
}
