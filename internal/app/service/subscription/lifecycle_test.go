package subscription

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

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

var (
	free     = Snapshot{PlanType: types.PlanTypeFree, Status: types.SubscriptionStatusFree}
	freeUsed = Snapshot{PlanType: types.PlanTypeFree, Status: types.SubscriptionStatusFree, TrialUsed: true}
	trialing = Snapshot{PlanType: types.PlanTypePro, Status: types.SubscriptionStatusTrialing, TrialUsed: true, TrialEnd: at(48 * time.Hour)}
	active   = Snapshot{PlanType: types.PlanTypePro, Status: types.SubscriptionStatusActive, CurrentPeriodEnd: at(10 * 24 * time.Hour)}
	pastDue  = Snapshot{PlanType: types.PlanTypePro, Status: types.SubscriptionStatusPastDue, CurrentPeriodEnd: at(24 * time.Hour)}
	canceled = Snapshot{PlanType: types.PlanTypePro, Status: types.SubscriptionStatusCanceled, CancelAtPeriodEnd: true, CurrentPeriodEnd: at(24 * time.Hour)}
)

func TestTransitionTable(t *testing.T) {
	later := at(40 * 24 * time.Hour)
	earlier := at(5 * 24 * time.Hour)

	cases := []struct {
		name    string
		from    Snapshot
		sig     Signal
		to      types.SubscriptionStatus
		changed bool
		effects []types.EffectKind
		err     error
	}{
		{"trial from free", free, Signal{Action: types.SubscriptionActionStartTrial}, types.SubscriptionStatusTrialing, true, []types.EffectKind{types.EffectTrialStarted}, nil},
		{"second trial", freeUsed, Signal{Action: types.SubscriptionActionStartTrial}, "", false, nil, apperr.ErrTrialAlreadyUsed},
		{"trial while active", active, Signal{Action: types.SubscriptionActionStartTrial}, "", false, nil, apperr.ErrInvalidTransition},
		{"capture free", free, Signal{Action: types.SubscriptionActionPaymentCaptured, PeriodEnd: later}, types.SubscriptionStatusActive, true, []types.EffectKind{types.EffectPaymentConfirmation}, nil},
		{"capture trialing", trialing, Signal{Action: types.SubscriptionActionPaymentCaptured, PeriodEnd: later}, types.SubscriptionStatusActive, true, []types.EffectKind{types.EffectPaymentConfirmation}, nil},
		{"capture past due", pastDue, Signal{Action: types.SubscriptionActionPaymentCaptured, PeriodEnd: later}, types.SubscriptionStatusActive, true, []types.EffectKind{types.EffectPaymentConfirmation}, nil},
		{"renewal extends", active, Signal{Action: types.SubscriptionActionPaymentCaptured, PeriodEnd: later}, types.SubscriptionStatusActive, true, []types.EffectKind{types.EffectPaymentConfirmation}, nil},
		{"stale renewal", active, Signal{Action: types.SubscriptionActionPaymentCaptured, PeriodEnd: earlier}, types.SubscriptionStatusActive, false, nil, nil},
		{"capture canceled", canceled, Signal{Action: types.SubscriptionActionPaymentCaptured, PeriodEnd: later}, "", false, nil, apperr.ErrInvalidTransition},
		{"capture without period", free, Signal{Action: types.SubscriptionActionPaymentCaptured}, "", false, nil, apperr.ErrInvalidInput},
		{"fail active", active, Signal{Action: types.SubscriptionActionPaymentFailed}, types.SubscriptionStatusPastDue, true, []types.EffectKind{types.EffectPaymentReminder}, nil},
		{"fail past due", pastDue, Signal{Action: types.SubscriptionActionPaymentFailed}, types.SubscriptionStatusPastDue, false, nil, nil},
		{"fail free", free, Signal{Action: types.SubscriptionActionPaymentFailed}, "", false, nil, apperr.ErrInvalidTransition},
		{"cancel active", active, Signal{Action: types.SubscriptionActionCancel}, types.SubscriptionStatusCanceled, true, nil, nil},
		{"cancel trial", trialing, Signal{Action: types.SubscriptionActionCancel}, types.SubscriptionStatusCanceled, true, nil, nil},
		{"cancel free", free, Signal{Action: types.SubscriptionActionCancel}, "", false, nil, apperr.ErrInvalidTransition},
		{"downgrade active", active, Signal{Action: types.SubscriptionActionDowngrade}, types.SubscriptionStatusCanceled, true, nil, nil},
		{"downgrade trial", trialing, Signal{Action: types.SubscriptionActionDowngrade}, "", false, nil, apperr.ErrInvalidTransition},
		{"elapse canceled early", canceled, Signal{Action: types.SubscriptionActionPeriodElapsed}, types.SubscriptionStatusCanceled, false, nil, nil},
		{"elapse active", active, Signal{Action: types.SubscriptionActionPeriodElapsed}, types.SubscriptionStatusActive, false, nil, nil},
		{"unknown action", free, Signal{Action: "upgrade"}, "", false, nil, apperr.ErrInvalidTransition},
		{"corrupt plan", Snapshot{PlanType: types.PlanTypeFree, Status: types.SubscriptionStatusActive}, Signal{Action: types.SubscriptionActionCancel}, "", false, nil, apperr.ErrCorruptState},
		{"corrupt status", Snapshot{PlanType: types.PlanTypePro, Status: "PAUSED"}, Signal{Action: types.SubscriptionActionCancel}, "", false, nil, apperr.ErrCorruptState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Transition(tc.from, tc.sig, t0)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.to, res.Next.Status)
			assert.Equal(t, tc.changed, res.Changed)
			assert.Equal(t, tc.effects, res.Effects)
		})
	}
}

func TestStartTrial_SetsTrialEnd(t *testing.T) {
	res, err := Transition(free, Signal{Action: types.SubscriptionActionStartTrial, TrialDuration: 72 * time.Hour}, t0)
	require.NoError(t, err)
	require.Equal(t, types.PlanTypePro, res.Next.PlanType)
	require.True(t, res.Next.TrialUsed)
	require.NotNil(t, res.Next.TrialEnd)
	require.True(t, res.Next.TrialEnd.Equal(t0.Add(72*time.Hour)))

	res, err = Transition(free, Signal{Action: types.SubscriptionActionStartTrial}, t0)
	require.NoError(t, err)
	require.True(t, res.Next.TrialEnd.Equal(t0.Add(DefaultTrialDuration)))
}

func TestPeriodElapsed_ReturnsToFree(t *testing.T) {
	cases := []struct {
		name string
		from Snapshot
		now  time.Time
	}{
		{"canceled at period end", canceled, *canceled.CurrentPeriodEnd},
		{"trial over", trialing, *trialing.TrialEnd},
		{"past due period over", pastDue, pastDue.CurrentPeriodEnd.Add(time.Minute)},
		{"canceled without end", Snapshot{PlanType: types.PlanTypePro, Status: types.SubscriptionStatusCanceled}, t0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Transition(tc.from, Signal{Action: types.SubscriptionActionPeriodElapsed}, tc.now)
			require.NoError(t, err)
			require.True(t, res.Changed)
			require.Equal(t, types.PlanTypeFree, res.Next.PlanType)
			require.Equal(t, types.SubscriptionStatusFree, res.Next.Status)
			require.False(t, res.Next.CancelAtPeriodEnd)
			require.Equal(t, tc.from.TrialUsed, res.Next.TrialUsed)
		})
	}
}

func TestCanceledTrialAfterPaidHistory_KeepsTrialAccess(t *testing.T) {
	s := Snapshot{
		PlanType:         types.PlanTypePro,
		Status:           types.SubscriptionStatusCanceled,
		TrialUsed:        true,
		TrialEnd:         at(24 * time.Hour),
		CurrentPeriodEnd: at(-30 * 24 * time.Hour),
	}
	require.True(t, IsEntitled(s, t0))
	require.False(t, Elapsed(s, t0))
	require.True(t, Elapsed(s, t0.Add(24*time.Hour)))
}

func TestIsEntitled(t *testing.T) {
	require.False(t, IsEntitled(free, t0))
	require.True(t, IsEntitled(active, t0))
	require.True(t, IsEntitled(pastDue, t0))
	require.True(t, IsEntitled(trialing, t0))
	require.False(t, IsEntitled(trialing, *trialing.TrialEnd))
	require.True(t, IsEntitled(canceled, t0))
	require.False(t, IsEntitled(canceled, *canceled.CurrentPeriodEnd))
}

// Cancel keeps access until the period end and never past it.
func TestDeferredCancel_EntitlementUntilPeriodEnd(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		end := t0.Add(time.Duration(1+r.Intn(60*24)) * time.Hour)
		s := Snapshot{PlanType: types.PlanTypePro, Status: types.SubscriptionStatusActive, CurrentPeriodEnd: &end}
		res, err := Transition(s, Signal{Action: types.SubscriptionActionCancel}, t0)
		require.NoError(t, err)
		c := res.Next
		require.True(t, c.CancelAtPeriodEnd)

		probe := t0.Add(time.Duration(r.Int63n(int64(90 * 24 * time.Hour))))
		require.Equal(t, probe.Before(end), IsEntitled(c, probe), "probe %s end %s", probe, end)
		require.Equal(t, !probe.Before(end), Elapsed(c, probe))
	}
}

// Whatever happens, a tenant enters TRIALING at most once.
func TestTrialExclusivity_RandomSequences(t *testing.T) {
	actions := []types.SubscriptionAction{
		types.SubscriptionActionStartTrial,
		types.SubscriptionActionCancel,
		types.SubscriptionActionDowngrade,
		types.SubscriptionActionPaymentCaptured,
		types.SubscriptionActionPaymentFailed,
		types.SubscriptionActionPeriodElapsed,
	}
	r := rand.New(rand.NewSource(42))
	for run := 0; run < 300; run++ {
		s := free
		now := t0
		trials := 0
		for step := 0; step < 40; step++ {
			now = now.Add(time.Duration(r.Intn(10*24)) * time.Hour)
			sig := Signal{Action: actions[r.Intn(len(actions))]}
			if sig.Action == types.SubscriptionActionPaymentCaptured {
				sig.PeriodEnd = at(now.Sub(t0) + 30*24*time.Hour)
			}
			res, err := Transition(s, sig, now)
			if err != nil {
				require.ErrorIs(t, err, apperr.ErrInvalidTransition)
				continue
			}
			if res.Next.Status == types.SubscriptionStatusTrialing && s.Status != types.SubscriptionStatusTrialing {
				trials++
			}
			if s.TrialUsed {
				require.True(t, res.Next.TrialUsed, "trial_used was reset by %s", sig.Action)
			}
			require.NoError(t, validate(res.Next))
			s = res.Next
		}
		require.LessOrEqual(t, trials, 1)
	}
}
