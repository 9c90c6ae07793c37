package subscription

import (
	"fmt"
	"time"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/pkg/types"
)

// DefaultTrialDuration is the length of the one-off PRO trial.
const DefaultTrialDuration = 7 * 24 * time.Hour

// Snapshot is the part of a subscription the state machine reads and writes.
type Snapshot struct {
	PlanType          types.PlanType
	Status            types.SubscriptionStatus
	TrialUsed         bool
	TrialEnd          *time.Time
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
}

// Signal is a user command or a gateway/scheduler signal.
type Signal struct {
	Action types.SubscriptionAction
	// PeriodEnd is required for SubscriptionActionPaymentCaptured.
	PeriodEnd     *time.Time
	TrialDuration time.Duration
}

type Result struct {
	Next    Snapshot
	Effects []types.EffectKind
	// Changed reports whether any field of the snapshot changed.
	Changed bool
}

// Transition is the pure subscription state machine.
func Transition(s Snapshot, sig Signal, now time.Time) (Result, error) {
	if err := validate(s); err != nil {
		return Result{}, err
	}
	reject := apperr.Rejected("subscription", string(sig.Action), string(s.Status))
	next := s

	switch sig.Action {
	case types.SubscriptionActionStartTrial:
		if s.TrialUsed {
			reject.Reason = apperr.ErrTrialAlreadyUsed
			return Result{}, reject
		}
		if s.Status != types.SubscriptionStatusFree {
			return Result{}, reject
		}
		d := sig.TrialDuration
		if d <= 0 {
			d = DefaultTrialDuration
		}
		end := now.Add(d)
		next.PlanType = types.PlanTypePro
		next.Status = types.SubscriptionStatusTrialing
		next.TrialUsed = true
		next.TrialEnd = &end
		next.CancelAtPeriodEnd = false
		return changed(next, types.EffectTrialStarted), nil

	case types.SubscriptionActionPaymentCaptured:
		if sig.PeriodEnd == nil {
			return Result{}, fmt.Errorf("%w: payment captured without period end", apperr.ErrInvalidInput)
		}
		switch s.Status {
		case types.SubscriptionStatusFree, types.SubscriptionStatusTrialing, types.SubscriptionStatusPastDue:
			end := *sig.PeriodEnd
			next.PlanType = types.PlanTypePro
			next.Status = types.SubscriptionStatusActive
			next.CurrentPeriodEnd = &end
			next.CancelAtPeriodEnd = false
			return changed(next, types.EffectPaymentConfirmation), nil
		case types.SubscriptionStatusActive:
			if s.CurrentPeriodEnd != nil && !sig.PeriodEnd.After(*s.CurrentPeriodEnd) {
				return Result{Next: s}, nil
			}
			end := *sig.PeriodEnd
			next.CurrentPeriodEnd = &end
			return changed(next, types.EffectPaymentConfirmation), nil
		}
		return Result{}, reject

	case types.SubscriptionActionPaymentFailed:
		switch s.Status {
		case types.SubscriptionStatusActive:
			next.Status = types.SubscriptionStatusPastDue
			return changed(next, types.EffectPaymentReminder), nil
		case types.SubscriptionStatusPastDue:
			return Result{Next: s}, nil
		}
		return Result{}, reject

	case types.SubscriptionActionCancel, types.SubscriptionActionDowngrade:
		allowed := s.Status == types.SubscriptionStatusActive ||
			(sig.Action == types.SubscriptionActionCancel && s.Status == types.SubscriptionStatusTrialing)
		if !allowed {
			return Result{}, reject
		}
		next.Status = types.SubscriptionStatusCanceled
		next.CancelAtPeriodEnd = true
		return changed(next), nil

	case types.SubscriptionActionPeriodElapsed:
		if !Elapsed(s, now) {
			return Result{Next: s}, nil
		}
		next.PlanType = types.PlanTypeFree
		next.Status = types.SubscriptionStatusFree
		next.CancelAtPeriodEnd = false
		return changed(next), nil
	}
	return Result{}, reject
}

// Elapsed reports whether the scheduler should move s back to FREE at now.
func Elapsed(s Snapshot, now time.Time) bool {
	switch s.Status {
	case types.SubscriptionStatusCanceled:
		end := accessEnd(s)
		return end == nil || !now.Before(*end)
	case types.SubscriptionStatusTrialing:
		return s.TrialEnd != nil && !now.Before(*s.TrialEnd)
	case types.SubscriptionStatusPastDue:
		return s.CurrentPeriodEnd != nil && !now.Before(*s.CurrentPeriodEnd)
	}
	return false
}

// accessEnd is when a canceled subscription stops granting PRO: the later of
// the paid period end and the trial end.
func accessEnd(s Snapshot) *time.Time {
	switch {
	case s.CurrentPeriodEnd == nil:
		return s.TrialEnd
	case s.TrialEnd == nil || s.CurrentPeriodEnd.After(*s.TrialEnd):
		return s.CurrentPeriodEnd
	}
	return s.TrialEnd
}

func validate(s Snapshot) error {
	if !s.Status.Valid() {
		return fmt.Errorf("%w: subscription status %q", apperr.ErrCorruptState, s.Status)
	}
	switch s.PlanType {
	case types.PlanTypeFree:
		if s.Status != types.SubscriptionStatusFree {
			return fmt.Errorf("%w: plan FREE with status %s", apperr.ErrCorruptState, s.Status)
		}
	case types.PlanTypePro:
		if s.Status == types.SubscriptionStatusFree {
			return fmt.Errorf("%w: plan PRO with status FREE", apperr.ErrCorruptState)
		}
	default:
		return fmt.Errorf("%w: plan type %q", apperr.ErrCorruptState, s.PlanType)
	}
	return nil
}

func changed(next Snapshot, effects ...types.EffectKind) Result {
	return Result{Next: next, Effects: effects, Changed: true}
}
