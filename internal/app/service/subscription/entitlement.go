package subscription

import (
	"time"

	"github.com/fatflowers/invoicing/pkg/types"
)

// IsEntitled reports whether the tenant may use PRO features at now.
// Entitlement follows status, not plan type: PAST_DUE keeps access until the
// scheduler demotes it, and CANCELED keeps access until the paid period (or
// trial) ends.
func IsEntitled(s Snapshot, now time.Time) bool {
	switch s.Status {
	case types.SubscriptionStatusActive, types.SubscriptionStatusPastDue:
		return true
	case types.SubscriptionStatusTrialing:
		return s.TrialEnd != nil && now.Before(*s.TrialEnd)
	case types.SubscriptionStatusCanceled:
		end := accessEnd(s)
		return end != nil && now.Before(*end)
	}
	return false
}
