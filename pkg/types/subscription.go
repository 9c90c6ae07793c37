package types

type PlanType string

const (
	PlanTypeFree PlanType = "FREE"
	PlanTypePro  PlanType = "PRO"
)

type SubscriptionStatus string

const (
	SubscriptionStatusFree     SubscriptionStatus = "FREE"
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusFree, SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCanceled:
		return true
	}
	return false
}

type SubscriptionAction string

const (
	// user commands
	SubscriptionActionStartTrial SubscriptionAction = "start_trial"
	SubscriptionActionCancel     SubscriptionAction = "cancel"
	SubscriptionActionDowngrade  SubscriptionAction = "downgrade"

	// gateway and scheduler signals
	SubscriptionActionPaymentCaptured SubscriptionAction = "payment_captured"
	SubscriptionActionPaymentFailed   SubscriptionAction = "payment_failed"
	SubscriptionActionPeriodElapsed   SubscriptionAction = "period_elapsed"
)

var UserSubscriptionActions = []SubscriptionAction{
	SubscriptionActionStartTrial,
	SubscriptionActionCancel,
	SubscriptionActionDowngrade,
}
