package models

import (
	"time"

	"github.com/fatflowers/invoicing/pkg/types"
)

// Subscription is the tenant's own plan, exactly one row per tenant.
// PlanType PRO implies Status is one of TRIALING, ACTIVE, PAST_DUE or CANCELED.
type Subscription struct {
	ID       string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	TenantID string                   `gorm:"column:tenant_id;type:varchar(64);not null;uniqueIndex" json:"tenant_id"`
	PlanType types.PlanType           `gorm:"column:plan_type;type:varchar(16);not null" json:"plan_type"`
	Status   types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	// TrialUsed is never reset; a tenant gets one trial.
	TrialUsed        bool       `gorm:"column:trial_used;not null" json:"trial_used"`
	TrialEnd         *time.Time `gorm:"column:trial_end;default:null" json:"trial_end"`
	CurrentPeriodEnd *time.Time `gorm:"column:current_period_end;default:null" json:"current_period_end"`
	// CancelAtPeriodEnd is set on cancel and downgrade; the scheduler moves the
	// row to FREE once the period end has passed.
	CancelAtPeriodEnd      bool      `gorm:"column:cancel_at_period_end;not null" json:"cancel_at_period_end"`
	GatewayCustomerRef     *string   `gorm:"column:gateway_customer_ref;type:varchar(128)" json:"gateway_customer_ref"`
	GatewaySubscriptionRef *string   `gorm:"column:gateway_subscription_ref;type:varchar(128)" json:"gateway_subscription_ref"`
	Version                int64     `gorm:"column:version;not null" json:"version"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}
