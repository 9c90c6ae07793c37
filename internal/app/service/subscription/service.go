package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/effects"
	"github.com/fatflowers/invoicing/internal/app/service/ledger"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/config"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/metrics"
	"github.com/fatflowers/invoicing/pkg/tool"
	"github.com/fatflowers/invoicing/pkg/types"
)

type Service struct {
	store         *ledger.Store
	activity      *activity.Recorder
	log           *zap.SugaredLogger
	trialDuration time.Duration
	now           func() time.Time
}

func NewService(cfg *config.Config, store *ledger.Store, rec *activity.Recorder, log *zap.SugaredLogger) *Service {
	return &Service{
		store:         store,
		activity:      rec,
		log:           log,
		trialDuration: cfg.Billing.TrialDuration,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateTx inserts the FREE subscription of a new tenant inside the signup
// transaction.
func (s *Service) CreateTx(ctx context.Context, tx *ledger.Tx, tenantID, actor string) (*models.Subscription, error) {
	sub := &models.Subscription{
		ID:       tool.GenerateUUIDV7(),
		TenantID: tenantID,
		PlanType: types.PlanTypeFree,
		Status:   types.SubscriptionStatusFree,
		Version:  1,
	}
	if err := tx.DB().Create(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	err := s.activity.Record(ctx, tx.DB(), s.now(), activity.Entry{
		TenantID:   tenantID,
		Actor:      actor,
		Action:     "create",
		EntityType: activity.EntitySubscription,
		EntityID:   sub.ID,
		ToStatus:   string(sub.Status),
	})
	return sub, err
}

// Get returns the tenant's subscription after applying any period expiry the
// scheduler has not processed yet.
func (s *Service) Get(ctx context.Context, tenantID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.store.DB(ctx).Where("tenant_id = ?", tenantID).Take(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("subscription of tenant %s: %w", tenantID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransientStorage, err)
	}
	now := s.now()
	if !Elapsed(snapshotOf(&sub), now) {
		return &sub, nil
	}
	var out *models.Subscription
	err := s.store.InTx(ctx, func(tx *ledger.Tx) error {
		locked, _, err := s.ApplyTxAt(ctx, tx, tenantID, Signal{Action: types.SubscriptionActionPeriodElapsed}, activity.ActorScheduler, nil, now)
		out = locked
		return err
	})
	return out, err
}

// Entitlement is isEntitled for a tenant.
func (s *Service) Entitlement(ctx context.Context, tenantID string) (bool, *models.Subscription, error) {
	sub, err := s.Get(ctx, tenantID)
	if err != nil {
		return false, nil, err
	}
	return IsEntitled(snapshotOf(sub), s.now()), sub, nil
}

// Act applies a user command (subscriptionAction).
func (s *Service) Act(ctx context.Context, tenantID string, action types.SubscriptionAction, actor string) (*models.Subscription, error) {
	var out *models.Subscription
	err := s.store.InTx(ctx, func(tx *ledger.Tx) error {
		sub, _, err := s.ApplyTx(ctx, tx, tenantID, Signal{Action: action}, actor, nil)
		out = sub
		return err
	})
	return out, err
}

// ApplyTx locks the tenant's subscription in tx and applies sig.
func (s *Service) ApplyTx(ctx context.Context, tx *ledger.Tx, tenantID string, sig Signal, actor string, extra map[string]any) (*models.Subscription, Result, error) {
	return s.ApplyTxAt(ctx, tx, tenantID, sig, actor, extra, s.now())
}

// ApplyTxAt is ApplyTx evaluated at now. Sweeps use it so the rows they list
// and the transitions they apply see the same instant.
func (s *Service) ApplyTxAt(ctx context.Context, tx *ledger.Tx, tenantID string, sig Signal, actor string, extra map[string]any, now time.Time) (*models.Subscription, Result, error) {
	var sub models.Subscription
	if err := tx.LockFirst(&sub, "tenant_id = ?", tenantID); err != nil {
		return nil, Result{}, fmt.Errorf("subscription of tenant %s: %w", tenantID, err)
	}
	if sig.TrialDuration == 0 {
		sig.TrialDuration = s.trialDuration
	}
	from := sub.Status
	res, err := Transition(snapshotOf(&sub), sig, now)
	if err != nil {
		if errors.Is(err, apperr.ErrCorruptState) {
			logctx.FromCtx(ctx, s.log).Errorw("subscription in corrupt state", "tenant_id", tenantID, "status", sub.Status, "err", err)
		}
		return nil, Result{}, err
	}
	if !res.Changed {
		return &sub, res, nil
	}
	apply(&sub, res.Next)
	if err := tx.SaveVersioned(&sub, &sub.Version); err != nil {
		return nil, Result{}, err
	}
	if err := s.activity.Record(ctx, tx.DB(), now, activity.Entry{
		TenantID:   tenantID,
		Actor:      actor,
		Action:     string(sig.Action),
		EntityType: activity.EntitySubscription,
		EntityID:   sub.ID,
		FromStatus: string(from),
		ToStatus:   string(sub.Status),
		Effects:    res.Effects,
		Extra:      extra,
	}); err != nil {
		return nil, Result{}, err
	}
	if len(res.Effects) > 0 {
		var tenant models.Tenant
		if err := tx.DB().Take(&tenant, "id = ?", tenantID).Error; err != nil {
			return nil, Result{}, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
		}
		for _, kind := range res.Effects {
			tx.Enqueue(effectFor(kind, &tenant, &sub))
		}
	}
	return &sub, res, nil
}

// SetGatewayRefsTx stores the gateway customer/subscription references the
// first time they are seen.
func (s *Service) SetGatewayRefsTx(tx *ledger.Tx, sub *models.Subscription, customerRef, subscriptionRef *string) error {
	dirty := false
	if customerRef != nil && *customerRef != "" && (sub.GatewayCustomerRef == nil || *sub.GatewayCustomerRef != *customerRef) {
		sub.GatewayCustomerRef = customerRef
		dirty = true
	}
	if subscriptionRef != nil && *subscriptionRef != "" && (sub.GatewaySubscriptionRef == nil || *sub.GatewaySubscriptionRef != *subscriptionRef) {
		sub.GatewaySubscriptionRef = subscriptionRef
		dirty = true
	}
	if !dirty {
		return nil
	}
	return tx.SaveVersioned(sub, &sub.Version)
}

// TenantByCustomerRef resolves a gateway customer id to the owning tenant.
func (s *Service) TenantByCustomerRef(tx *ledger.Tx, customerRef string) (string, error) {
	var sub models.Subscription
	err := tx.DB().Where("gateway_customer_ref = ?", customerRef).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("customer %s: %w", customerRef, apperr.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return sub.TenantID, nil
}

// SweepResult counts what one period sweep did.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Moved   int `json:"moved"`
	Failed  int `json:"failed"`
}

// SweepPeriods moves CANCELED, TRIALING and PAST_DUE subscriptions whose
// period has elapsed back to FREE, one transaction per tenant.
func (s *Service) SweepPeriods(ctx context.Context, now time.Time, limit int) (SweepResult, error) {
	var candidates []*models.Subscription
	err := s.store.DB(ctx).
		Where("status = ? AND (current_period_end IS NULL OR current_period_end <= ?) AND (trial_end IS NULL OR trial_end <= ?)",
			types.SubscriptionStatusCanceled, now, now).
		Or("status = ? AND trial_end <= ?", types.SubscriptionStatusTrialing, now).
		Or("status = ? AND current_period_end <= ?", types.SubscriptionStatusPastDue, now).
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return SweepResult{}, fmt.Errorf("%w: list elapsed subscriptions: %v", apperr.ErrTransientStorage, err)
	}
	res := SweepResult{}
	for _, c := range candidates {
		if !Elapsed(snapshotOf(c), now) {
			continue
		}
		res.Scanned++
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var moved bool
		err := s.store.InTx(ctx, func(tx *ledger.Tx) error {
			_, r, err := s.ApplyTxAt(ctx, tx, c.TenantID, Signal{Action: types.SubscriptionActionPeriodElapsed}, activity.ActorScheduler, nil, now)
			moved = r.Changed
			return err
		})
		switch {
		case err != nil:
			res.Failed++
			metrics.SweepEntity(activity.EntitySubscription, "failed")
			logctx.FromCtx(ctx, s.log).Errorw("period sweep failed for subscription", "tenant_id", c.TenantID, "err", err)
		case moved:
			res.Moved++
			metrics.SweepEntity(activity.EntitySubscription, "moved")
		default:
			metrics.SweepEntity(activity.EntitySubscription, "unchanged")
		}
	}
	return res, nil
}

func effectFor(kind types.EffectKind, tenant *models.Tenant, sub *models.Subscription) effects.Request {
	data := map[string]any{
		"tenant_name": tenant.Name,
		"plan":        string(sub.PlanType),
		"status":      string(sub.Status),
	}
	if sub.TrialEnd != nil {
		data["trial_end"] = sub.TrialEnd.Format(time.RFC3339)
	}
	if sub.CurrentPeriodEnd != nil {
		data["current_period_end"] = sub.CurrentPeriodEnd.Format(time.RFC3339)
	}
	return effects.Request{
		Kind:         kind,
		Recipient:    tenant.Email,
		TenantID:     tenant.ID,
		EntityID:     sub.ID,
		TemplateData: data,
	}
}

func snapshotOf(sub *models.Subscription) Snapshot {
	return Snapshot{
		PlanType:          sub.PlanType,
		Status:            sub.Status,
		TrialUsed:         sub.TrialUsed,
		TrialEnd:          sub.TrialEnd,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
}

func apply(sub *models.Subscription, s Snapshot) {
	sub.PlanType = s.PlanType
	sub.Status = s.Status
	sub.TrialUsed = s.TrialUsed
	sub.TrialEnd = s.TrialEnd
	sub.CurrentPeriodEnd = s.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = s.CancelAtPeriodEnd
}
