package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/effects"
	"github.com/fatflowers/invoicing/internal/app/service/ledger"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/metrics"
	"github.com/fatflowers/invoicing/pkg/tool"
	"github.com/fatflowers/invoicing/pkg/types"
)

type Service struct {
	store    *ledger.Store
	activity *activity.Recorder
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewService(store *ledger.Store, rec *activity.Recorder, log *zap.SugaredLogger) *Service {
	return &Service{store: store, activity: rec, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateRequest struct {
	Number      string               `json:"number" binding:"required"`
	ClientName  string               `json:"client_name" binding:"required"`
	ClientEmail string               `json:"client_email" binding:"required,email"`
	Currency    string               `json:"currency" binding:"required"`
	IssueDate   *time.Time           `json:"issue_date"`
	DueDate     *time.Time           `json:"due_date"`
	Items       []models.InvoiceItem `json:"items" binding:"required,min=1"`
	Notes       string               `json:"notes"`
}

// EditRequest patches the non-status fields. Nil fields are left alone.
type EditRequest struct {
	ClientName  *string              `json:"client_name"`
	ClientEmail *string              `json:"client_email"`
	DueDate     *time.Time           `json:"due_date"`
	Items       []models.InvoiceItem `json:"items"`
	Notes       *string              `json:"notes"`
}

// validateItems checks the lines and returns their total.
func validateItems(items []models.InvoiceItem) (int64, error) {
	for i, it := range items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return 0, apperr.InvalidInput("item %d: quantity must be positive and unit price non-negative", i)
		}
	}
	total, err := models.SumItems(items)
	if err != nil {
		return 0, apperr.InvalidInput("%v", err)
	}
	return total, nil
}

// Create stores a DRAFT invoice with a fresh access token.
func (s *Service) Create(ctx context.Context, tenantID, actor string, req *CreateRequest) (*models.Invoice, error) {
	if req == nil || strings.TrimSpace(req.Number) == "" {
		return nil, apperr.InvalidInput("invoice number is required")
	}
	total, err := validateItems(req.Items)
	if err != nil {
		return nil, err
	}
	token, err := tool.GenerateAccessToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	issue := now
	if req.IssueDate != nil {
		issue = req.IssueDate.UTC()
	}
	inv := &models.Invoice{
		ID:          tool.GenerateUUIDV7(),
		TenantID:    tenantID,
		Number:      strings.TrimSpace(req.Number),
		ClientName:  req.ClientName,
		ClientEmail: req.ClientEmail,
		Status:      types.InvoiceStatusDraft,
		IssueDate:   issue,
		DueDate:     utc(req.DueDate),
		Total:       total,
		Currency:    strings.ToUpper(req.Currency),
		AccessToken: token,
		Items:       datatypes.NewJSONType(req.Items),
		Notes:       req.Notes,
		Version:     1,
	}
	err = s.store.InTx(ctx, func(tx *ledger.Tx) error {
		if err := tx.DB().Create(inv).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.InvalidInput("invoice number %q already exists", inv.Number)
			}
			return err
		}
		return s.activity.Record(ctx, tx.DB(), now, activity.Entry{
			TenantID:   tenantID,
			Actor:      actor,
			Action:     "create",
			EntityType: activity.EntityInvoice,
			EntityID:   inv.ID,
			ToStatus:   string(inv.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Edit patches an invoice in DRAFT or SENT. PAID invoices are immutable.
func (s *Service) Edit(ctx context.Context, tenantID, id, actor string, req *EditRequest) (*models.Invoice, error) {
	if req == nil {
		return nil, apperr.InvalidInput("empty edit")
	}
	var total int64
	if req.Items != nil {
		var err error
		if total, err = validateItems(req.Items); err != nil {
			return nil, err
		}
	}
	var out *models.Invoice
	err := s.store.InTx(ctx, func(tx *ledger.Tx) error {
		inv, err := lockOwned(tx, tenantID, id)
		if err != nil {
			return err
		}
		now := s.now()
		if _, err := Transition(snapshotOf(inv), types.InvoiceActionEdit, now); err != nil {
			return err
		}
		if req.ClientName != nil {
			inv.ClientName = *req.ClientName
		}
		if req.ClientEmail != nil {
			inv.ClientEmail = *req.ClientEmail
		}
		if req.DueDate != nil {
			inv.DueDate = utc(req.DueDate)
		}
		if req.Notes != nil {
			inv.Notes = *req.Notes
		}
		if req.Items != nil {
			inv.Items = datatypes.NewJSONType(req.Items)
			inv.Total = total
		}
		if err := tx.SaveVersioned(inv, &inv.Version); err != nil {
			return err
		}
		out = inv
		return s.activity.Record(ctx, tx.DB(), now, activity.Entry{
			TenantID:   inv.TenantID,
			Actor:      actor,
			Action:     string(types.InvoiceActionEdit),
			EntityType: activity.EntityInvoice,
			EntityID:   inv.ID,
			FromStatus: string(inv.Status),
			ToStatus:   string(inv.Status),
		})
	})
	return out, err
}

// Act applies an owner action (invoiceAction). markPaid here and markPaid
// from a gateway event share ApplyTx, so whichever commits first sends the
// confirmation and the other is a no-op.
func (s *Service) Act(ctx context.Context, tenantID, id string, action types.InvoiceAction, actor string) (*models.Invoice, error) {
	var out *models.Invoice
	err := s.store.InTx(ctx, func(tx *ledger.Tx) error {
		inv, err := lockOwned(tx, tenantID, id)
		if err != nil {
			return err
		}
		if _, err := s.ApplyTx(ctx, tx, inv, action, actor, nil); err != nil {
			return err
		}
		out = inv
		return nil
	})
	return out, err
}

// MarkPaidTx is the gateway entry point: lock the invoice by id and apply
// markPaid inside the caller's transaction.
func (s *Service) MarkPaidTx(ctx context.Context, tx *ledger.Tx, id, actor string, extra map[string]any) (*models.Invoice, Result, error) {
	var inv models.Invoice
	if err := tx.LockFirst(&inv, "id = ?", id); err != nil {
		return nil, Result{}, fmt.Errorf("invoice %s: %w", id, err)
	}
	res, err := s.ApplyTx(ctx, tx, &inv, types.InvoiceActionMarkPaid, actor, extra)
	return &inv, res, err
}

// ApplyTx runs the state machine on a row already locked in tx, persists the
// change, records the activity entry and enqueues effects. No-op results
// (nothing changed, nothing to send) write nothing.
func (s *Service) ApplyTx(ctx context.Context, tx *ledger.Tx, inv *models.Invoice, action types.InvoiceAction, actor string, extra map[string]any) (Result, error) {
	return s.ApplyTxAt(ctx, tx, inv, action, actor, extra, s.now())
}

// ApplyTxAt is ApplyTx evaluated at now. Sweeps use it so the rows they list
// and the transitions they apply see the same instant.
func (s *Service) ApplyTxAt(ctx context.Context, tx *ledger.Tx, inv *models.Invoice, action types.InvoiceAction, actor string, extra map[string]any, now time.Time) (Result, error) {
	from := inv.Status
	res, err := Transition(snapshotOf(inv), action, now)
	if err != nil {
		if errors.Is(err, apperr.ErrCorruptState) {
			logctx.FromCtx(ctx, s.log).Errorw("invoice in corrupt state", "invoice_id", inv.ID, "status", inv.Status, "err", err)
		}
		return Result{}, err
	}
	if !res.Changed && len(res.Effects) == 0 {
		return res, nil
	}
	if res.Changed {
		inv.Status = res.Status
		inv.PaidAt = res.PaidAt
		if err := tx.SaveVersioned(inv, &inv.Version); err != nil {
			return Result{}, err
		}
	}
	if err := s.activity.Record(ctx, tx.DB(), now, activity.Entry{
		TenantID:   inv.TenantID,
		Actor:      actor,
		Action:     string(action),
		EntityType: activity.EntityInvoice,
		EntityID:   inv.ID,
		FromStatus: string(from),
		ToStatus:   string(inv.Status),
		Effects:    res.Effects,
		Extra:      extra,
	}); err != nil {
		return Result{}, err
	}
	for _, kind := range res.Effects {
		tx.Enqueue(effectFor(kind, inv))
	}
	return res, nil
}

func effectFor(kind types.EffectKind, inv *models.Invoice) effects.Request {
	data := map[string]any{
		"invoice_number": inv.Number,
		"client_name":    inv.ClientName,
		"total":          inv.Total,
		"currency":       inv.Currency,
		"access_token":   inv.AccessToken,
	}
	if inv.DueDate != nil {
		data["due_date"] = inv.DueDate.Format(time.DateOnly)
	}
	if inv.PaidAt != nil {
		data["paid_at"] = inv.PaidAt.Format(time.RFC3339)
	}
	return effects.Request{
		Kind:         kind,
		Recipient:    inv.ClientEmail,
		TenantID:     inv.TenantID,
		EntityID:     inv.ID,
		TemplateData: data,
	}
}

// Get returns an owned invoice, applying an overdue transition first if the
// due date has passed since the last sweep.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.store.DB(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).Take(&inv).Error
	if err != nil {
		return nil, notFound(err, "invoice %s", id)
	}
	return s.refresh(ctx, &inv)
}

// GetByAccessToken serves the unauthenticated client view.
func (s *Service) GetByAccessToken(ctx context.Context, token string) (*models.Invoice, error) {
	if token == "" {
		return nil, apperr.ErrNotFound
	}
	var inv models.Invoice
	if err := s.store.DB(ctx).Where("access_token = ?", token).Take(&inv).Error; err != nil {
		return nil, notFound(err, "invoice by token")
	}
	return s.refresh(ctx, &inv)
}

func (s *Service) refresh(ctx context.Context, inv *models.Invoice) (*models.Invoice, error) {
	now := s.now()
	if !overdue(inv, now) {
		return inv, nil
	}
	var out *models.Invoice
	err := s.store.InTx(ctx, func(tx *ledger.Tx) error {
		var locked models.Invoice
		if err := tx.LockFirst(&locked, "id = ?", inv.ID); err != nil {
			return err
		}
		if _, err := s.ApplyTxAt(ctx, tx, &locked, types.InvoiceActionDueDatePassed, activity.ActorScheduler, nil, now); err != nil {
			return err
		}
		out = &locked
		return nil
	})
	return out, err
}

func overdue(inv *models.Invoice, now time.Time) bool {
	return inv.Status == types.InvoiceStatusSent && inv.DueDate != nil && inv.DueDate.Before(now)
}

// SweepResult counts what one overdue sweep did.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Moved   int `json:"moved"`
	Failed  int `json:"failed"`
}

// SweepOverdue moves SENT invoices past their due date to OVERDUE, each in
// its own transaction. A failing invoice is logged and skipped.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time, limit int) (SweepResult, error) {
	var ids []string
	err := s.store.DB(ctx).Model(&models.Invoice{}).
		Where("status = ? AND due_date IS NOT NULL AND due_date < ?", types.InvoiceStatusSent, now).
		Order("due_date asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return SweepResult{}, fmt.Errorf("%w: list overdue invoices: %v", apperr.ErrTransientStorage, err)
	}
	res := SweepResult{Scanned: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var moved bool
		err := s.store.InTx(ctx, func(tx *ledger.Tx) error {
			var inv models.Invoice
			if err := tx.LockFirst(&inv, "id = ?", id); err != nil {
				return err
			}
			r, err := s.ApplyTxAt(ctx, tx, &inv, types.InvoiceActionDueDatePassed, activity.ActorScheduler, nil, now)
			moved = r.Changed
			return err
		})
		switch {
		case err != nil:
			res.Failed++
			metrics.SweepEntity(activity.EntityInvoice, "failed")
			logctx.FromCtx(ctx, s.log).Errorw("overdue sweep failed for invoice", "invoice_id", id, "err", err)
		case moved:
			res.Moved++
			metrics.SweepEntity(activity.EntityInvoice, "moved")
		default:
			metrics.SweepEntity(activity.EntityInvoice, "unchanged")
		}
	}
	return res, nil
}

func lockOwned(tx *ledger.Tx, tenantID, id string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := tx.LockFirst(&inv, "id = ? AND tenant_id = ?", id, tenantID); err != nil {
		return nil, fmt.Errorf("invoice %s: %w", id, err)
	}
	return &inv, nil
}

func snapshotOf(inv *models.Invoice) Snapshot {
	return Snapshot{Status: inv.Status, DueDate: inv.DueDate, PaidAt: inv.PaidAt}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), apperr.ErrNotFound)
	}
	return fmt.Errorf("%w: %v", apperr.ErrTransientStorage, err)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var Module = fx.Options(
	fx.Provide(NewService),
)
