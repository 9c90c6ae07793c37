package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/ledger"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/tool"
	"github.com/fatflowers/invoicing/pkg/types"
)

// Refunder issues a full refund of a charge at its gateway and returns the
// gateway's refund id.
type Refunder interface {
	Refund(ctx context.Context, gatewayRef string) (string, error)
}

// Refunders maps each gateway to its refund client. Gateways without an entry
// cannot be refunded from the admin API.
type Refunders map[types.GatewaySource]Refunder

type Service struct {
	store     *ledger.Store
	activity  *activity.Recorder
	refunders Refunders
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewService(store *ledger.Store, rec *activity.Recorder, refunders Refunders, log *zap.SugaredLogger) *Service {
	return &Service{
		store:     store,
		activity:  rec,
		refunders: refunders,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Record is what a gateway event tells us about one charge.
type Record struct {
	Source     types.GatewaySource
	GatewayRef string
	// ChargeRef is set when GatewayRef is not itself refundable.
	ChargeRef string
	TenantID  string
	InvoiceID *string
	Purpose   types.PaymentPurpose
	Amount    int64
	Currency  string
	Method    types.PaymentMethod
	Status    types.PaymentStatus
	Extra     map[string]any
}

// UpsertTx creates the payment for (Source, GatewayRef) or moves the existing
// one forward to rec.Status. Amount and currency of an existing row are kept.
func (s *Service) UpsertTx(ctx context.Context, tx *ledger.Tx, rec Record, actor string) (*models.Payment, bool, error) {
	if rec.GatewayRef == "" {
		return nil, false, apperr.InvalidInput("payment without gateway reference")
	}
	now := s.now()
	var p models.Payment
	err := tx.LockFirst(&p, "source = ? AND gateway_ref = ?", rec.Source, rec.GatewayRef)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return s.createTx(ctx, tx, rec, actor, now)
	case err != nil:
		return nil, false, err
	}
	linked := linkCharge(&p, rec.ChargeRef)
	changed, err := s.moveTx(ctx, tx, &p, rec.Status, actor, rec.Extra, now)
	if err == nil && linked && !changed {
		err = tx.SaveVersioned(&p, &p.Version)
	}
	return &p, changed, err
}

// linkCharge sets ChargeRef the first time it is learned.
func linkCharge(p *models.Payment, chargeRef string) bool {
	if chargeRef == "" || chargeRef == p.GatewayRef || p.ChargeRef != nil {
		return false
	}
	p.ChargeRef = &chargeRef
	return true
}

// LinkChargeTx records the refundable charge behind an existing payment.
// Unknown payments return apperr.ErrNotFound.
func (s *Service) LinkChargeTx(ctx context.Context, tx *ledger.Tx, source types.GatewaySource, gatewayRef, chargeRef string) (*models.Payment, bool, error) {
	var p models.Payment
	if err := tx.LockFirst(&p, "source = ? AND gateway_ref = ?", source, gatewayRef); err != nil {
		return nil, false, fmt.Errorf("payment %s/%s: %w", source, gatewayRef, err)
	}
	if !linkCharge(&p, chargeRef) {
		return &p, false, nil
	}
	if err := tx.SaveVersioned(&p, &p.Version); err != nil {
		return nil, false, err
	}
	logctx.FromCtx(ctx, s.log).Infow("payment linked to charge", "payment_id", p.ID, "charge_ref", chargeRef)
	return &p, true, nil
}

func (s *Service) createTx(ctx context.Context, tx *ledger.Tx, rec Record, actor string, now time.Time) (*models.Payment, bool, error) {
	if rec.TenantID == "" {
		return nil, false, apperr.InvalidInput("payment %s/%s has no tenant", rec.Source, rec.GatewayRef)
	}
	p := &models.Payment{
		ID:         tool.GenerateUUIDV7(),
		TenantID:   rec.TenantID,
		InvoiceID:  rec.InvoiceID,
		Purpose:    rec.Purpose,
		Amount:     rec.Amount,
		Currency:   strings.ToUpper(rec.Currency),
		Status:     rec.Status,
		Method:     rec.Method,
		Source:     rec.Source,
		GatewayRef: rec.GatewayRef,
		Extra:      datatypes.JSONMap(rec.Extra),
		Version:    1,
	}
	linkCharge(p, rec.ChargeRef)
	stamp(p, now)
	if err := tx.DB().Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// a concurrent event for the same charge won the insert
			return nil, false, fmt.Errorf("payment %s/%s: %w", rec.Source, rec.GatewayRef, apperr.ErrVersionConflict)
		}
		return nil, false, fmt.Errorf("failed to create payment: %w", err)
	}
	err := s.activity.Record(ctx, tx.DB(), now, activity.Entry{
		TenantID:   p.TenantID,
		Actor:      actor,
		Action:     "record",
		EntityType: activity.EntityPayment,
		EntityID:   p.ID,
		ToStatus:   string(p.Status),
		Extra:      map[string]any{"gateway_ref": p.GatewayRef, "source": string(p.Source)},
	})
	return p, true, err
}

func (s *Service) moveTx(ctx context.Context, tx *ledger.Tx, p *models.Payment, to types.PaymentStatus, actor string, extra map[string]any, now time.Time) (bool, error) {
	from := p.Status
	changed, err := NextStatus(from, to)
	if err != nil || !changed {
		return false, err
	}
	p.Status = to
	stamp(p, now)
	if len(extra) > 0 {
		if p.Extra == nil {
			p.Extra = datatypes.JSONMap{}
		}
		for k, v := range extra {
			p.Extra[k] = v
		}
	}
	if err := tx.SaveVersioned(p, &p.Version); err != nil {
		return false, err
	}
	return true, s.activity.Record(ctx, tx.DB(), now, activity.Entry{
		TenantID:   p.TenantID,
		Actor:      actor,
		Action:     "set_" + strings.ToLower(string(to)),
		EntityType: activity.EntityPayment,
		EntityID:   p.ID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Extra:      extra,
	})
}

// SetStatusTx moves an existing payment forward. ref matches either the
// gateway reference or the linked charge. Unknown references return
// apperr.ErrNotFound.
func (s *Service) SetStatusTx(ctx context.Context, tx *ledger.Tx, source types.GatewaySource, ref string, to types.PaymentStatus, actor string, extra map[string]any) (*models.Payment, bool, error) {
	var p models.Payment
	if err := tx.LockFirst(&p, "source = ? AND (gateway_ref = ? OR charge_ref = ?)", source, ref, ref); err != nil {
		return nil, false, fmt.Errorf("payment %s/%s: %w", source, ref, err)
	}
	changed, err := s.moveTx(ctx, tx, &p, to, actor, extra, s.now())
	return &p, changed, err
}

func stamp(p *models.Payment, now time.Time) {
	switch p.Status {
	case types.PaymentStatusCompleted:
		if p.CompletedAt == nil {
			p.CompletedAt = &now
		}
		if p.ReceiptNumber == nil {
			r := tool.GenerateReceiptNumber()
			p.ReceiptNumber = &r
		}
	case types.PaymentStatusRefunded:
		if p.RefundedAt == nil {
			p.RefundedAt = &now
		}
	}
}

func (s *Service) Get(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	err := s.store.DB(ctx).Where("id = ?", id).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("payment %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransientStorage, err)
	}
	return &p, nil
}

// Refund refunds a completed payment at its gateway, then records REFUNDED in
// a second transaction. The gateway call never runs inside a transaction.
// Refunding a REFUNDED payment is a no-op.
func (s *Service) Refund(ctx context.Context, id, actor string) (*models.Payment, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == types.PaymentStatusRefunded {
		return p, nil
	}
	if _, err := NextStatus(p.Status, types.PaymentStatusRefunded); err != nil {
		return nil, err
	}
	refunder, ok := s.refunders[p.Source]
	if !ok || refunder == nil {
		return nil, apperr.InvalidInput("refunds are not supported for %s payments", p.Source)
	}
	chargeRef := p.GatewayRef
	if p.ChargeRef != nil {
		chargeRef = *p.ChargeRef
	}
	refundRef, err := refunder.Refund(ctx, chargeRef)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("gateway refund failed", "payment_id", id, "source", p.Source, "err", err)
		return nil, fmt.Errorf("refund payment %s: %w", id, err)
	}

	var out *models.Payment
	err = s.store.InTx(ctx, func(tx *ledger.Tx) error {
		locked, _, err := s.SetStatusTx(ctx, tx, p.Source, p.GatewayRef, types.PaymentStatusRefunded, actor,
			map[string]any{"refund_ref": refundRef})
		out = locked
		return err
	})
	if err != nil {
		// the gateway already refunded; the charge.refunded webhook will
		// record it if this write is lost
		logctx.FromCtx(ctx, s.log).Errorw("failed to record refund", "payment_id", id, "refund_ref", refundRef, "err", err)
		return nil, err
	}
	return out, nil
}

// ListFilterFields are the columns admin listings may filter and sort on.
var ListFilterFields = []string{"tenant_id", "invoice_id", "purpose", "status", "method", "source", "gateway_ref", "charge_ref", "receipt_number", "created_at", "completed_at"}

type ListRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ListResponse struct {
	Items []*models.Payment `json:"items"`
	Total int64             `json:"total"`
}

// List is the paginated admin listing.
func (s *Service) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	if req == nil {
		return nil, apperr.InvalidInput("nil request")
	}
	if err := types.ValidateFilters(req.Filters, ListFilterFields); err != nil {
		return nil, apperr.InvalidInput("%v", err)
	}
	if req.SortBy == "" {
		req.SortBy = "created_at"
	}
	if err := types.ValidateFilters([]*types.CommonFilter{{Field: req.SortBy, Values: []any{true}}}, ListFilterFields); err != nil {
		return nil, apperr.InvalidInput("sort: %v", err)
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.store.DB(ctx).Model(&models.Payment{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd{Filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}

	var rows []*models.Payment
	q := tx.Limit(req.Size).Offset(req.From).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"},
			{Column: clause.Column{Name: "id"}, Desc: req.SortOrder != "asc"},
		}})
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return &ListResponse{Items: rows, Total: total}, nil
}
