// Package activity is the append-only audit trail of state transitions.
package activity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/metrics"
	"github.com/fatflowers/invoicing/pkg/tool"
	"github.com/fatflowers/invoicing/pkg/types"
)

const (
	EntityInvoice      = "invoice"
	EntitySubscription = "subscription"
	EntityPayment      = "payment"
	EntityTenant       = "tenant"

	ActorScheduler = "scheduler"
)

// GatewayActor names the actor for transitions driven by a gateway event.
func GatewayActor(source types.GatewaySource) string {
	return "gateway:" + string(source)
}

type Entry struct {
	TenantID    string
	Actor       string
	Action      string
	EntityType  string
	EntityID    string
	FromStatus  string
	ToStatus    string
	Effects     []types.EffectKind
	Description string
	Extra       map[string]any
}

type Recorder struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewRecorder(db *gorm.DB, log *zap.SugaredLogger) *Recorder {
	return &Recorder{db: db, log: log}
}

// Record appends e using tx, so the entry commits or rolls back with the
// transition it describes.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, at time.Time, e Entry) error {
	row := &models.ActivityLog{
		ID:          tool.GenerateUUIDV7(),
		TenantID:    e.TenantID,
		Actor:       e.Actor,
		Action:      e.Action,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		FromStatus:  e.FromStatus,
		ToStatus:    e.ToStatus,
		Effects:     datatypes.NewJSONType(e.Effects),
		Description: e.Description,
		Extra:       datatypes.JSONMap(e.Extra),
		CreatedAt:   at,
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	metrics.Transition(e.EntityType, e.Action, e.ToStatus)
	logctx.FromCtx(ctx, r.log).Infow("transition",
		"entity", e.EntityType, "entity_id", e.EntityID, "action", e.Action,
		"from", e.FromStatus, "to", e.ToStatus, "actor", e.Actor, "effects", e.Effects)
	return nil
}

// ListFilterFields are the columns admin listings may filter and sort on.
var ListFilterFields = []string{"tenant_id", "actor", "action", "entity_type", "entity_id", "to_status", "created_at"}

type ListRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ListResponse struct {
	Items []*models.ActivityLog `json:"items"`
	Total int64                 `json:"total"`
}

// List is the paginated admin listing.
func (r *Recorder) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
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

	tx := r.db.WithContext(ctx).Model(&models.ActivityLog{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd{Filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count activity: %w", err)
	}

	var rows []*models.ActivityLog
	q := tx.Limit(req.Size).Offset(req.From).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"},
			{Column: clause.Column{Name: "id"}, Desc: req.SortOrder != "asc"},
		}})
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return &ListResponse{Items: rows, Total: total}, nil
}

// ForEntity returns the trail of one entity, oldest first.
func (r *Recorder) ForEntity(ctx context.Context, entityType, entityID string) ([]*models.ActivityLog, error) {
	var rows []*models.ActivityLog
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load activity: %w", err)
	}
	return rows, nil
}

var Module = fx.Options(
	fx.Provide(NewRecorder),
)
