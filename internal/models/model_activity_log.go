package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/invoicing/pkg/types"
)

// ActivityLog is the append-only audit trail of state transitions.
// Use case: admin reporting and troubleshooting.
type ActivityLog struct {
	ID       string `gorm:"column:id;type:uuid;primary_key;index:idx_activity_tenant_id_id,priority:2,sort:desc" json:"id"`
	TenantID string `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_activity_tenant_id_id,priority:1" json:"tenant_id"`
	// Actor is a tenant id, "scheduler", or "gateway:<source>".
	Actor      string `gorm:"column:actor;type:varchar(128);not null" json:"actor"`
	Action     string `gorm:"column:action;type:varchar(64);not null" json:"action"`
	EntityType string `gorm:"column:entity_type;type:varchar(32);not null;index:idx_activity_entity,priority:1" json:"entity_type"`
	EntityID   string `gorm:"column:entity_id;type:varchar(64);not null;index:idx_activity_entity,priority:2" json:"entity_id"`
	FromStatus string `gorm:"column:from_status;type:varchar(32)" json:"from_status"`
	ToStatus   string `gorm:"column:to_status;type:varchar(32)" json:"to_status"`
	// Effects lists the notifications enqueued by this transition.
	Effects     datatypes.JSONType[[]types.EffectKind] `gorm:"column:effects;type:jsonb" json:"effects"`
	Description string                                 `gorm:"column:description;type:text" json:"description"`
	Extra       datatypes.JSONMap                      `gorm:"column:extra;type:jsonb" json:"extra"`
	CreatedAt   time.Time                              `json:"created_at"`
}

func (ActivityLog) TableName() string {
	return "activity_log"
}

// HasEffect reports whether the entry enqueued the given effect.
func (a *ActivityLog) HasEffect(kind types.EffectKind) bool {
	if a == nil {
		return false
	}
	for _, k := range a.Effects.Data() {
		if k == kind {
			return true
		}
	}
	return false
}
