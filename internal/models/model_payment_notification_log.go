package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/invoicing/pkg/types"
)

type PaymentNotificationLogStatus string

const (
	PaymentNotificationLogStatusReceived     PaymentNotificationLogStatus = "received"
	PaymentNotificationLogStatusHandled      PaymentNotificationLogStatus = "handled"
	PaymentNotificationLogStatusHandleFailed PaymentNotificationLogStatus = "handle_failed"
	PaymentNotificationLogStatusRejected     PaymentNotificationLogStatus = "rejected"
)

// PaymentNotificationLog keeps every raw inbound gateway notification,
// including ones that fail verification. Diagnostic only.
type PaymentNotificationLog struct {
	ID               string                       `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Source           types.GatewaySource          `gorm:"column:source;type:varchar(32);not null" json:"source"`
	EventID          string                       `gorm:"column:event_id;type:varchar(255);index" json:"event_id"`
	Kind             string                       `gorm:"column:kind;type:varchar(64)" json:"kind"`
	TraceID          string                       `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	NotificationTime time.Time                    `gorm:"column:notification_time" json:"notification_time"`
	Data             datatypes.JSON               `gorm:"column:data;type:jsonb" json:"data"`
	Result           *datatypes.JSON              `gorm:"column:result;type:jsonb" json:"result"`
	Status           PaymentNotificationLogStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	CreatedAt        time.Time                    `json:"created_at"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

func (PaymentNotificationLog) TableName() string { return "payment_notification_log" }

// All lists every model for migrations.
func All() []any {
	return []any{
		&Tenant{},
		&Invoice{},
		&Subscription{},
		&Payment{},
		&ProcessedEvent{},
		&ActivityLog{},
		&PaymentNotificationLog{},
	}
}
