package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/invoicing/pkg/types"
)

// Payment is one gateway charge. (Source, GatewayRef) is unique, so a second
// event for the same charge updates this row instead of creating another.
type Payment struct {
	ID        string               `gorm:"column:id;type:uuid;primary_key;index:idx_payment_tenant_id_id,priority:2,sort:desc" json:"id"`
	TenantID  string               `gorm:"column:tenant_id;type:varchar(64);not null;index:idx_payment_tenant_id_id,priority:1" json:"tenant_id"`
	InvoiceID *string              `gorm:"column:invoice_id;type:varchar(64);index" json:"invoice_id"`
	Purpose   types.PaymentPurpose `gorm:"column:purpose;type:varchar(32);not null" json:"purpose"`
	Amount    int64                `gorm:"column:amount;type:bigint;not null" json:"amount"`
	Currency  string               `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Status    types.PaymentStatus  `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Method    types.PaymentMethod  `gorm:"column:method;type:varchar(32);not null" json:"method"`
	Source    types.GatewaySource  `gorm:"column:source;type:varchar(32);not null;uniqueIndex:uniq_source_gateway_ref,priority:1" json:"source"`
	// GatewayRef is the charge id at the gateway (payment intent, Midtrans transaction id).
	GatewayRef string `gorm:"column:gateway_ref;type:varchar(128);not null;uniqueIndex:uniq_source_gateway_ref,priority:2" json:"gateway_ref"`
	// ChargeRef is the refundable charge when GatewayRef names something else,
	// such as the Stripe invoice a subscription payment settled.
	ChargeRef *string `gorm:"column:charge_ref;type:varchar(128);index:idx_payment_source_charge_ref" json:"charge_ref"`
	// ReceiptNumber is assigned once, when the payment completes.
	ReceiptNumber *string           `gorm:"column:receipt_number;type:varchar(64);uniqueIndex" json:"receipt_number"`
	CompletedAt   *time.Time        `gorm:"column:completed_at;default:null" json:"completed_at"`
	RefundedAt    *time.Time        `gorm:"column:refunded_at;default:null" json:"refunded_at"`
	Extra         datatypes.JSONMap `gorm:"column:extra;type:jsonb" json:"extra"`
	Version       int64             `gorm:"column:version;not null" json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}
