package models

import (
	"errors"
	"math"
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/invoicing/pkg/types"
)

type InvoiceItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	// UnitPrice is in minor units of the invoice currency.
	UnitPrice int64 `json:"unit_price"`
}

// Invoice is a tenant's bill to one of its clients.
// PaidAt is set if and only if Status is PAID.
type Invoice struct {
	ID       string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	TenantID string `gorm:"column:tenant_id;type:varchar(64);not null;uniqueIndex:uniq_tenant_number,priority:1" json:"tenant_id"`
	// Number is the human invoice number, unique per tenant.
	Number      string              `gorm:"column:number;type:varchar(64);not null;uniqueIndex:uniq_tenant_number,priority:2" json:"number"`
	ClientName  string              `gorm:"column:client_name;type:varchar(255);not null" json:"client_name"`
	ClientEmail string              `gorm:"column:client_email;type:varchar(255);not null" json:"client_email"`
	Status      types.InvoiceStatus `gorm:"column:status;type:varchar(32);not null;index:idx_invoice_status_due,priority:1" json:"status"`
	IssueDate   time.Time           `gorm:"column:issue_date;not null" json:"issue_date"`
	DueDate     *time.Time          `gorm:"column:due_date;default:null;index:idx_invoice_status_due,priority:2" json:"due_date"`
	// Total is derived from Items, in minor units.
	Total    int64      `gorm:"column:total;type:bigint;not null" json:"total"`
	Currency string     `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	PaidAt   *time.Time `gorm:"column:paid_at;default:null" json:"paid_at"`
	// AccessToken is the sole credential of the client view. Generated once.
	AccessToken string                            `gorm:"column:access_token;type:varchar(64);not null;uniqueIndex" json:"-"`
	Items       datatypes.JSONType[[]InvoiceItem] `gorm:"column:items;type:jsonb" json:"items"`
	Notes       string                            `gorm:"column:notes;type:text" json:"notes"`
	Version     int64                             `gorm:"column:version;not null" json:"version"`
	CreatedAt   time.Time                         `json:"created_at"`
	UpdatedAt   time.Time                         `json:"updated_at"`
}

func (Invoice) TableName() string {
	return "invoice"
}

// ErrTotalOverflow means an item line or the invoice total does not fit in int64.
var ErrTotalOverflow = errors.New("invoice total overflows")

// SumItems returns the invoice total for items. Quantities and unit prices
// must already be non-negative.
func SumItems(items []InvoiceItem) (int64, error) {
	var total int64
	for _, it := range items {
		if it.Quantity != 0 && it.UnitPrice > math.MaxInt64/it.Quantity {
			return 0, ErrTotalOverflow
		}
		line := it.Quantity * it.UnitPrice
		if total > math.MaxInt64-line {
			return 0, ErrTotalOverflow
		}
		total += line
	}
	return total, nil
}
