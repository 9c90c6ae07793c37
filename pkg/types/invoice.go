package types

type InvoiceStatus string

const (
	InvoiceStatusDraft    InvoiceStatus = "DRAFT"
	InvoiceStatusSent     InvoiceStatus = "SENT"
	InvoiceStatusPaid     InvoiceStatus = "PAID"
	InvoiceStatusOverdue  InvoiceStatus = "OVERDUE"
	InvoiceStatusCanceled InvoiceStatus = "CANCELED"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCanceled:
		return true
	}
	return false
}

// InvoiceAction is either an owner command or a signal raised by the scheduler
// or a payment gateway.
type InvoiceAction string

const (
	InvoiceActionSend          InvoiceAction = "send"
	InvoiceActionMarkSent      InvoiceAction = "mark_sent"
	InvoiceActionMarkPaid      InvoiceAction = "mark_paid"
	InvoiceActionCancel        InvoiceAction = "cancel"
	InvoiceActionEdit          InvoiceAction = "edit"
	InvoiceActionRemind        InvoiceAction = "remind"
	InvoiceActionDueDatePassed InvoiceAction = "due_date_passed"
)

// UserInvoiceActions are the actions an owner may trigger through the API.
var UserInvoiceActions = []InvoiceAction{
	InvoiceActionSend,
	InvoiceActionMarkSent,
	InvoiceActionMarkPaid,
	InvoiceActionCancel,
	InvoiceActionRemind,
}
