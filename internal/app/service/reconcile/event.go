// Package reconcile turns verified gateway notifications into state machine
// signals, exactly once per (source, event id).
package reconcile

import (
	"context"
	"time"

	"github.com/fatflowers/invoicing/pkg/types"
)

// EventKind is the closed set of gateway event meanings the core acts on.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindInvoicePaid
	KindSubscriptionPaymentCaptured
	KindSubscriptionPaymentFailed
	KindPaymentPending
	KindPaymentFailed
	KindPaymentRefunded
	// KindPaymentLinked names the refundable charge behind a recorded payment.
	KindPaymentLinked
)

func (k EventKind) String() string {
	switch k {
	case KindInvoicePaid:
		return "invoice_paid"
	case KindSubscriptionPaymentCaptured:
		return "subscription_payment_captured"
	case KindSubscriptionPaymentFailed:
		return "subscription_payment_failed"
	case KindPaymentPending:
		return "payment_pending"
	case KindPaymentFailed:
		return "payment_failed"
	case KindPaymentRefunded:
		return "payment_refunded"
	case KindPaymentLinked:
		return "payment_linked"
	}
	return "unknown"
}

// RawEvent is an inbound notification exactly as received.
type RawEvent struct {
	Source     types.GatewaySource
	Payload    []byte
	Signature  string
	ReceivedAt time.Time
}

// PaymentInfo describes the charge an event reports on.
type PaymentInfo struct {
	GatewayRef string
	// ChargeRef is the refundable charge when it differs from GatewayRef.
	ChargeRef string
	Amount    int64
	Currency  string
	Method    types.PaymentMethod
}

// Event is a verified, gateway-neutral notification.
type Event struct {
	Source     types.GatewaySource
	EventID    string
	Kind       EventKind
	RawType    string
	OccurredAt time.Time
	// TenantID may be empty when only CustomerRef identifies the tenant.
	TenantID        string
	InvoiceID       string
	CustomerRef     string
	SubscriptionRef string
	Payment         *PaymentInfo
	// PeriodEnd is set for KindSubscriptionPaymentCaptured.
	PeriodEnd *time.Time
}

// Parser verifies and decodes the notifications of one gateway. Signature
// failures wrap apperr.ErrAuthenticity.
type Parser interface {
	Source() types.GatewaySource
	Parse(ctx context.Context, raw RawEvent) (*Event, error)
}

const (
	OutcomeApplied = "applied"
	// OutcomeNoop: the event restated a state already recorded.
	OutcomeNoop    = "noop"
	OutcomeIgnored = "ignored"
	rejectedPrefix = "rejected:"
)

// Result is what the gateway is told.
type Result struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
}
