package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/platform/midtrans"
	"github.com/fatflowers/invoicing/pkg/types"
)

// Midtrans order ids are "<prefix>-<id>[.<attempt>]": INV for a client paying
// an invoice, PRO for a tenant buying a PRO period.
const (
	orderPrefixInvoice = "INV-"
	orderPrefixPro     = "PRO-"
)

// Confirmer re-reads a verified notification's state from the gateway.
type Confirmer interface {
	Confirm(ctx context.Context, n *midtrans.Notification) (*midtrans.Notification, error)
}

type MidtransParser struct {
	verifier       *midtrans.Verifier
	confirmer      Confirmer
	periodDuration time.Duration
}

func NewMidtransParser(verifier *midtrans.Verifier, periodDuration time.Duration) *MidtransParser {
	return &MidtransParser{verifier: verifier, periodDuration: periodDuration}
}

// WithConfirmer makes every notification's transaction_status come from c.
func (p *MidtransParser) WithConfirmer(c Confirmer) *MidtransParser {
	p.confirmer = c
	return p
}

func (p *MidtransParser) Source() types.GatewaySource { return types.GatewaySourceMidtrans }

func (p *MidtransParser) Parse(ctx context.Context, raw RawEvent) (*Event, error) {
	n, err := p.verifier.Parse(raw.Payload)
	if err != nil {
		return nil, err
	}
	if p.confirmer != nil {
		if n, err = p.confirmer.Confirm(ctx, n); err != nil {
			return nil, err
		}
	}
	ev := &Event{
		Source:     types.GatewaySourceMidtrans,
		EventID:    n.EventID(),
		RawType:    n.TransactionStatus,
		OccurredAt: raw.ReceivedAt.UTC(),
	}
	if at, err := n.SettledAt(); err == nil {
		ev.OccurredAt = at
	}

	prefix, id := SplitOrderID(n.OrderID)
	switch prefix {
	case orderPrefixInvoice:
		ev.InvoiceID = id
	case orderPrefixPro:
		ev.TenantID = id
	default:
		ev.Kind = KindUnknown
		return ev, nil
	}

	amount, err := n.AmountMinor()
	if err != nil {
		return nil, apperr.InvalidInput("midtrans order %s: %v", n.OrderID, err)
	}
	ev.Payment = &PaymentInfo{
		GatewayRef: n.TransactionID,
		Amount:     amount,
		Currency:   n.CurrencyCode(),
		Method:     n.Method(),
	}

	switch n.State() {
	case midtrans.StateCaptured:
		if ev.InvoiceID != "" {
			ev.Kind = KindInvoicePaid
			break
		}
		ev.Kind = KindSubscriptionPaymentCaptured
		end := ev.OccurredAt.Add(p.periodDuration)
		ev.PeriodEnd = &end
	case midtrans.StatePending:
		ev.Kind = KindPaymentPending
	case midtrans.StateFailed:
		ev.Kind = KindPaymentFailed
	case midtrans.StateRefunded:
		if n.TransactionStatus == "partial_refund" {
			ev.Kind = KindUnknown
			break
		}
		ev.Kind = KindPaymentRefunded
	default:
		ev.Kind = KindUnknown
	}
	return ev, nil
}

// SplitOrderID returns the order prefix (with its dash) and the entity id,
// dropping any ".<attempt>" suffix. Unrecognized ids return empty strings.
func SplitOrderID(orderID string) (prefix, id string) {
	for _, pre := range []string{orderPrefixInvoice, orderPrefixPro} {
		if rest, ok := strings.CutPrefix(orderID, pre); ok {
			id, _, _ = strings.Cut(rest, ".")
			if id == "" {
				return "", ""
			}
			return pre, id
		}
	}
	return "", ""
}

var _ Parser = (*MidtransParser)(nil)
