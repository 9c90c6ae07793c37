package reconcile

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	stripeclient "github.com/fatflowers/invoicing/internal/platform/stripe"
	"github.com/fatflowers/invoicing/pkg/types"
)

// Metadata keys set on Checkout Sessions, Payment Intents and subscriptions
// when the app creates them.
const (
	metaTenantID  = "tenant_id"
	metaInvoiceID = "invoice_id"
)

type StripeParser struct {
	client         *stripeclient.Client
	periodDuration time.Duration
}

func NewStripeParser(client *stripeclient.Client, periodDuration time.Duration) *StripeParser {
	return &StripeParser{client: client, periodDuration: periodDuration}
}

func (p *StripeParser) Source() types.GatewaySource { return types.GatewaySourceStripe }

func (p *StripeParser) Parse(_ context.Context, raw RawEvent) (*Event, error) {
	se, err := p.client.VerifyEvent(raw.Payload, raw.Signature)
	if err != nil {
		return nil, err
	}
	ev := &Event{
		Source:     types.GatewaySourceStripe,
		EventID:    se.ID,
		RawType:    string(se.Type),
		OccurredAt: raw.ReceivedAt.UTC(),
	}
	if se.Created > 0 {
		ev.OccurredAt = time.Unix(se.Created, 0).UTC()
	}
	if se.ID == "" {
		return nil, apperr.InvalidInput("stripe event without id")
	}
	if se.Data == nil || len(se.Data.Raw) == 0 {
		ev.Kind = KindUnknown
		return ev, nil
	}

	switch se.Type {
	case stripeapi.EventTypeCheckoutSessionCompleted, stripeapi.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var s stripeapi.CheckoutSession
		if err := json.Unmarshal(se.Data.Raw, &s); err != nil {
			return nil, decodeErr(se, err)
		}
		p.checkoutSession(ev, &s, false)
	case stripeapi.EventTypeCheckoutSessionAsyncPaymentFailed:
		var s stripeapi.CheckoutSession
		if err := json.Unmarshal(se.Data.Raw, &s); err != nil {
			return nil, decodeErr(se, err)
		}
		p.checkoutSession(ev, &s, true)
	case stripeapi.EventTypeInvoicePaid, stripeapi.EventTypeInvoicePaymentFailed:
		var in stripeapi.Invoice
		if err := json.Unmarshal(se.Data.Raw, &in); err != nil {
			return nil, decodeErr(se, err)
		}
		var parent invoiceParent
		if err := json.Unmarshal(se.Data.Raw, &parent); err != nil {
			return nil, decodeErr(se, err)
		}
		p.invoice(ev, &in, &parent, se.Type == stripeapi.EventTypeInvoicePaid)
	case stripeapi.EventTypeInvoicePaymentPaid:
		var ip stripeapi.InvoicePayment
		if err := json.Unmarshal(se.Data.Raw, &ip); err != nil {
			return nil, decodeErr(se, err)
		}
		invoicePaymentPaid(ev, &ip)
	case stripeapi.EventTypeChargeRefunded:
		var ch stripeapi.Charge
		if err := json.Unmarshal(se.Data.Raw, &ch); err != nil {
			return nil, decodeErr(se, err)
		}
		chargeRefunded(ev, &ch)
	default:
		ev.Kind = KindUnknown
	}
	return ev, nil
}

func decodeErr(se stripeapi.Event, err error) error {
	return apperr.InvalidInput("stripe %s %s: decode object: %v", se.Type, se.ID, err)
}

// checkoutSession maps one-off Checkout payments. Subscription-mode sessions
// are left to invoice.paid, which carries the billing period.
func (p *StripeParser) checkoutSession(ev *Event, s *stripeapi.CheckoutSession, failed bool) {
	if s.Mode == stripeapi.CheckoutSessionModeSubscription {
		ev.Kind = KindUnknown
		return
	}
	ev.TenantID = s.Metadata[metaTenantID]
	if ev.TenantID == "" {
		ev.TenantID = s.ClientReferenceID
	}
	ev.InvoiceID = s.Metadata[metaInvoiceID]
	if s.Customer != nil {
		ev.CustomerRef = s.Customer.ID
	}
	if ev.TenantID == "" && ev.InvoiceID == "" {
		ev.Kind = KindUnknown
		return
	}
	ref := s.ID
	if s.PaymentIntent != nil && s.PaymentIntent.ID != "" {
		ref = s.PaymentIntent.ID
	}
	ev.Payment = &PaymentInfo{
		GatewayRef: ref,
		Amount:     s.AmountTotal,
		Currency:   strings.ToUpper(string(s.Currency)),
		Method:     types.PaymentMethodCard,
	}

	switch {
	case failed:
		ev.Kind = KindPaymentFailed
	case s.PaymentStatus != stripeapi.CheckoutSessionPaymentStatusPaid:
		ev.Kind = KindPaymentPending
	case ev.InvoiceID != "":
		ev.Kind = KindInvoicePaid
	default:
		ev.Kind = KindSubscriptionPaymentCaptured
		end := ev.OccurredAt.Add(p.periodDuration)
		ev.PeriodEnd = &end
	}
}

// invoiceParent reads the subscription details of an invoice, where the
// metadata given at subscription creation is copied.
type invoiceParent struct {
	Parent *struct {
		SubscriptionDetails *struct {
			Metadata     map[string]string       `json:"metadata"`
			Subscription *stripeapi.Subscription `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (p *StripeParser) invoice(ev *Event, in *stripeapi.Invoice, parent *invoiceParent, paid bool) {
	ev.TenantID = in.Metadata[metaTenantID]
	if parent.Parent != nil && parent.Parent.SubscriptionDetails != nil {
		details := parent.Parent.SubscriptionDetails
		if ev.TenantID == "" {
			ev.TenantID = details.Metadata[metaTenantID]
		}
		if details.Subscription != nil {
			ev.SubscriptionRef = details.Subscription.ID
		}
	}
	if in.Customer != nil {
		ev.CustomerRef = in.Customer.ID
	}
	if ev.TenantID == "" && ev.CustomerRef == "" {
		ev.Kind = KindUnknown
		return
	}
	if !paid {
		ev.Kind = KindSubscriptionPaymentFailed
		return
	}
	// zero-amount invoices (trials, 100% coupons) move no money
	if in.AmountPaid <= 0 {
		ev.Kind = KindUnknown
		return
	}
	ev.Kind = KindSubscriptionPaymentCaptured
	ev.Payment = &PaymentInfo{
		GatewayRef: in.ID,
		ChargeRef:  invoiceChargeRef(in),
		Amount:     in.AmountPaid,
		Currency:   strings.ToUpper(string(in.Currency)),
		Method:     types.PaymentMethodCard,
	}
	end := invoicePeriodEnd(in)
	if end.IsZero() {
		end = ev.OccurredAt.Add(p.periodDuration)
	}
	ev.PeriodEnd = &end
}

// invoicePeriodEnd is the latest line item period end; invoice.period_end
// describes the previous period for subscription invoices.
func invoicePeriodEnd(in *stripeapi.Invoice) time.Time {
	var latest int64
	if in.Lines != nil {
		for _, l := range in.Lines.Data {
			if l != nil && l.Period != nil && l.Period.End > latest {
				latest = l.Period.End
			}
		}
	}
	if latest == 0 {
		latest = in.PeriodEnd
	}
	if latest == 0 {
		return time.Time{}
	}
	return time.Unix(latest, 0).UTC()
}

// invoiceChargeRef is the paid payment intent or charge among the invoice's
// payments. Webhooks only carry payments when the account includes them;
// invoice_payment.paid links the charge otherwise.
func invoiceChargeRef(in *stripeapi.Invoice) string {
	if in.Payments == nil {
		return ""
	}
	for _, ip := range in.Payments.Data {
		if ip == nil || ip.Status != "paid" {
			continue
		}
		if ref := paymentChargeRef(ip.Payment); ref != "" {
			return ref
		}
	}
	return ""
}

func paymentChargeRef(pp *stripeapi.InvoicePaymentPayment) string {
	switch {
	case pp == nil:
		return ""
	case pp.PaymentIntent != nil && pp.PaymentIntent.ID != "":
		return pp.PaymentIntent.ID
	case pp.Charge != nil && pp.Charge.ID != "":
		return pp.Charge.ID
	}
	return ""
}

// invoicePaymentPaid links the charge that settled a Stripe invoice to the
// payment recorded for that invoice.
func invoicePaymentPaid(ev *Event, ip *stripeapi.InvoicePayment) {
	ref := paymentChargeRef(ip.Payment)
	if ip.Invoice == nil || ip.Invoice.ID == "" || ref == "" {
		ev.Kind = KindUnknown
		return
	}
	ev.Kind = KindPaymentLinked
	ev.Payment = &PaymentInfo{
		GatewayRef: ip.Invoice.ID,
		ChargeRef:  ref,
		Amount:     ip.AmountPaid,
		Currency:   strings.ToUpper(string(ip.Currency)),
		Method:     types.PaymentMethodCard,
	}
}

// chargeRefunded maps full refunds only; partial refunds leave the payment
// COMPLETED.
func chargeRefunded(ev *Event, ch *stripeapi.Charge) {
	if !ch.Refunded {
		ev.Kind = KindUnknown
		return
	}
	ref := ch.ID
	if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
		ref = ch.PaymentIntent.ID
	}
	ev.Kind = KindPaymentRefunded
	ev.TenantID = ch.Metadata[metaTenantID]
	ev.Payment = &PaymentInfo{
		GatewayRef: ref,
		Amount:     ch.AmountRefunded,
		Currency:   strings.ToUpper(string(ch.Currency)),
		Method:     types.PaymentMethodCard,
	}
}

var _ Parser = (*StripeParser)(nil)
