// Package stripe wraps the parts of stripe-go the billing core uses:
// webhook verification and refunds.
package stripe

import (
	"context"
	"fmt"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/fx"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	cfgpkg "github.com/fatflowers/invoicing/pkg/config"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

type Client struct {
	webhookSecret string
	apiKeySet     bool
}

func New(cfg *cfgpkg.Config) *Client {
	if cfg.Stripe.APIKey != "" {
		stripeapi.Key = cfg.Stripe.APIKey
	}
	return &Client{
		webhookSecret: cfg.Stripe.WebhookSecret,
		apiKeySet:     cfg.Stripe.APIKey != "",
	}
}

// VerifyEvent checks the signature header against the endpoint secret and
// decodes the event envelope. Any failure wraps apperr.ErrAuthenticity.
func (c *Client) VerifyEvent(payload []byte, signatureHeader string) (stripeapi.Event, error) {
	if c.webhookSecret == "" {
		return stripeapi.Event{}, fmt.Errorf("%w: stripe webhook secret not configured", apperr.ErrAuthenticity)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripeapi.Event{}, fmt.Errorf("%w: stripe: %v", apperr.ErrAuthenticity, err)
	}
	return event, nil
}

// Refund refunds a charge in full and returns the refund id. ref is a
// payment intent (pi_) or charge (ch_) id; invoice-level references are
// refunded from the Stripe dashboard. It talks to the network and must not
// run inside a database transaction.
func (c *Client) Refund(ctx context.Context, ref string) (string, error) {
	if !c.apiKeySet {
		return "", fmt.Errorf("stripe: api key not configured")
	}
	params := &stripeapi.RefundParams{}
	switch {
	case strings.HasPrefix(ref, "pi_"):
		params.PaymentIntent = stripeapi.String(ref)
	case strings.HasPrefix(ref, "ch_"):
		params.Charge = stripeapi.String(ref)
	default:
		return "", fmt.Errorf("%w: stripe cannot refund reference %q", apperr.ErrInvalidInput, ref)
	}
	params.Context = ctx
	r, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: refund %s: %w", ref, err)
	}
	return r.ID, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
