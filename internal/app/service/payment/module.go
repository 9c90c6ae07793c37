package payment

import (
	"go.uber.org/fx"

	"github.com/fatflowers/invoicing/internal/platform/stripe"
	"github.com/fatflowers/invoicing/pkg/types"
)

// Midtrans refunds go through the merchant dashboard; only Stripe is wired.
func newRefunders(sc *stripe.Client) Refunders {
	return Refunders{types.GatewaySourceStripe: sc}
}

var Module = fx.Options(
	fx.Provide(newRefunders, NewService),
)
