package types

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodVA   PaymentMethod = "va"
	PaymentMethodQRIS PaymentMethod = "qris"
	PaymentMethodSnap PaymentMethod = "snap"
)

// GatewaySource identifies the payment gateway an inbound event came from.
type GatewaySource string

const (
	GatewaySourceStripe   GatewaySource = "stripe"
	GatewaySourceMidtrans GatewaySource = "midtrans"
)

// PaymentPurpose tells what a payment settles: the tenant's own PRO plan or
// one of the tenant's invoices paid by its client.
type PaymentPurpose string

const (
	PaymentPurposeSubscription PaymentPurpose = "subscription"
	PaymentPurposeInvoice      PaymentPurpose = "invoice"
)
