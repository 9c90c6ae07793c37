// Package midtrans verifies and decodes Midtrans HTTP notifications
// (VA, QRIS and Snap payments).
package midtrans

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	cfgpkg "github.com/fatflowers/invoicing/pkg/config"
	"github.com/fatflowers/invoicing/pkg/types"
)

// Notification is the body Midtrans posts to the notification URL.
type Notification struct {
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	TransactionTime   string `json:"transaction_time"`
	SettlementTime    string `json:"settlement_time"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	Currency          string `json:"currency"`
	FraudStatus       string `json:"fraud_status"`
}

// TransactionState is the gateway-neutral reading of transaction_status.
type TransactionState string

const (
	StateCaptured TransactionState = "captured"
	StatePending  TransactionState = "pending"
	StateFailed   TransactionState = "failed"
	StateRefunded TransactionState = "refunded"
	StateUnknown  TransactionState = "unknown"
)

// wib is the zone Midtrans timestamps are expressed in.
var wib = time.FixedZone("WIB", 7*60*60)

const timeLayout = "2006-01-02 15:04:05"

type Verifier struct {
	serverKey string
}

func NewVerifier(cfg *cfgpkg.Config) *Verifier {
	return &Verifier{serverKey: cfg.Midtrans.ServerKey}
}

// Parse decodes body and checks signature_key, which is
// SHA512(order_id + status_code + gross_amount + server_key) in hex.
func (v *Verifier) Parse(body []byte) (*Notification, error) {
	if v.serverKey == "" {
		return nil, fmt.Errorf("%w: midtrans server key not configured", apperr.ErrAuthenticity)
	}
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: midtrans: malformed body: %v", apperr.ErrAuthenticity, err)
	}
	if n.OrderID == "" || n.TransactionID == "" || n.SignatureKey == "" {
		return nil, fmt.Errorf("%w: midtrans: missing order_id, transaction_id or signature_key", apperr.ErrAuthenticity)
	}
	want := Signature(n.OrderID, n.StatusCode, n.GrossAmount, v.serverKey)
	if subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(n.SignatureKey))) != 1 {
		return nil, fmt.Errorf("%w: midtrans: signature mismatch for order %s", apperr.ErrAuthenticity, n.OrderID)
	}
	return &n, nil
}

func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// EventID identifies one status change of one transaction. Midtrans repeats
// the same transaction id across pending, settlement and refund.
func (n *Notification) EventID() string {
	return n.TransactionID + ":" + n.TransactionStatus
}

func (n *Notification) State() TransactionState {
	switch n.TransactionStatus {
	case "capture":
		// card captures flagged by fraud screening are not money yet
		if n.FraudStatus == "challenge" {
			return StatePending
		}
		return StateCaptured
	case "settlement":
		return StateCaptured
	case "pending", "authorize":
		return StatePending
	case "deny", "cancel", "expire", "failure":
		return StateFailed
	case "refund", "partial_refund":
		return StateRefunded
	}
	return StateUnknown
}

func (n *Notification) Method() types.PaymentMethod {
	switch n.PaymentType {
	case "bank_transfer", "echannel", "permata":
		return types.PaymentMethodVA
	case "qris":
		return types.PaymentMethodQRIS
	case "credit_card":
		return types.PaymentMethodCard
	}
	return types.PaymentMethodSnap
}

func (n *Notification) CurrencyCode() string {
	if n.Currency == "" {
		return "IDR"
	}
	return strings.ToUpper(n.Currency)
}

// AmountMinor converts gross_amount ("150000.00") to minor units of the
// notification currency.
func (n *Notification) AmountMinor() (int64, error) {
	return ToMinorUnits(n.GrossAmount, n.CurrencyCode())
}

// SettledAt returns settlement_time, falling back to transaction_time.
func (n *Notification) SettledAt() (time.Time, error) {
	raw := n.SettlementTime
	if raw == "" {
		raw = n.TransactionTime
	}
	t, err := time.ParseInLocation(timeLayout, raw, wib)
	if err != nil {
		return time.Time{}, fmt.Errorf("midtrans: parse time %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// currencyExponent lists currencies whose minor unit is not 1/100.
var currencyExponent = map[string]int32{
	"IDR": 0,
	"JPY": 0,
	"KRW": 0,
}

func Exponent(currency string) int32 {
	if e, ok := currencyExponent[strings.ToUpper(currency)]; ok {
		return e
	}
	return 2
}

// ToMinorUnits parses a decimal amount string. Amounts with more precision
// than the currency allows are rejected rather than rounded.
func ToMinorUnits(amount, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("midtrans: parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("midtrans: negative amount %q", amount)
	}
	minor := d.Shift(Exponent(currency))
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("midtrans: amount %q has sub-minor-unit precision for %s", amount, currency)
	}
	return minor.IntPart(), nil
}

var Module = fx.Options(
	fx.Provide(NewVerifier, NewStatusClient),
)
