package midtrans

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	cfgpkg "github.com/fatflowers/invoicing/pkg/config"
	"github.com/fatflowers/invoicing/pkg/types"
)

const serverKey = "SB-Mid-server-test"

func body(t *testing.T, n Notification) []byte {
	t.Helper()
	b, err := json.Marshal(n)
	require.NoError(t, err)
	return b
}

func TestParse_Signature(t *testing.T) {
	v := NewVerifier(&cfgpkg.Config{Midtrans: cfgpkg.MidtransConfig{ServerKey: serverKey}})
	n := Notification{
		TransactionID:     "tx-1",
		TransactionStatus: "settlement",
		StatusCode:        "200",
		OrderID:           "INV-abc",
		GrossAmount:       "150000.00",
		PaymentType:       "bank_transfer",
		SettlementTime:    "2026-03-01 10:00:00",
	}
	n.SignatureKey = Signature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)

	got, err := v.Parse(body(t, n))
	require.NoError(t, err)
	require.Equal(t, "tx-1:settlement", got.EventID())
	require.Equal(t, StateCaptured, got.State())
	require.Equal(t, types.PaymentMethodVA, got.Method())

	amount, err := got.AmountMinor()
	require.NoError(t, err)
	require.Equal(t, int64(150000), amount)

	at, err := got.SettledAt()
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), at)

	n.GrossAmount = "1.00"
	_, err = v.Parse(body(t, n))
	require.ErrorIs(t, err, apperr.ErrAuthenticity)

	_, err = v.Parse([]byte("not json"))
	require.ErrorIs(t, err, apperr.ErrAuthenticity)
}

func TestState(t *testing.T) {
	cases := map[string]TransactionState{
		"settlement":     StateCaptured,
		"pending":        StatePending,
		"expire":         StateFailed,
		"deny":           StateFailed,
		"refund":         StateRefunded,
		"partial_refund": StateRefunded,
		"weird":          StateUnknown,
	}
	for status, want := range cases {
		require.Equal(t, want, (&Notification{TransactionStatus: status}).State(), status)
	}
	challenged := &Notification{TransactionStatus: "capture", FraudStatus: "challenge"}
	require.Equal(t, StatePending, challenged.State())
}

func TestToMinorUnits(t *testing.T) {
	v, err := ToMinorUnits("19.99", "USD")
	require.NoError(t, err)
	require.Equal(t, int64(1999), v)

	v, err = ToMinorUnits("99000.00", "IDR")
	require.NoError(t, err)
	require.Equal(t, int64(99000), v)

	_, err = ToMinorUnits("99000.50", "IDR")
	require.Error(t, err)
	_, err = ToMinorUnits("-1", "USD")
	require.Error(t, err)
	_, err = ToMinorUnits("abc", "USD")
	require.Error(t, err)
}
