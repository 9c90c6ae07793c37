package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/fatflowers/invoicing/pkg/types"
)

func TestTableNames(t *testing.T) {
	require.Equal(t, "invoice", Invoice{}.TableName())
	require.Equal(t, "subscription", Subscription{}.TableName())
	require.Equal(t, "processed_event", ProcessedEvent{}.TableName())
	require.Equal(t, "activity_log", ActivityLog{}.TableName())
	require.Len(t, All(), 7)
}

func TestSumItems(t *testing.T) {
	total, err := SumItems(nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), total)

	total, err = SumItems([]InvoiceItem{
		{Description: "design", Quantity: 2, UnitPrice: 1500},
		{Description: "hosting", Quantity: 1, UnitPrice: 300},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2*1500+300), total)
}

func TestSumItems_Overflow(t *testing.T) {
	_, err := SumItems([]InvoiceItem{{Description: "line", Quantity: 3, UnitPrice: math.MaxInt64 / 2}})
	require.ErrorIs(t, err, ErrTotalOverflow)

	_, err = SumItems([]InvoiceItem{
		{Description: "a", Quantity: 1, UnitPrice: math.MaxInt64 - 10},
		{Description: "b", Quantity: 1, UnitPrice: 11},
	})
	require.ErrorIs(t, err, ErrTotalOverflow)

	total, err := SumItems([]InvoiceItem{
		{Description: "a", Quantity: 1, UnitPrice: math.MaxInt64 - 10},
		{Description: "b", Quantity: 1, UnitPrice: 10},
	})
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), total)
}

func TestActivityLog_HasEffect(t *testing.T) {
	var nilLog *ActivityLog
	require.False(t, nilLog.HasEffect(types.EffectInvoiceSent))

	l := &ActivityLog{Effects: datatypes.NewJSONType([]types.EffectKind{types.EffectPaymentConfirmation})}
	require.True(t, l.HasEffect(types.EffectPaymentConfirmation))
	require.False(t, l.HasEffect(types.EffectOverdueNotice))
}
