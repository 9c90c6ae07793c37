package payment

import (
	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/pkg/types"
)

// forward lists the statuses each status may move to.
var forward = map[types.PaymentStatus][]types.PaymentStatus{
	types.PaymentStatusPending:   {types.PaymentStatusCompleted, types.PaymentStatusFailed},
	types.PaymentStatusCompleted: {types.PaymentStatusRefunded},
}

// NextStatus validates a payment status update. Updating to the current
// status is a replay and reports changed=false.
func NextStatus(from, to types.PaymentStatus) (changed bool, err error) {
	if from == to {
		return false, nil
	}
	for _, s := range forward[from] {
		if s == to {
			return true, nil
		}
	}
	return false, apperr.Rejected("payment", "set_"+string(to), string(from))
}
