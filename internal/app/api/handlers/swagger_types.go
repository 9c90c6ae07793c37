package handlers

import (
	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/payment"
	"github.com/fatflowers/invoicing/internal/app/service/reconcile"
	"github.com/fatflowers/invoicing/internal/app/service/scheduler"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespInvoice struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    InvoiceView              `json:"data"`
}

type RespClientInvoice struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ClientInvoiceView        `json:"data"`
}

type RespSubscription struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.Subscription      `json:"data"`
}

type RespEntitlement struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    EntitlementResponse      `json:"data"`
}

type RespSignup struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    SignupResponse           `json:"data"`
}

// RespGatewayResult is what a gateway receives after delivering an event.
type RespGatewayResult struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    reconcile.Result         `json:"data"`
}

type RespListActivity struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    activity.ListResponse    `json:"data"`
}

type RespListPayments struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    payment.ListResponse     `json:"data"`
}

type RespPayment struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.Payment           `json:"data"`
}

type RespSweep struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    scheduler.Result         `json:"data"`
}
