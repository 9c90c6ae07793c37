package handlers

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/invoicing/internal/app/api/middleware"
	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/app/service/invoice"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/response"
	"github.com/fatflowers/invoicing/pkg/types"
)

// InvoiceView is the owner's view of an invoice, including the client
// access token needed to share it.
type InvoiceView struct {
	*models.Invoice
	AccessToken string `json:"access_token"`
}

func toInvoiceView(inv *models.Invoice) *InvoiceView {
	return &InvoiceView{Invoice: inv, AccessToken: inv.AccessToken}
}

// ClientInvoiceView is what the invoice's client sees. It carries no
// internal identifiers.
type ClientInvoiceView struct {
	Number     string               `json:"number"`
	ClientName string               `json:"client_name"`
	Status     types.InvoiceStatus  `json:"status"`
	IssueDate  time.Time            `json:"issue_date"`
	DueDate    *time.Time           `json:"due_date"`
	Items      []models.InvoiceItem `json:"items"`
	Total      int64                `json:"total"`
	Currency   string               `json:"currency"`
	PaidAt     *time.Time           `json:"paid_at"`
	Notes      string               `json:"notes"`
}

func toClientView(inv *models.Invoice) *ClientInvoiceView {
	return &ClientInvoiceView{
		Number:     inv.Number,
		ClientName: inv.ClientName,
		Status:     inv.Status,
		IssueDate:  inv.IssueDate,
		DueDate:    inv.DueDate,
		Items:      inv.Items.Data(),
		Total:      inv.Total,
		Currency:   inv.Currency,
		PaidAt:     inv.PaidAt,
		Notes:      inv.Notes,
	}
}

// @Summary      Create Invoice
// @Description  Creates a DRAFT invoice. The total is derived from the items.
// @Tags         Invoice
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body invoice.CreateRequest true "Invoice"
// @Success      200  {object}  handlers.RespInvoice
// @Router       /api/v1/invoices [post]
func ApiCreateInvoice(svc *invoice.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req invoice.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		tenantID := middleware.TenantID(c)
		inv, err := svc.Create(c.Request.Context(), tenantID, tenantID, &req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(toInvoiceView(inv)))
	}
}

// @Summary      Edit Invoice
// @Description  Patches a DRAFT or SENT invoice. Omitted fields are unchanged.
// @Tags         Invoice
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id      path  string               true  "Invoice ID"
// @Param        request body  invoice.EditRequest  true  "Fields to change"
// @Success      200  {object}  handlers.RespInvoice
// @Router       /api/v1/invoices/{id} [patch]
func ApiEditInvoice(svc *invoice.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req invoice.EditRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		tenantID := middleware.TenantID(c)
		inv, err := svc.Edit(c.Request.Context(), tenantID, c.Param("id"), tenantID, &req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(toInvoiceView(inv)))
	}
}

// @Summary      Get Invoice
// @Tags         Invoice
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  string  true  "Invoice ID"
// @Success      200  {object}  handlers.RespInvoice
// @Router       /api/v1/invoices/{id} [get]
func ApiGetInvoice(svc *invoice.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := svc.Get(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(toInvoiceView(inv)))
	}
}

// @Summary      Invoice Action
// @Description  Applies send, mark_sent, mark_paid, cancel or remind. Disallowed transitions return code 40900.
// @Tags         Invoice
// @Produce      json
// @Security     BearerAuth
// @Param        id      path  string  true  "Invoice ID"
// @Param        action  path  string  true  "Action"
// @Success      200  {object}  handlers.RespInvoice
// @Router       /api/v1/invoices/{id}/actions/{action} [post]
func ApiInvoiceAction(svc *invoice.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		action := types.InvoiceAction(c.Param("action"))
		if !slices.Contains(types.UserInvoiceActions, action) {
			fail(c, apperr.InvalidInput("unknown invoice action %q", action))
			return
		}
		tenantID := middleware.TenantID(c)
		inv, err := svc.Act(c.Request.Context(), tenantID, c.Param("id"), action, tenantID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(toInvoiceView(inv)))
	}
}

// @Summary      Client Invoice View
// @Description  Read-only invoice view for the client holding the access token.
// @Tags         Public
// @Produce      json
// @Param        token  path  string  true  "Access token"
// @Success      200  {object}  handlers.RespClientInvoice
// @Router       /api/v1/public/invoices/{token} [get]
func ApiClientInvoice(svc *invoice.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := svc.GetByAccessToken(c.Request.Context(), c.Param("token"))
		if err != nil {
			fail(c, err)
			return
		}
		// drafts are not issued yet
		if inv.Status == types.InvoiceStatusDraft {
			fail(c, apperr.ErrNotFound)
			return
		}
		c.JSON(http.StatusOK, response.OKT(toClientView(inv)))
	}
}

func RegisterInvoiceRoutes(r gin.IRouter, svc *invoice.Service) {
	r.POST("/invoices", ApiCreateInvoice(svc))
	r.PATCH("/invoices/:id", ApiEditInvoice(svc))
	r.GET("/invoices/:id", ApiGetInvoice(svc))
	r.POST("/invoices/:id/actions/:action", ApiInvoiceAction(svc))
}

func RegisterPublicRoutes(r gin.IRouter, svc *invoice.Service) {
	r.GET("/invoices/:token", ApiClientInvoice(svc))
}
