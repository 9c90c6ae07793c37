package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/invoicing/internal/app/api/middleware"
	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/payment"
	"github.com/fatflowers/invoicing/internal/app/service/scheduler"
	"github.com/fatflowers/invoicing/pkg/response"
)

// Sweeper runs the time-based transitions on demand.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (scheduler.Result, error)
}

// @Summary      List Activity (Admin)
// @Description  Retrieves a paginated and filterable list of recorded transitions.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminToken
// @Param        request body activity.ListRequest true "Filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListActivity
// @Router       /api/v1/admin/list_activity [post]
func ApiListActivity(rec *activity.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req activity.ListRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := rec.List(c.Request.Context(), &req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      List Payments (Admin)
// @Description  Retrieves a paginated and filterable list of gateway payments.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminToken
// @Param        request body payment.ListRequest true "Filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListPayments
// @Router       /api/v1/admin/list_payments [post]
func ApiListPayments(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.ListRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := svc.List(c.Request.Context(), &req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Refund Payment (Admin)
// @Description  Refunds a completed payment at its gateway, then records it as REFUNDED.
// @Tags         Admin
// @Produce      json
// @Security     AdminToken
// @Param        id  path  string  true  "Payment ID"
// @Success      200  {object}  handlers.RespPayment
// @Router       /api/v1/admin/payments/{id}/refund [post]
func ApiRefundPayment(svc *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.Refund(c.Request.Context(), c.Param("id"), middleware.AdminActor)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

// @Summary      Run Sweep (Admin)
// @Description  Runs the overdue and period sweeps immediately.
// @Tags         Admin
// @Produce      json
// @Security     AdminToken
// @Success      200  {object}  handlers.RespSweep
// @Router       /api/v1/admin/sweep [post]
func ApiSweep(s Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.Sweep(c.Request.Context(), time.Now().UTC())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, rec *activity.Recorder, payments *payment.Service, s Sweeper) {
	r.POST("/list_activity", ApiListActivity(rec))
	r.POST("/list_payments", ApiListPayments(payments))
	r.POST("/payments/:id/refund", ApiRefundPayment(payments))
	r.POST("/sweep", ApiSweep(s))
}
