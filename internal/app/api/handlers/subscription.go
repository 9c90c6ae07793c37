package handlers

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/invoicing/internal/app/api/middleware"
	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/app/service/subscription"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/response"
	"github.com/fatflowers/invoicing/pkg/types"
)

type EntitlementResponse struct {
	Entitled     bool                 `json:"entitled"`
	Subscription *models.Subscription `json:"subscription"`
}

// @Summary      Get Subscription
// @Tags         Subscription
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/subscription [get]
func ApiGetSubscription(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := svc.Get(c.Request.Context(), middleware.TenantID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

// @Summary      Entitlement
// @Description  Whether the tenant currently has PRO access.
// @Tags         Subscription
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespEntitlement
// @Router       /api/v1/subscription/entitlement [get]
func ApiEntitlement(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, sub, err := svc.Entitlement(c.Request.Context(), middleware.TenantID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(&EntitlementResponse{Entitled: ok, Subscription: sub}))
	}
}

// @Summary      Subscription Action
// @Description  Applies start_trial, cancel or downgrade. Disallowed transitions return code 40900.
// @Tags         Subscription
// @Produce      json
// @Security     BearerAuth
// @Param        action  path  string  true  "Action"
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/subscription/actions/{action} [post]
func ApiSubscriptionAction(svc *subscription.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		action := types.SubscriptionAction(c.Param("action"))
		if !slices.Contains(types.UserSubscriptionActions, action) {
			fail(c, apperr.InvalidInput("unknown subscription action %q", action))
			return
		}
		tenantID := middleware.TenantID(c)
		sub, err := svc.Act(c.Request.Context(), tenantID, action, tenantID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

func RegisterSubscriptionRoutes(r gin.IRouter, svc *subscription.Service) {
	r.GET("/subscription", ApiGetSubscription(svc))
	r.GET("/subscription/entitlement", ApiEntitlement(svc))
	r.POST("/subscription/actions/:action", ApiSubscriptionAction(svc))
}
