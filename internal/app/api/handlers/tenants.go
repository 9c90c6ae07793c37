package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/invoicing/internal/app/api/middleware"
	"github.com/fatflowers/invoicing/internal/app/service/tenant"
	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/pkg/response"
)

type SignupResponse struct {
	Tenant       *models.Tenant       `json:"tenant"`
	Subscription *models.Subscription `json:"subscription"`
	Token        string               `json:"token"`
}

// @Summary      Sign Up
// @Description  Creates a tenant together with its FREE subscription and returns a bearer token.
// @Tags         Tenant
// @Accept       json
// @Produce      json
// @Param        request body tenant.SignupRequest true "Signup"
// @Success      200  {object}  handlers.RespSignup
// @Router       /api/v1/tenants [post]
func ApiSignup(svc *tenant.Service, auth *middleware.Auth) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tenant.SignupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		t, sub, err := svc.Create(c.Request.Context(), &req)
		if err != nil {
			fail(c, err)
			return
		}
		token, err := auth.IssueToken(t.ID, time.Now())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(&SignupResponse{Tenant: t, Subscription: sub, Token: token}))
	}
}

func RegisterTenantRoutes(r gin.IRouter, svc *tenant.Service, auth *middleware.Auth) {
	r.POST("/tenants", ApiSignup(svc, auth))
}
