package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fatflowers/invoicing/pkg/response"
)

// @Summary      Health check
// @Description  Returns service status
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /healthz [get]
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, response.OKT(map[string]string{"status": "ok"}))
}

// @Summary      Readiness check
// @Description  Returns 503 while the database is unreachable
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      503  {object}  handlers.RespOK
// @Router       /readyz [get]
func Readyz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, response.ErrorT[any](response.APIResponseCodeRetryable, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT(map[string]string{"status": "ready"}))
	}
}

func RegisterHealthRoutes(r gin.IRouter, db *gorm.DB) {
	r.GET("/healthz", Healthz)
	r.GET("/readyz", Readyz(db))
}
