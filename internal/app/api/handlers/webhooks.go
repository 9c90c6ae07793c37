package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/internal/app/service/reconcile"
	"github.com/fatflowers/invoicing/internal/platform/stripe"
	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/response"
	"github.com/fatflowers/invoicing/pkg/types"
)

const maxWebhookBody = 1 << 20

// EventSubmitter hands a raw gateway delivery to the reconciliation worker.
type EventSubmitter interface {
	Submit(ctx context.Context, raw reconcile.RawEvent) (reconcile.Result, error)
}

// @Summary      Stripe Webhook
// @Description  Receives Stripe events. 401 on a bad signature, 503 when the event should be redelivered.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature  header  string  true  "Signature"
// @Success      200  {object}  handlers.RespGatewayResult
// @Router       /api/v1/webhooks/stripe [post]
func ApiStripeWebhook(w EventSubmitter, log *zap.SugaredLogger) gin.HandlerFunc {
	return gatewayWebhook(types.GatewaySourceStripe, stripe.SignatureHeader, w, log)
}

// @Summary      Midtrans Webhook
// @Description  Receives Midtrans HTTP notifications; the signature is part of the body.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Success      200  {object}  handlers.RespGatewayResult
// @Router       /api/v1/webhooks/midtrans [post]
func ApiMidtransWebhook(w EventSubmitter, log *zap.SugaredLogger) gin.HandlerFunc {
	return gatewayWebhook(types.GatewaySourceMidtrans, "", w, log)
}

func gatewayWebhook(source types.GatewaySource, signatureHeader string, w EventSubmitter, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
		payload, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		raw := reconcile.RawEvent{Source: source, Payload: payload, ReceivedAt: time.Now().UTC()}
		if signatureHeader != "" {
			raw.Signature = c.GetHeader(signatureHeader)
		}

		res, err := w.Submit(c.Request.Context(), raw)
		if err != nil {
			l := logctx.FromGin(c, log)
			switch {
			case errors.Is(err, apperr.ErrAuthenticity):
				l.Warnw("webhook rejected", "source", source, "err", err)
				c.JSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			case errors.Is(err, apperr.ErrInvalidInput):
				l.Warnw("webhook malformed", "source", source, "err", err)
				c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			case apperr.IsRetryable(err):
				l.Warnw("webhook deferred", "source", source, "err", err)
				c.JSON(http.StatusServiceUnavailable, response.ErrorT[any](response.APIResponseCodeRetryable, nil))
			default:
				l.Errorw("webhook failed", "source", source, "err", err)
				c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			}
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterWebhookRoutes(r gin.IRouter, w EventSubmitter, log *zap.SugaredLogger) {
	r.POST("/stripe", ApiStripeWebhook(w, log))
	r.POST("/midtrans", ApiMidtransWebhook(w, log))
}
