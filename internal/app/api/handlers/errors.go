package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/pkg/response"
)

// codeFor maps the error taxonomy onto response codes.
func codeFor(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		return response.APIResponseCodeBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return response.APIResponseCodeNotFound
	case errors.Is(err, apperr.ErrInvalidTransition):
		return response.APIResponseCodeInvalidTransition
	case errors.Is(err, apperr.ErrTooManyAttempts):
		return response.APIResponseCodeTooManyAttempts
	case apperr.IsRetryable(err):
		return response.APIResponseCodeRetryable
	default:
		return response.APIResponseCodeError
	}
}

// fail replies with the envelope for err. Internal errors are recorded on
// the gin context for the access log and not echoed to the caller.
func fail(c *gin.Context, err error) {
	code := codeFor(err)
	if code == response.APIResponseCodeError || code == response.APIResponseCodeRetryable {
		_ = c.Error(err)
		c.JSON(http.StatusOK, response.ErrorT[any](code, nil))
		return
	}
	c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
}
