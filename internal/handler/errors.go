package handler

import (
	"context"
	"errors"
	"net/http"

	"einvoice/internal/fbr"
	"einvoice/internal/lifecycle"
	"einvoice/internal/middleware"
	"einvoice/internal/service"
	"einvoice/pkg/response"

	"github.com/gin-gonic/gin"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrIllegalTransition),
		errors.Is(err, lifecycle.ErrNotEditable),
		errors.Is(err, service.ErrStatusChanged),
		errors.Is(err, service.ErrConcurrentPost):
		return http.StatusConflict
	case errors.Is(err, service.ErrValidationWarnings),
		errors.Is(err, service.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fbr.ErrTransport),
		errors.Is(err, fbr.ErrUnexpectedResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, lifecycle.ErrUnknownStatus),
		errors.Is(err, lifecycle.ErrInvalidAmount),
		errors.Is(err, lifecycle.ErrOverpayment),
		errors.Is(err, fbr.ErrInvalidTaxID),
		errors.Is(err, fbr.ErrMissingField),
		errors.Is(err, fbr.ErrMissingSellerTaxID),
		errors.Is(err, fbr.ErrNoItems),
		errors.Is(err, fbr.ErrUnknownDocumentType),
		errors.Is(err, fbr.ErrMissingToken),
		errors.Is(err, fbr.ErrSandboxOnly):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as an error envelope. data, when non-nil, travels with it so
// callers still see what the gateway answered.
func respondError(c *gin.Context, err error, data interface{}) {
	code := statusFor(err)
	_ = c.Error(err)
	if data != nil {
		c.JSON(code, response.ErrorWithData(code, err.Error(), data))
		return
	}
	c.JSON(code, response.Error(code, err.Error()))
}

func actorFrom(c *gin.Context) (service.Actor, bool) {
	companyID, ok := middleware.CompanyID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Company not found in token"))
		return service.Actor{}, false
	}
	return service.Actor{CompanyID: companyID, UserID: middleware.UserID(c)}, true
}
