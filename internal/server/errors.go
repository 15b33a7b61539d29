package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// httpStatusByCode maps domain error codes to HTTP statuses. Codes missing
// from the table fall back to 500.
var httpStatusByCode = map[string]int{
	"INVALID_REQUEST":     http.StatusBadRequest,
	"REDEEM_CODE_INVALID": http.StatusBadRequest,

	"ACCESS_DENIED":                http.StatusForbidden,
	"INVALID_ACTIVATION_OWNERSHIP": http.StatusForbidden,

	"LICENSE_NOT_FOUND":             http.StatusNotFound,
	"LICENSE_NOT_FOUND_FOR_PRODUCT": http.StatusNotFound,
	"ACTIVATION_NOT_FOUND":          http.StatusNotFound,
	"PRODUCT_NOT_FOUND":             http.StatusNotFound,
	"PLAN_NOT_AVAILABLE":            http.StatusNotFound,
	"REDEEM_CODE_NOT_FOUND":         http.StatusNotFound,
	"REDEEM_CAMPAIGN_NOT_FOUND":     http.StatusNotFound,

	"LICENSE_ALREADY_EXISTS":     http.StatusConflict,
	"INVALID_LICENSE_STATE":      http.StatusConflict,
	"SESSION_DEACTIVATED":        http.StatusConflict,
	"REDEEM_CODE_HASH_DUPLICATE": http.StatusConflict,
	"REDEEM_CAMPAIGN_NOT_ACTIVE": http.StatusConflict,
	"REDEEM_CAMPAIGN_FULL":       http.StatusConflict,
	"REDEEM_USER_LIMIT_EXCEEDED": http.StatusConflict,

	"REDEEM_CODE_EXPIRED":  http.StatusGone,
	"REDEEM_CODE_DISABLED": http.StatusGone,
	"REDEEM_CODE_DEPLETED": http.StatusGone,

	"REDEEM_RATE_LIMITED": http.StatusTooManyRequests,
}

// ErrorHandlingMiddleware writes the JSON error response for any error a
// handler attached to the context.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

// AbortWithError records an error for ErrorHandlingMiddleware to render.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var domainErr *licensedomain.Error
	if errors.As(err, &domainErr) {
		status, ok := httpStatusByCode[domainErr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, errorPayload{Code: domainErr.Code, Message: domainErr.Message}
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return http.StatusNotFound, errorPayload{Code: "NOT_FOUND", Message: "not found"}
	}

	return http.StatusInternalServerError, errorPayload{
		Code:    "INTERNAL_ERROR",
		Message: "internal server error",
	}
}
