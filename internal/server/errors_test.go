package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	redeemdomain "github.com/bulc-app/license-server/internal/redeem/domain"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"access denied", licensedomain.ErrAccessDenied, http.StatusForbidden, "ACCESS_DENIED"},
		{"license not found", licensedomain.ErrLicenseNotFound, http.StatusNotFound, "LICENSE_NOT_FOUND"},
		{"duplicate license", licensedomain.ErrLicenseAlreadyExists, http.StatusConflict, "LICENSE_ALREADY_EXISTS"},
		{"invalid request", licensedomain.NewError("INVALID_REQUEST", "bad input"), http.StatusBadRequest, "INVALID_REQUEST"},
		{"code depleted", redeemdomain.ErrCodeDepleted, http.StatusGone, "REDEEM_CODE_DEPLETED"},
		{"rate limited", redeemdomain.ErrRateLimited, http.StatusTooManyRequests, "REDEEM_RATE_LIMITED"},
		{"campaign full", redeemdomain.ErrCampaignFull, http.StatusConflict, "REDEEM_CAMPAIGN_FULL"},
		{"unmapped domain code", licensedomain.NewError("SOMETHING_NEW", "no table entry"), http.StatusInternalServerError, "SOMETHING_NEW"},
		{"gorm record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantCode, payload.Code)
			assert.NotEmpty(t, payload.Message)
		})
	}
}

func TestMapErrorUnwrapsDomainErrors(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), licensedomain.ErrSessionDeactivated)

	status, payload := mapError(wrapped)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "SESSION_DEACTIVATED", payload.Code)
}

func TestErrorHandlingMiddlewareRendersLastError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/boom", func(c *gin.Context) {
		AbortWithError(c, redeemdomain.ErrCodeExpired)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGone, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"REDEEM_CODE_EXPIRED","message":"redeem code has expired"}}`, rec.Body.String())
}

func TestErrorHandlingMiddlewareLeavesWrittenResponses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}
