package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/services"
	apperrors "roomrec/pkg/errors"
	"roomrec/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   apperrors.ErrorCode
	}{
		{fmt.Errorf("get: %w", domain.ErrSessionNotFound), http.StatusNotFound, apperrors.ErrCodeNotFound},
		{fmt.Errorf("%w: bad room", domain.ErrInvalidSessionKey), http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{domain.ErrSessionClosed, http.StatusServiceUnavailable, apperrors.ErrCodeServiceUnavailable},
		{domain.Unreachable("start", errors.New("refused")), http.StatusBadGateway, apperrors.ErrCodeBadGateway},
		{services.ErrExpiredToken, http.StatusUnauthorized, apperrors.ErrCodeUnauthorized},
		{apperrors.NewConflictError("busy"), http.StatusConflict, apperrors.ErrCodeConflict},
		{errors.New("boom"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			appErr := MapError(tt.err)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestErrorHandlerMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/missing", func(c *gin.Context) {
		_ = c.Error(domain.ErrSessionNotFound)
	})
	router.GET("/written", func(c *gin.Context) {
		_ = c.Error(errors.New("ignored"))
		c.String(http.StatusAccepted, "accepted")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body["error"])
	assert.Equal(t, "session not found", body["message"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/written", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestAuthMiddleware(t *testing.T) {
	auth := services.NewAuthService("secret", "recordd")
	viewer, err := auth.GenerateToken("dash", services.RoleViewer, time.Hour)
	require.NoError(t, err)
	operator, err := auth.GenerateToken("ops", services.RoleOperator, time.Hour)
	require.NoError(t, err)

	router := gin.New()
	router.Use(AuthMiddleware(auth))
	router.GET("/read", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextSubjectKey))
	})
	router.POST("/write", RequireRole(services.RoleOperator), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(method, target, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/read", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/read", "garbage").Code)

	w := do(http.MethodGet, "/read", viewer)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dash", w.Body.String())

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/read?access_token="+viewer, "").Code)
	assert.Equal(t, http.StatusForbidden, do(http.MethodPost, "/write", viewer).Code)
	assert.Equal(t, http.StatusNoContent, do(http.MethodPost, "/write", operator).Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cl := logger.NewContextLogger(zap.New(core))

	router := gin.New()
	router.Use(RequestIDMiddleware(), AccessLogMiddleware(cl))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Regexp(t, `^req_[0-9a-f]{32}$`, generated)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "abc-123", logs.All()[1].ContextMap()["request_id"])
}
