package middleware

import (
	stderrors "errors"
	"net/http"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/services"
	"roomrec/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MapError converts service and domain errors into API errors.
func MapError(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrSessionNotFound):
		return errors.NewNotFoundError("session")
	case stderrors.Is(err, domain.ErrInvalidSessionKey):
		return errors.WrapError(err, errors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	case stderrors.Is(err, domain.ErrSessionClosed):
		return errors.NewServiceUnavailableError("service is shutting down")
	case stderrors.Is(err, domain.ErrBackendUnreachable), stderrors.Is(err, domain.ErrBackendRejected):
		return errors.NewBadGatewayError("recording backend failed", err)
	case stderrors.Is(err, services.ErrInvalidToken), stderrors.Is(err, services.ErrExpiredToken),
		stderrors.Is(err, services.ErrUnauthorized):
		return errors.NewUnauthorizedError(err.Error())
	}
	return errors.WrapError(err, errors.ErrCodeInternal, "Internal server error", http.StatusInternalServerError)
}

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr := MapError(err)

		fields := []interface{}{
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"error", err.Error(),
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed", fields...)
		} else {
			logger.Debugw("request rejected", fields...)
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
