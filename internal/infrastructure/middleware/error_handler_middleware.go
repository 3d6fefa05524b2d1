package middleware

import (
	"errors"
	"net/http"
	"time"

	"greenearth/internal/core/domain"
	apperrors "greenearth/pkg/errors"
	"greenearth/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MapError converts domain errors to their API representation. Errors that
// already carry an AppError are returned as is.
func MapError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrCallNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrRecordingNotFound):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrCallArchived),
		errors.Is(err, domain.ErrSessionClosed):
		return apperrors.WrapError(err, apperrors.ErrCodeGone, err.Error(), http.StatusGone)
	case errors.Is(err, domain.ErrNotParticipant):
		return apperrors.WrapError(err, apperrors.ErrCodeForbidden, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrRecordingInProgress),
		errors.Is(err, domain.ErrRecordingNotActive):
		return apperrors.WrapError(err, apperrors.ErrCodeConflict, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrUploadFailed):
		return apperrors.WrapError(err, apperrors.ErrCodeBadGateway, "recording upload failed", http.StatusBadGateway)
	case errors.Is(err, domain.ErrNoAudioTracks),
		domain.IsMediaUnavailable(err):
		return apperrors.WrapError(err, apperrors.ErrCodeMediaUnavailable, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrInvalidCallType),
		errors.Is(err, domain.ErrVideoNotSupported):
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal server error", http.StatusInternalServerError)
	}
}

// ErrorHandlerMiddleware renders the last error attached to the context.
func ErrorHandlerMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := MapError(c.Errors.Last().Err)
		fields := []interface{}{
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"error", c.Errors.Last().Err,
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log.Errorw("Request failed", fields...)
		} else {
			log.Debugw("Request rejected", fields...)
		}

		if c.Writer.Written() {
			return
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
func RecoveryMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorw("Panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "internal server error",
				})
			}
		}()

		c.Next()
	}
}

// RequestLogger tags each request with an ID and logs it on completion.
func RequestLogger(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))

		start := time.Now()
		c.Next()

		cl.LogRequest(c.Request.Context(), c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
