package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())

	cause := errors.New("bucket missing")
	wrapped := WrapError(cause, ErrCodeBadGateway, "upload failed", http.StatusBadGateway)
	assert.Contains(t, wrapped.Error(), "bucket missing")
	assert.ErrorIs(t, wrapped, cause)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewNotFoundError("call").WithContext("call_id", "c1").WithContext("attempt", 2)

	assert.Equal(t, "call not found", err.Message)
	assert.Equal(t, "c1", err.Context["call_id"])
	assert.Equal(t, 2, err.Context["attempt"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("x"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NewNotFoundError("recording"), ErrCodeNotFound, http.StatusNotFound},
		{NewUnauthorizedError("x"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{NewForbiddenError("x"), ErrCodeForbidden, http.StatusForbidden},
		{NewConflictError("x"), ErrCodeConflict, http.StatusConflict},
		{NewGoneError("x"), ErrCodeGone, http.StatusGone},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{NewInternalError("x"), ErrCodeInternal, http.StatusInternalServerError},
		{NewServiceUnavailableError("x"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{NewBadGatewayError("x"), ErrCodeBadGateway, http.StatusBadGateway},
		{NewMediaUnavailableError("x"), ErrCodeMediaUnavailable, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewConflictError("recording already running")

	assert.True(t, IsAppError(appErr))
	assert.Same(t, appErr, GetAppError(appErr))

	wrapped := fmt.Errorf("toggle: %w", appErr)
	assert.False(t, IsAppError(wrapped))
	require.NotNil(t, GetAppError(wrapped))
	assert.Equal(t, http.StatusConflict, StatusOf(wrapped))

	plain := errors.New("regular error")
	assert.Nil(t, GetAppError(plain))
	assert.Nil(t, GetAppError(nil))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(plain))
}
