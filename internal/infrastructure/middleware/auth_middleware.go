package middleware

import (
	"errors"
	"net/http"
	"strings"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/services"
	apperrors "greenearth/pkg/errors"
	"greenearth/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID  = "user_id"
	ContextProfile = "profile"
)

// BearerToken reads the token from the Authorization header, falling back to
// the token query parameter used by browser WebSocket clients.
func BearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return c.Query("token")
}

// AuthMiddleware validates the access token and stores the caller's profile.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			abortWithError(c, apperrors.NewUnauthorizedError("authorization token required"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWithError(c, apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, err.Error(), http.StatusUnauthorized))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextProfile, claims.Profile())
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), string(claims.UserID)))
		c.Next()
	}
}

// CallAccessMiddleware checks that the caller may enter the call named by :id.
func CallAccessMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := ProfileFrom(c)
		if !ok {
			abortWithError(c, apperrors.NewUnauthorizedError("authentication required"))
			return
		}

		callID := domain.CallID(c.Param("id"))
		if err := authService.CheckCallAccess(c.Request.Context(), profile.ID, callID); err != nil {
			if errors.Is(err, services.ErrUnauthorized) {
				abortWithError(c, apperrors.NewForbiddenError("call is full"))
				return
			}
			abortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(logger.WithCallID(c.Request.Context(), string(callID)))
		c.Next()
	}
}

// ProfileFrom returns the profile stored by AuthMiddleware.
func ProfileFrom(c *gin.Context) (domain.Profile, bool) {
	v, ok := c.Get(ContextProfile)
	if !ok {
		return domain.Profile{}, false
	}
	profile, ok := v.(domain.Profile)
	return profile, ok
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
