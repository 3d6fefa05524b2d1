package http

import (
	"net/http"
	"strings"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/services"
	apperrors "greenearth/pkg/errors"
	"greenearth/pkg/validation"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService    services.AuthService
	accessTokenTTL time.Duration
}

func NewAuthHandler(authService services.AuthService, accessTokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		accessTokenTTL: accessTokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/login", h.Login)
		api.POST("/refresh", h.RefreshToken)
	}
}

// LoginRequest carries the display identity shown to other participants.
type LoginRequest struct {
	UserID string `json:"user_id" binding:"required,max=100"`
	Name   string `json:"name" binding:"required"`
	Avatar string `json:"avatar"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=2048"`
	Name         string `json:"name" binding:"required"`
	Avatar       string `json:"avatar"`
}

// Login issues tokens for a profile. Identity is asserted by the caller;
// there is no credential store.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	profile := domain.Profile{
		ID:     domain.UserID(strings.TrimSpace(req.UserID)),
		Name:   strings.TrimSpace(req.Name),
		Avatar: strings.TrimSpace(req.Avatar),
	}
	if err := validation.ValidateUserID(string(profile.ID)); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validateProfile(profile); err != nil {
		_ = c.Error(err)
		return
	}

	accessToken, err := h.authService.GenerateToken(profile)
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	refreshToken, err := h.authService.GenerateRefreshToken(profile.ID)
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to generate refresh token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile":       profile,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(h.accessTokenTTL / time.Second),
	})
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	claims, err := h.authService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		_ = c.Error(apperrors.NewUnauthorizedError("invalid refresh token"))
		return
	}

	profile := domain.Profile{
		ID:     claims.UserID,
		Name:   strings.TrimSpace(req.Name),
		Avatar: strings.TrimSpace(req.Avatar),
	}
	if err := validateProfile(profile); err != nil {
		_ = c.Error(err)
		return
	}

	accessToken, err := h.authService.GenerateToken(profile)
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": accessToken,
		"expires_in":   int(h.accessTokenTTL / time.Second),
	})
}
