package http

import (
	"errors"
	"net/http"
	"strings"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"
	"greenearth/internal/core/services"
	"greenearth/internal/infrastructure/middleware"
	"greenearth/internal/infrastructure/signal"
	apperrors "greenearth/pkg/errors"
	"greenearth/pkg/validation"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
)

// EventSocket upgrades a request into a user's call event stream.
type EventSocket interface {
	Serve(w http.ResponseWriter, r *http.Request, callID domain.CallID, userID domain.UserID) error
}

type CallHandler struct {
	calls  ports.CallService
	ingest ports.MediaIngest
	events EventSocket
}

var _ ports.HTTPHandler = (*CallHandler)(nil)

func NewCallHandler(calls ports.CallService, ingest ports.MediaIngest, events EventSocket) *CallHandler {
	return &CallHandler{
		calls:  calls,
		ingest: ingest,
		events: events,
	}
}

func (h *CallHandler) SetupRoutes(router *gin.Engine, authService services.AuthService, wsPath string) {
	auth := middleware.AuthMiddleware(authService)

	api := router.Group("/api/v1", auth)
	{
		api.POST("/calls", h.CreateCall)
		api.GET("/calls", h.ListCalls)
		api.GET("/calls/:id", h.validateCallID, h.GetCall)
		api.POST("/calls/:id/join", h.validateCallID, middleware.CallAccessMiddleware(authService), h.JoinCall)
		api.POST("/calls/:id/leave", h.validateCallID, h.LeaveCall)
		api.GET("/calls/:id/state", h.validateCallID, h.GetState)
		api.POST("/calls/:id/mute", h.validateCallID, h.SetMuted)
		api.POST("/calls/:id/video", h.validateCallID, h.SetVideoOff)
		api.POST("/calls/:id/fullscreen", h.validateCallID, h.SetFullscreen)
		api.POST("/calls/:id/recording/toggle", h.validateCallID, h.ToggleRecording)
		api.POST("/calls/:id/media/offer", h.validateCallID, h.PublishMedia)
		api.GET("/calls/:id/recordings", h.validateCallID, h.ListRecordings)
	}

	if h.events != nil {
		router.GET(wsPath, auth, h.Events)
	}
}

func (h *CallHandler) validateCallID(c *gin.Context) {
	if err := validation.ValidateCallID(c.Param("id")); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		c.Abort()
		return
	}
	c.Next()
}

type CreateCallRequest struct {
	CallType domain.CallType `json:"call_type" binding:"required"`
	IsGroup  bool            `json:"is_group"`
}

type ToggleRequest struct {
	Value *bool `json:"value" binding:"required"`
}

type OfferRequest struct {
	Type string `json:"type" binding:"required"`
	SDP  string `json:"sdp" binding:"required"`
}

func (h *CallHandler) CreateCall(c *gin.Context) {
	var req CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	profile := mustProfile(c)
	if err := validateProfile(profile); err != nil {
		_ = c.Error(err)
		return
	}

	call, err := h.calls.CreateCall(c.Request.Context(), profile, req.CallType, req.IsGroup)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"call": call})
}

func (h *CallHandler) GetCall(c *gin.Context) {
	call, err := h.calls.GetCall(c.Request.Context(), callID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

func (h *CallHandler) ListCalls(c *gin.Context) {
	calls, err := h.calls.ListActiveCalls(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"calls": calls,
		"count": len(calls),
	})
}

func (h *CallHandler) JoinCall(c *gin.Context) {
	profile := mustProfile(c)
	if err := validateProfile(profile); err != nil {
		_ = c.Error(err)
		return
	}

	state, err := h.calls.JoinCall(c.Request.Context(), callID(c), profile)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *CallHandler) LeaveCall(c *gin.Context) {
	if err := h.calls.LeaveCall(c.Request.Context(), callID(c), mustProfile(c).ID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) GetState(c *gin.Context) {
	state, err := h.calls.State(c.Request.Context(), callID(c), mustProfile(c).ID)
	h.respondState(c, state, err)
}

func (h *CallHandler) SetMuted(c *gin.Context) {
	value, ok := bindToggle(c)
	if !ok {
		return
	}
	state, err := h.calls.SetMuted(c.Request.Context(), callID(c), mustProfile(c).ID, value)
	h.respondState(c, state, err)
}

func (h *CallHandler) SetVideoOff(c *gin.Context) {
	value, ok := bindToggle(c)
	if !ok {
		return
	}
	state, err := h.calls.SetVideoOff(c.Request.Context(), callID(c), mustProfile(c).ID, value)
	h.respondState(c, state, err)
}

func (h *CallHandler) SetFullscreen(c *gin.Context) {
	value, ok := bindToggle(c)
	if !ok {
		return
	}
	state, err := h.calls.SetFullscreen(c.Request.Context(), callID(c), mustProfile(c).ID, value)
	h.respondState(c, state, err)
}

func (h *CallHandler) ToggleRecording(c *gin.Context) {
	state, err := h.calls.ToggleRecording(c.Request.Context(), callID(c), mustProfile(c).ID)
	h.respondState(c, state, err)
}

// PublishMedia answers the offer of the connection a joined user sends
// local media on.
func (h *CallHandler) PublishMedia(c *gin.Context) {
	if h.ingest == nil {
		_ = c.Error(apperrors.NewServiceUnavailableError("media ingest disabled"))
		return
	}

	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if !strings.EqualFold(req.Type, webrtc.SDPTypeOffer.String()) {
		_ = c.Error(apperrors.NewInvalidInputError("sdp type must be offer"))
		return
	}
	if err := validation.ValidateSDP(req.SDP); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	id := callID(c)
	userID := mustProfile(c).ID
	// Only users with a running session may publish.
	if _, err := h.calls.State(c.Request.Context(), id, userID); err != nil {
		_ = c.Error(err)
		return
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}
	answer, err := h.ingest.HandleOffer(c.Request.Context(), id, userID, offer)
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "failed to negotiate media", http.StatusBadRequest))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"type": answer.Type.String(),
		"sdp":  answer.SDP,
	})
}

func (h *CallHandler) ListRecordings(c *gin.Context) {
	recordings, err := h.calls.ListRecordings(c.Request.Context(), callID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recordings": recordings,
		"count":      len(recordings),
	})
}

// Events upgrades to the event socket of the call named by ?call_id.
func (h *CallHandler) Events(c *gin.Context) {
	raw := c.Query("call_id")
	if err := validation.ValidateCallID(raw); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	err := h.events.Serve(c.Writer, c.Request, domain.CallID(raw), mustProfile(c).ID)
	if errors.Is(err, signal.ErrTooManyConnections) {
		_ = c.Error(apperrors.NewServiceUnavailableError(err.Error()))
		return
	}
	if err != nil {
		_ = c.Error(err)
	}
}

func (h *CallHandler) respondState(c *gin.Context, state *domain.CallViewState, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func bindToggle(c *gin.Context) (bool, bool) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("value is required"))
		return false, false
	}
	return *req.Value, true
}

func validateProfile(profile domain.Profile) error {
	if err := validation.ValidateDisplayName(profile.Name); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateAvatarURL(profile.Avatar); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	return nil
}

func callID(c *gin.Context) domain.CallID {
	return domain.CallID(c.Param("id"))
}

// mustProfile is only used on routes behind AuthMiddleware.
func mustProfile(c *gin.Context) domain.Profile {
	profile, _ := middleware.ProfileFrom(c)
	return profile
}
