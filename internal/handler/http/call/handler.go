package call

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsession-backend/internal/domain"
	"callsession-backend/internal/service/call"
	apperrors "callsession-backend/pkg/errors"
	"callsession-backend/pkg/logger"
	"callsession-backend/pkg/response"
	"callsession-backend/pkg/rtctoken"
)

// Service is the call lifecycle API the handler drives. *call.Service
// satisfies it.
type Service interface {
	Initiate(ctx context.Context, input *call.InitiateInput) (*call.JoinOutput, error)
	Join(ctx context.Context, sessionID, userID uuid.UUID) (*call.JoinOutput, error)
	Leave(ctx context.Context, sessionID, userID uuid.UUID) (*call.LeaveOutput, error)
	End(ctx context.Context, sessionID, userID uuid.UUID) (*call.EndOutput, error)
	RefreshCredential(ctx context.Context, sessionID, userID uuid.UUID) (*rtctoken.Credential, error)
	UpdateStatus(ctx context.Context, sessionID, userID uuid.UUID, flags domain.ParticipantFlags) (*domain.CallParticipant, error)
	GetStatus(ctx context.Context, sessionID, requesterID uuid.UUID) (*call.StatusOutput, error)
	GetActiveForRoom(ctx context.Context, roomID, requesterID uuid.UUID) (*domain.CallSession, error)
	History(ctx context.Context, roomID, requesterID uuid.UUID, limit int) ([]*domain.CallSession, error)
}

// Handler handles call HTTP requests
type Handler struct {
	callService Service
}

// NewHandler creates a new call handler
func NewHandler(callService Service) *Handler {
	return &Handler{callService: callService}
}

// RegisterRoutes mounts session routes on calls (/v1/calls) and room
// routes on rooms (/v1/rooms/:room_id/calls)
func (h *Handler) RegisterRoutes(calls, rooms *gin.RouterGroup) {
	calls.POST("/initiate", h.InitiateCall)
	calls.GET("/:id", h.GetCallStatus)
	calls.POST("/:id/join", h.JoinCall)
	calls.POST("/:id/leave", h.LeaveCall)
	calls.POST("/:id/end", h.EndCall)
	calls.PATCH("/:id/participant", h.UpdateParticipant)
	calls.POST("/:id/credential", h.RefreshCredential)

	rooms.GET("/active", h.GetActiveCall)
	rooms.GET("/history", h.GetCallHistory)
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	RoomID            string `json:"room_id" binding:"required,uuid"`
	CallKind          string `json:"call_kind" binding:"required"`
	MaxParticipants   int    `json:"max_participants"`
	RecordingEnabled  bool   `json:"recording_enabled"`
	EncryptionEnabled bool   `json:"encryption_enabled"`
}

// UpdateParticipantRequest is a partial update; absent fields are untouched
type UpdateParticipantRequest struct {
	IsMuted           *bool   `json:"is_muted"`
	IsVideoEnabled    *bool   `json:"is_video_enabled"`
	IsScreenSharing   *bool   `json:"is_screen_sharing"`
	ConnectionQuality *string `json:"connection_quality"`
}

// InitiateCall starts a call in a room or joins the active one
// POST /v1/calls/initiate
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	roomID, err := uuid.Parse(req.RoomID)
	if err != nil {
		response.ValidationError(c, "Invalid room ID")
		return
	}

	output, err := h.callService.Initiate(c.Request.Context(), &call.InitiateInput{
		RoomID:            roomID,
		UserID:            userID,
		Kind:              req.CallKind,
		MaxParticipants:   req.MaxParticipants,
		RecordingEnabled:  req.RecordingEnabled,
		EncryptionEnabled: req.EncryptionEnabled,
	})
	if err != nil {
		fail(c, err)
		return
	}

	status := http.StatusOK
	if output.IsNewCall {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{
		"session":      output.Session,
		"participant":  output.Participant,
		"credential":   output.Credential,
		"channel_name": output.Session.ChannelName,
		"expires_at":   output.Credential.ExpiresAt,
		"is_new_call":  output.IsNewCall,
	})
}

// JoinCall joins an active call
// POST /v1/calls/:id/join
func (h *Handler) JoinCall(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	output, err := h.callService.Join(c.Request.Context(), sessionID, userID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session":     output.Session,
		"participant": output.Participant,
		"credential":  output.Credential,
	})
}

// LeaveCall leaves a call
// POST /v1/calls/:id/leave
func (h *Handler) LeaveCall(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	output, err := h.callService.Leave(c.Request.Context(), sessionID, userID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"participant": output.Participant,
		"call_ended":  output.CallEnded,
	})
}

// EndCall terminates a call for everyone
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	output, err := h.callService.End(c.Request.Context(), sessionID, userID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session":                 output.Session,
		"ended_participant_count": output.EndedParticipantCount,
	})
}

// GetCallStatus returns a call and its active participants
// GET /v1/calls/:id
func (h *Handler) GetCallStatus(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	output, err := h.callService.GetStatus(c.Request.Context(), sessionID, userID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session":      output.Session,
		"participants": output.Participants,
	})
}

// UpdateParticipant updates the caller's media flags
// PATCH /v1/calls/:id/participant
func (h *Handler) UpdateParticipant(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	var req UpdateParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	flags := domain.ParticipantFlags{
		IsMuted:         req.IsMuted,
		IsVideoEnabled:  req.IsVideoEnabled,
		IsScreenSharing: req.IsScreenSharing,
	}
	if req.ConnectionQuality != nil {
		quality, err := domain.ParseConnectionQuality(*req.ConnectionQuality)
		if err != nil {
			response.ValidationError(c, "connection_quality must be one of unknown, excellent, good, poor, bad")
			return
		}
		flags.ConnectionQuality = &quality
	}

	participant, err := h.callService.UpdateStatus(c.Request.Context(), sessionID, userID, flags)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, participant)
}

// RefreshCredential issues a fresh transport credential
// POST /v1/calls/:id/credential
func (h *Handler) RefreshCredential(c *gin.Context) {
	sessionID, userID, ok := sessionAndUser(c)
	if !ok {
		return
	}

	credential, err := h.callService.RefreshCredential(c.Request.Context(), sessionID, userID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"credential": credential,
		"expires_at": credential.ExpiresAt,
	})
}

// GetActiveCall returns the room's active call or null
// GET /v1/rooms/:room_id/calls/active
func (h *Handler) GetActiveCall(c *gin.Context) {
	roomID, userID, ok := roomAndUser(c)
	if !ok {
		return
	}

	session, err := h.callService.GetActiveForRoom(c.Request.Context(), roomID, userID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// GetCallHistory lists a room's calls, newest first
// GET /v1/rooms/:room_id/calls/history?limit=20
func (h *Handler) GetCallHistory(c *gin.Context) {
	roomID, userID, ok := roomAndUser(c)
	if !ok {
		return
	}

	limit := call.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.ValidationError(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	sessions, err := h.callService.History(c.Request.Context(), roomID, userID, limit)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// currentUser reads the authenticated user set by the auth middleware
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func sessionAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, uuid.Nil, false
	}
	userID, ok := currentUser(c)
	return sessionID, userID, ok
}

func roomAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	roomID, err := uuid.Parse(c.Param("room_id"))
	if err != nil {
		response.ValidationError(c, "Invalid room ID")
		return uuid.Nil, uuid.Nil, false
	}
	userID, ok := currentUser(c)
	return roomID, userID, ok
}

// fail renders err and logs server-side failures
func fail(c *gin.Context, err error) {
	if appErr := apperrors.GetAppError(err); appErr.StatusCode >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("Call request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", string(appErr.Code)),
			zap.Error(err))
	}
	response.FromError(c, err)
}
