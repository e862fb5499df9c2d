package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/squadup-relay/internal/proto"
	"github.com/vovakirdan/squadup-relay/internal/service/messages"
)

// MessageHandlers exposes the durable store API.
type MessageHandlers struct {
	svc *messages.Service
	log *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(svc *messages.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{svc: svc, log: logger}
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// ProfileRequest represents the profile update body.
type ProfileRequest struct {
	Username    string `json:"username" binding:"max=20"`
	DisplayName string `json:"display_name" binding:"max=40"`
}

// ProfileResponse represents a profile in API responses.
type ProfileResponse struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// History returns the latest messages of a room, oldest first.
// GET /api/rooms/:roomID/messages
func (h *MessageHandlers) History(c *gin.Context) {
	msgs, err := h.svc.FetchHistory(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := make([]proto.StoredMessage, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, storedToProto(m))
	}
	c.JSON(http.StatusOK, resp)
}

// Send persists a message from the authenticated user.
// POST /api/rooms/:roomID/messages
func (h *MessageHandlers) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content is required"})
		return
	}

	msg, err := h.svc.Persist(c.Request.Context(), c.Param("roomID"), c.GetString(ContextKeyUserID), req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, storedToProto(msg))
}

// Join records the authenticated user as a room participant.
// POST /api/rooms/:roomID/participants
func (h *MessageHandlers) Join(c *gin.Context) {
	if err := h.svc.Join(c.Request.Context(), c.Param("roomID"), c.GetString(ContextKeyUserID)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Leave removes the authenticated user from a room's participants.
// DELETE /api/rooms/:roomID/participants
func (h *MessageHandlers) Leave(c *gin.Context) {
	if err := h.svc.Leave(c.Request.Context(), c.Param("roomID"), c.GetString(ContextKeyUserID)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateProfile sets the authenticated user's names.
// PUT /api/profile
func (h *MessageHandlers) UpdateProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	username := req.Username
	if username == "" {
		username = c.GetString(ContextKeyUsername)
	}

	p, err := h.svc.SetProfile(c.Request.Context(), c.GetString(ContextKeyUserID), username, req.DisplayName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ProfileResponse{UserID: p.UserID, Username: p.Username, DisplayName: p.DisplayName})
}

func (h *MessageHandlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messages.ErrEmptyContent),
		errors.Is(err, messages.ErrContentTooLong),
		errors.Is(err, messages.ErrRoomRequired):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, messages.ErrNotParticipant):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("store api error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
