package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/junothreadborne/ListenRoom/internal/errs"
	"github.com/junothreadborne/ListenRoom/internal/model"
	"github.com/junothreadborne/ListenRoom/internal/service"
)

// SessionHandler handles the REST lifecycle API for sessions.
type SessionHandler struct {
	svc       service.SessionServicer
	wsBaseURL string
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(svc service.SessionServicer, wsBaseURL string) *SessionHandler {
	return &SessionHandler{svc: svc, wsBaseURL: wsBaseURL}
}

// CreateSession godoc
// POST /sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	sess, err := h.svc.Create(req.HostName, req.MediaURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, model.CreateSessionResponse{
		SessionID: sess.ID,
		WSURL:     h.wsURL(),
		Status:    string(sess.Status),
	})
}

// GetSession godoc
// GET /sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}
	sess, err := h.svc.Get(sessionID)
	if err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get session"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// DeleteSession godoc
// DELETE /sessions/:id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}
	if err := h.svc.Finish(sessionID); err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to finish session"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSessionParticipants godoc
// GET /sessions/:id/participants
func (h *SessionHandler) GetSessionParticipants(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}
	participants, err := h.svc.GetParticipants(sessionID)
	if err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get participants"})
		return
	}
	c.JSON(http.StatusOK, model.SessionParticipantsResponse{
		SessionID:    sessionID,
		Participants: participants,
	})
}

// wsURL returns the coordination channel URL advertised in responses.
func (h *SessionHandler) wsURL() string {
	if h.wsBaseURL == "" {
		return "/ws/session"
	}
	base := h.wsBaseURL
	if base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return fmt.Sprintf("%s/ws/session", base)
}
