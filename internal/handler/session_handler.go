package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/sessionmap/internal/models"
	"github.com/jengzang/sessionmap/internal/repository"
	"github.com/jengzang/sessionmap/internal/service"
	"github.com/jengzang/sessionmap/pkg/response"
)

// SessionHandler handles HTTP requests for sessions
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

// GetActiveSessions handles GET /api/v1/sessions/active
func (h *SessionHandler) GetActiveSessions(c *gin.Context) {
	var filter models.ActiveSessionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	at := time.Now()
	if filter.At > 0 {
		at = time.Unix(filter.At, 0)
	}

	result, err := h.sessionService.GetActiveSessions(c.Request.Context(), at)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// GetTimeRange handles GET /api/v1/sessions/range
func (h *SessionHandler) GetTimeRange(c *gin.Context) {
	tr, err := h.sessionService.TimeRange(c.Request.Context())
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, tr)
}

// GetSessionByID handles GET /api/v1/sessions/:id
func (h *SessionHandler) GetSessionByID(c *gin.Context) {
	session, err := h.sessionService.GetSessionByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.NotFound(c, "Session not found")
		return
	}

	response.Success(c, session)
}

// IngestSessions handles POST /api/v1/sessions
func (h *SessionHandler) IngestSessions(c *gin.Context) {
	var sessions []models.Session
	if err := c.ShouldBindJSON(&sessions); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	ids, err := h.sessionService.Ingest(c.Request.Context(), sessions)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidSession) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"ids":   ids,
		"count": len(ids),
	})
}

// PruneSessions handles DELETE /api/v1/sessions?before=<unix>
func (h *SessionHandler) PruneSessions(c *gin.Context) {
	before, err := strconv.ParseInt(c.Query("before"), 10, 64)
	if err != nil || before <= 0 {
		response.BadRequest(c, "Invalid before parameter")
		return
	}

	n, err := h.sessionService.Prune(c.Request.Context(), time.Unix(before, 0))
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"deleted": n})
}
