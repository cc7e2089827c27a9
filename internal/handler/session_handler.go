package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
	"github.com/stemsi/exstem-quiz/internal/validator"
)

// SessionHandler exposes read-only exam session lookups.
type SessionHandler struct {
	sessions *service.ExamSessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.ExamSessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// GetActive godoc
// GET /api/v1/sessions/active?subject_id=
// Returns the caller's resumable session for a subject, if any.
func (h *SessionHandler) GetActive(c *gin.Context) {
	var q model.ActiveSessionQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.sessions.ActiveSession(c.Request.Context(), q.SubjectID)
	if err != nil {
		response.FailFromError(c, err)
		return
	}

	remaining := time.Until(sess.EndTime)
	if remaining < 0 {
		remaining = 0
	}
	response.Success(c, http.StatusOK, gin.H{
		"session": model.ExamSessionState{
			Session:       *sess,
			Restored:      true,
			RemainingTime: remaining.Seconds(),
		},
	})
}
