package handler

import (
	"net/http"
	"net/url"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/response"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/service"
	"github.com/gin-gonic/gin"
)

// SessionHandler serves read-only session resources over HTTP.
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func takeAudioPath(assessmentID, handle string) string {
	return "/api/v1/student/assessments/" + url.PathEscape(assessmentID) + "/takes/" + url.PathEscape(handle) + "/audio"
}

// GetSession godoc
// GET /api/v1/student/assessments/:assessment_id/session?tab=...
// Returns the current view of the tab's open session.
func (h *SessionHandler) GetSession(c *gin.Context) {
	ctrl, err := h.sessions.Get(c.Query("tab"), c.Param("assessment_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, ctrl.View())
}

// GetTakeAudio godoc
// GET /api/v1/student/assessments/:assessment_id/takes/:handle/audio?tab=...
// Streams a recorded take for listening back. Handles die with their take.
func (h *SessionHandler) GetTakeAudio(c *gin.Context) {
	ctrl, err := h.sessions.Get(c.Query("tab"), c.Param("assessment_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	audio, err := ctrl.ResolvePlayback(c.Request.Context(), c.Param("handle"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "audio/webm", audio)
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	cl := classify(err)
	response.Fail(c, cl.status, cl.code)
}
