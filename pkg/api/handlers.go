package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tarsy-oss/funnel/pkg/driver"
)

// createTaskRequest is the Task API request body: {task, workspace_root,
// user_id, session_id?, max_steps, preserve_state}.
type createTaskRequest struct {
	Task          string `json:"task" binding:"required"`
	WorkspaceRoot string `json:"workspace_root" binding:"required"`
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id"`
	MaxSteps      int    `json:"max_steps"`
	PreserveState bool   `json:"preserve_state"`
}

// handleCreateTask runs one OODA loop and streams its Event channel back as
// text/event-stream, one `event: <event_type>` + `data: <json>` frame per
// driver.Event.
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &validationError{msg: err.Error()})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = s.driverCfg.MaxSteps
	}

	state := s.sessions.get(sessionID, req.PreserveState)
	if req.UserID != "" {
		state.SetUserInfo("user_id", req.UserID)
	}

	d := driver.New(s.engine, s.dispatcher, req.WorkspaceRoot).
		WithMaxSteps(maxSteps).
		WithAuditor(s.auditor)

	events := d.Run(c.Request.Context(), sessionID, req.Task, state)

	c.Header("X-Session-Id", sessionID)
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(string(ev.EventType), ev)
		return true
	})
}

// handleListAgents is a debug endpoint listing the Discovery cache. It does
// not force a refresh, but a stale or empty cache still triggers a discovery
// round before the list is returned.
func (s *Server) handleListAgents(c *gin.Context) {
	agents := s.discovery.Discover(false)
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// healthResponse mirrors the teacher's aggregated health-check shape,
// reduced to the components funnel actually owns.
type healthResponse struct {
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
	Discovery int       `json:"discovery_cached_agents"`
}

func (s *Server) handleHealth(c *gin.Context) {
	agents := s.discovery.Discover(false)
	c.JSON(http.StatusOK, healthResponse{
		Status:    "healthy",
		CheckedAt: time.Now(),
		Discovery: len(agents),
	})
}
