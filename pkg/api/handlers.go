package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentmesh/acp/pkg/models"
	"github.com/agentmesh/acp/pkg/server"
)

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, PingResponse{})
}

func (s *Server) listAgents(c *gin.Context) {
	c.JSON(http.StatusOK, AgentsListResponse{Agents: s.engine.Agents()})
}

func (s *Server) readAgent(c *gin.Context) {
	manifest, err := s.engine.Agent(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, manifest)
}

func (s *Server) createRun(c *gin.Context) {
	var req RunCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeSync
	}
	if !mode.Valid() {
		writeError(c, models.NewError(models.CodeInvalidInput, "unknown run mode %q", mode))
		return
	}

	data, start, err := s.engine.CreateRun(c.Request.Context(), req.AgentName, req.SessionID, req.Session, req.Input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header(HeaderRunID, data.Run.RunID.String())

	switch mode {
	case models.ModeAsync:
		start()
		c.JSON(http.StatusAccepted, data.Run)
	case models.ModeSync:
		s.waitRun(c, data.Run.RunID, 0, start)
	case models.ModeStream:
		s.streamRun(c, data.Run.RunID, 0, start)
	}
}

func (s *Server) readRun(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	data, err := s.engine.Run(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, data.Run)
}

func (s *Server) listRunEvents(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	data, err := s.engine.Run(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err)
		return
	}
	events := data.Events
	if events == nil {
		events = []models.Event{}
	}
	c.JSON(http.StatusOK, RunEventsResponse{Events: events})
}

func (s *Server) resumeRun(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	var req RunResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeSync
	}
	if !mode.Valid() {
		writeError(c, models.NewError(models.CodeInvalidInput, "unknown run mode %q", mode))
		return
	}

	data, next, err := s.engine.Resume(c.Request.Context(), runID, req.AwaitResume)
	if err != nil {
		var mismatch *server.AwaitMismatchError
		if errors.Is(err, server.ErrNoAwait) || errors.As(err, &mismatch) {
			writeErrorStatus(c, http.StatusForbidden, models.NewError(models.CodeInvalidInput, "%s", err.Error()))
			return
		}
		writeError(c, err)
		return
	}
	c.Header(HeaderRunID, data.Run.RunID.String())

	switch mode {
	case models.ModeAsync:
		c.JSON(http.StatusAccepted, data.Run)
	case models.ModeSync:
		s.waitRun(c, runID, next, nil)
	case models.ModeStream:
		s.streamRun(c, runID, next, nil)
	}
}

func (s *Server) cancelRun(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	run, err := s.engine.Cancel(c.Request.Context(), runID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header(HeaderRunID, run.RunID.String())
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) readSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		writeError(c, models.NewError(models.CodeInvalidInput, "invalid session id: %s", err))
		return
	}
	session, err := s.engine.Session(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func parseRunID(c *gin.Context) (uuid.UUID, bool) {
	runID, err := uuid.Parse(c.Param("run_id"))
	if err != nil {
		writeError(c, models.NewError(models.CodeInvalidInput, "invalid run id: %s", err))
		return uuid.UUID{}, false
	}
	return runID, true
}
