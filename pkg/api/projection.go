package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentmesh/acp/pkg/models"
	"github.com/agentmesh/acp/pkg/server"
)

// paused reports whether the run has left the in-progress loop: either a
// terminal state or parked on an await. Sync and stream responses return
// at both, mirroring the run's cooperative suspension points.
func paused(run *models.Run) bool {
	return run.Status.IsTerminal() || run.Status == models.StatusAwaiting
}

// waitRun blocks until the run pauses past event index from, then writes
// the run as JSON. start, when non-nil, releases the executor's first
// event after the watch is enrolled so nothing is missed.
func (s *Server) waitRun(c *gin.Context, runID uuid.UUID, from int, start func()) {
	ctx := c.Request.Context()

	ready := make(chan struct{})
	snapshots, err := s.engine.WatchRun(ctx, runID, ready)
	if err != nil {
		writeError(c, err)
		return
	}
	<-ready
	if start != nil {
		start()
	}

	// The pause may predate the subscription; watch only yields on
	// subsequent writes.
	if data, err := s.engine.Run(ctx, runID); err == nil && paused(&data.Run) && len(data.Events) > from {
		c.JSON(http.StatusOK, data.Run)
		return
	}

	for data := range snapshots {
		if paused(&data.Run) && len(data.Events) > from {
			c.JSON(http.StatusOK, data.Run)
			return
		}
	}
	writeError(c, models.NewError(models.CodeServerError, "run %s watch ended before completion", runID))
}

// streamRun projects the run's event suffix starting at index from as
// SSE frames, closing the connection after a terminal or awaiting event.
// Replay and live tailing share the persisted events list as their only
// source of truth: every snapshot is re-read and the new suffix emitted.
func (s *Server) streamRun(c *gin.Context, runID uuid.UUID, from int, start func()) {
	ctx := c.Request.Context()

	ready := make(chan struct{})
	snapshots, err := s.engine.WatchRun(ctx, runID, ready)
	if err != nil {
		writeError(c, err)
		return
	}
	<-ready
	if start != nil {
		start()
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	next := from

	// Emit anything already persisted before the subscription.
	if data, err := s.engine.Run(ctx, runID); err == nil {
		var done bool
		next, done = s.emitSuffix(c, data, next)
		if done {
			return
		}
	}

	for data := range snapshots {
		var done bool
		next, done = s.emitSuffix(c, data, next)
		if done {
			return
		}
	}
}

// emitSuffix writes events[next:] as SSE frames and reports whether the
// stream is finished.
func (s *Server) emitSuffix(c *gin.Context, data *server.RunData, next int) (int, bool) {
	for ; next < len(data.Events); next++ {
		event := data.Events[next]
		frame, err := json.Marshal(event)
		if err != nil {
			return next, true
		}
		if _, err := c.Writer.WriteString("data: " + string(frame) + "\n\n"); err != nil {
			return next, true
		}
		c.Writer.Flush()
		if event.IsTerminal() || event.Type == models.EventRunAwaiting {
			return next + 1, true
		}
	}
	return next, false
}
