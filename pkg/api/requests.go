package api

import (
	"github.com/google/uuid"

	"github.com/agentmesh/acp/pkg/models"
	"github.com/agentmesh/acp/pkg/server"
)

// RunCreateRequest is the body of POST /runs. Session may carry a full
// client-forwarded session for distributed-session adoption; SessionID
// alone continues a session stored on this side.
type RunCreateRequest struct {
	AgentName string           `json:"agent_name" binding:"required"`
	SessionID *uuid.UUID       `json:"session_id,omitempty"`
	Session   *server.Session  `json:"session,omitempty"`
	Input     []models.Message `json:"input"`
	Mode      models.RunMode   `json:"mode,omitempty"`
}

// RunResumeRequest is the body of POST /runs/{id}.
type RunResumeRequest struct {
	AwaitResume *models.AwaitResume `json:"await_resume" binding:"required"`
	Mode        models.RunMode      `json:"mode,omitempty"`
}

// AgentsListResponse is the body of GET /agents.
type AgentsListResponse struct {
	Agents []models.AgentManifest `json:"agents"`
}

// RunEventsResponse is the body of GET /runs/{id}/events.
type RunEventsResponse struct {
	Events []models.Event `json:"events"`
}

// PingResponse is the body of GET /ping.
type PingResponse struct{}
