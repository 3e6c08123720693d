package models

import (
	"time"

	"github.com/google/uuid"
)

// RunMode selects the response projection for a run creation or resume.
type RunMode string

// Run modes.
const (
	ModeSync   RunMode = "sync"
	ModeAsync  RunMode = "async"
	ModeStream RunMode = "stream"
)

// Valid reports whether the mode is one of sync, async or stream.
func (m RunMode) Valid() bool {
	switch m {
	case ModeSync, ModeAsync, ModeStream:
		return true
	}
	return false
}

// RunStatus is the run state machine position.
type RunStatus string

// Run statuses.
const (
	StatusCreated    RunStatus = "created"
	StatusInProgress RunStatus = "in-progress"
	StatusAwaiting   RunStatus = "awaiting"
	StatusCancelling RunStatus = "cancelling"
	StatusCancelled  RunStatus = "cancelled"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Run is one invocation of an agent.
type Run struct {
	RunID        uuid.UUID     `json:"run_id"`
	AgentName    string        `json:"agent_name"`
	SessionID    *uuid.UUID    `json:"session_id,omitempty"`
	Status       RunStatus     `json:"status"`
	AwaitRequest *AwaitRequest `json:"await_request,omitempty"`
	Output       []Message     `json:"output"`
	Error        *Error        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// NewRun builds a CREATED run for the named agent.
func NewRun(agentName string, sessionID *uuid.UUID) Run {
	return Run{
		RunID:     uuid.New(),
		AgentName: agentName,
		SessionID: sessionID,
		Status:    StatusCreated,
		Output:    []Message{},
		CreatedAt: time.Now().UTC(),
	}
}
