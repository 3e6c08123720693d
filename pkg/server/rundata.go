// Package server implements the run engine: the executor that drives an
// agent from CREATED to a terminal state, the persisted run record, the
// conversational session and the engine that ties them to a store.
package server

import (
	"time"

	"github.com/agentmesh/acp/pkg/models"
)

// Store key prefixes. A single backing store serves all four value
// kinds through typed views.
const (
	runPrefix     = "runs/"
	cancelPrefix  = "cancels/"
	resumePrefix  = "resumes/"
	sessionPrefix = "sessions/"
)

// KeyPrefixes returns every store prefix the engine writes under, for
// retention sweeps.
func KeyPrefixes() []string {
	return []string{runPrefix, cancelPrefix, resumePrefix, sessionPrefix}
}

// RunData is the persisted run record: the run, its input and every
// event emitted for it. Late subscribers re-stream from Events.
type RunData struct {
	Run    models.Run       `json:"run"`
	Input  []models.Message `json:"input"`
	Events []models.Event   `json:"events"`
}

// Key returns the store key for this run, without prefix.
func (d *RunData) Key() string {
	return d.Run.RunID.String()
}

// CancelToken requests cooperative cancellation of a run. Its presence
// under the run's cancel key is the signal; the fields are informational.
type CancelToken struct {
	RequestedAt time.Time `json:"requested_at"`
}
