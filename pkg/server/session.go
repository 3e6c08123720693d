package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentmesh/acp/pkg/models"
	"github.com/agentmesh/acp/pkg/store"
)

// Session is an ordered list of run ids sharing one conversation.
// Appending a run id is the only mutation.
type Session struct {
	ID   uuid.UUID   `json:"id"`
	Runs []uuid.UUID `json:"runs"`
}

// NewSession creates an empty session with a fresh id.
func NewSession() *Session {
	return &Session{ID: uuid.New()}
}

// Append records a run as part of the session.
func (s *Session) Append(runID uuid.UUID) {
	s.Runs = append(s.Runs, runID)
}

// History composes the replay history: for every contributing run that is
// COMPLETED at read time, its input followed by its output, in session
// order. Runs in any other state are skipped, as are runs the store has
// already expired.
func (s *Session) History(ctx context.Context, runs *store.View[RunData]) ([]models.Message, error) {
	var history []models.Message
	for _, runID := range s.Runs {
		data, err := runs.Get(ctx, runID.String())
		if err != nil {
			return nil, fmt.Errorf("session %s: read run %s: %w", s.ID, runID, err)
		}
		if data == nil || data.Run.Status != models.StatusCompleted {
			continue
		}
		history = append(history, data.Input...)
		history = append(history, data.Run.Output...)
	}
	return history, nil
}
