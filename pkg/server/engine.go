package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/acp/pkg/agent"
	"github.com/agentmesh/acp/pkg/models"
	"github.com/agentmesh/acp/pkg/store"
)

// ErrNoAwait rejects a resume for a run with no pending await request.
// The API layer maps it to HTTP 403.
var ErrNoAwait = models.NewError(models.CodeInvalidInput, "run has no pending await request")

// AwaitMismatchError rejects a resume whose variant tag does not match
// the pending await request. The API layer maps it to HTTP 403.
type AwaitMismatchError struct {
	RunID    uuid.UUID
	Expected string
}

func (e *AwaitMismatchError) Error() string {
	return fmt.Sprintf("run %s is expecting resume of type %s", e.RunID, e.Expected)
}

// Engine owns the agent registry and the store views, creates runs and
// spawns their executors. One Engine serves one process; runs persisted
// by other instances are visible through the shared store.
type Engine struct {
	agents   []*agent.Agent
	byName   map[string]*agent.Agent
	pool     *agent.Pool
	runs     *store.View[RunData]
	cancels  *store.View[CancelToken]
	resumes  *store.View[models.AwaitResume]
	sessions *store.View[Session]

	baseCtx context.Context
	stop    context.CancelFunc
}

// EngineOptions configure an Engine.
type EngineOptions struct {
	// PoolSize bounds concurrently running blocking-style agents.
	// Defaults to 8.
	PoolSize int
}

// NewEngine creates an engine over the given store. Executors run under
// the engine's own context, detached from any request, until Close.
func NewEngine(st store.Store, opts EngineOptions) *Engine {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		byName:   make(map[string]*agent.Agent),
		pool:     agent.NewPool(opts.PoolSize),
		runs:     store.NewView[RunData](st, runPrefix),
		cancels:  store.NewView[CancelToken](st, cancelPrefix),
		resumes:  store.NewView[models.AwaitResume](st, resumePrefix),
		sessions: store.NewView[Session](st, sessionPrefix),
		baseCtx:  ctx,
		stop:     cancel,
	}
}

// Close cancels every in-flight run.
func (e *Engine) Close() {
	e.stop()
}

// Register adds an agent to the catalog. Registering a name twice
// replaces the previous agent.
func (e *Engine) Register(a *agent.Agent) {
	if _, exists := e.byName[a.Name()]; !exists {
		e.agents = append(e.agents, a)
	}
	e.byName[a.Name()] = a
}

// Agents lists registered agent manifests in registration order.
func (e *Engine) Agents() []models.AgentManifest {
	manifests := make([]models.AgentManifest, 0, len(e.agents))
	for _, a := range e.agents {
		manifests = append(manifests, a.Manifest())
	}
	return manifests
}

// Agent returns the manifest for one agent.
func (e *Engine) Agent(name string) (models.AgentManifest, error) {
	a, ok := e.byName[name]
	if !ok {
		return models.AgentManifest{}, models.NewError(models.CodeNotFound, "agent %s not found", name)
	}
	return a.Manifest(), nil
}

// CreateRun persists a new CREATED run, appends it to its session and
// starts its executor. The executor holds its first event until the
// returned start function is called, so stream subscribers can enroll
// first. adopted, when non-nil, is a client-forwarded session the server
// adopts (distributed sessions).
func (e *Engine) CreateRun(
	ctx context.Context,
	agentName string,
	sessionID *uuid.UUID,
	adopted *Session,
	input []models.Message,
) (*RunData, func(), error) {
	a, ok := e.byName[agentName]
	if !ok {
		return nil, nil, models.NewError(models.CodeInvalidInput, "agent %s not found", agentName)
	}

	for i := range input {
		input[i].Normalize()
		if err := input[i].Validate(); err != nil {
			return nil, nil, models.NewError(models.CodeInvalidInput, "input message %d: %s", i, err)
		}
	}

	session, err := e.resolveSession(ctx, sessionID, adopted)
	if err != nil {
		return nil, nil, err
	}

	var history []models.Message
	if session != nil {
		history, err = session.History(ctx, e.runs)
		if err != nil {
			return nil, nil, err
		}
	}

	var runSession *uuid.UUID
	if session != nil {
		id := session.ID
		runSession = &id
	}
	data := &RunData{
		Run:    models.NewRun(agentName, runSession),
		Input:  input,
		Events: []models.Event{},
	}

	if session != nil {
		session.Append(data.Run.RunID)
		if err := e.sessions.Set(ctx, session.ID.String(), session); err != nil {
			return nil, nil, err
		}
	}
	if err := e.runs.Set(ctx, data.Key(), data); err != nil {
		return nil, nil, err
	}

	executor := NewExecutor(a, data, history, e.pool, e.runs, e.cancels, e.resumes)
	ready := make(chan struct{})
	executor.Execute(e.baseCtx, ready)

	slog.Info("Run created", "run_id", data.Run.RunID, "agent", agentName, "session_id", runSession)
	return data, func() { close(ready) }, nil
}

// resolveSession loads, adopts or creates the session for a run request.
// A session id with no stored session starts a fresh session under that
// id, matching the behaviour of a brand-new conversation.
func (e *Engine) resolveSession(ctx context.Context, sessionID *uuid.UUID, adopted *Session) (*Session, error) {
	if adopted != nil {
		return adopted, nil
	}
	if sessionID == nil {
		return NewSession(), nil
	}
	session, err := e.sessions.Get(ctx, sessionID.String())
	if err != nil {
		return nil, err
	}
	if session == nil {
		session = &Session{ID: *sessionID}
	}
	return session, nil
}

// Run reads the current run record.
func (e *Engine) Run(ctx context.Context, runID uuid.UUID) (*RunData, error) {
	data, err := e.runs.Get(ctx, runID.String())
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, models.NewError(models.CodeNotFound, "run %s not found", runID)
	}
	return data, nil
}

// Resume validates an await resume against the pending request and hands
// it to the executor through the resume store. It returns the run record
// and the event index streaming should continue from.
func (e *Engine) Resume(ctx context.Context, runID uuid.UUID, resume *models.AwaitResume) (*RunData, int, error) {
	data, err := e.Run(ctx, runID)
	if err != nil {
		return nil, 0, err
	}
	if data.Run.Status != models.StatusAwaiting || data.Run.AwaitRequest == nil {
		return nil, 0, ErrNoAwait
	}
	if !resume.Matches(data.Run.AwaitRequest) {
		return nil, 0, &AwaitMismatchError{RunID: runID, Expected: data.Run.AwaitRequest.Type}
	}
	next := len(data.Events)
	if err := e.resumes.Set(ctx, data.Key(), resume); err != nil {
		return nil, 0, err
	}
	return data, next, nil
}

// Cancel writes a cancel token for a non-terminal run. The returned run
// reports CANCELLING; the stored record transitions to CANCELLED once
// the executor observes the token at a cooperative point.
func (e *Engine) Cancel(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	data, err := e.Run(ctx, runID)
	if err != nil {
		return nil, err
	}
	if data.Run.Status.IsTerminal() {
		return nil, models.NewError(models.CodeInvalidInput,
			"run in terminal status %s can't be cancelled", data.Run.Status)
	}
	token := &CancelToken{RequestedAt: time.Now().UTC()}
	if err := e.cancels.Set(ctx, data.Key(), token); err != nil {
		return nil, err
	}
	run := data.Run.Clone()
	run.Status = models.StatusCancelling
	return &run, nil
}

// Session reads a session record.
func (e *Engine) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	session, err := e.sessions.Get(ctx, id.String())
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, models.NewError(models.CodeNotFound, "session %s not found", id)
	}
	return session, nil
}

// WatchRun subscribes to the run's snapshots, ending after the terminal
// one. ready is closed once the subscription is live.
func (e *Engine) WatchRun(ctx context.Context, runID uuid.UUID, ready chan<- struct{}) (<-chan *RunData, error) {
	watchCtx, stop := context.WithCancel(ctx)
	snapshots, err := e.runs.Watch(watchCtx, runID.String(), ready)
	if err != nil {
		stop()
		return nil, err
	}
	out := make(chan *RunData)
	go func() {
		defer close(out)
		defer stop()
		for data := range snapshots {
			if data == nil {
				continue
			}
			select {
			case out <- data:
			case <-ctx.Done():
				return
			}
			if data.Run.Status.IsTerminal() {
				return
			}
		}
	}()
	return out, nil
}
