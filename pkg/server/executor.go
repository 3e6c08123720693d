package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentmesh/acp/pkg/agent"
	"github.com/agentmesh/acp/pkg/models"
	"github.com/agentmesh/acp/pkg/store"
)

// Executor drives exactly one run from CREATED to a terminal state. It is
// the sole writer for the run's store key; every state mutation persists
// the entire RunData so watchers always observe consistent snapshots,
// each a strict prefix of the next.
type Executor struct {
	agent   *agent.Agent
	pool    *agent.Pool
	data    *RunData
	history []models.Message

	runs    *store.View[RunData]
	cancels *store.View[CancelToken]
	resumes *store.View[models.AwaitResume]

	cancelled atomic.Bool
	done      chan struct{}
	log       *slog.Logger
}

// NewExecutor binds an agent to its run record and store views. The run
// must be in CREATED state and already persisted.
func NewExecutor(
	a *agent.Agent,
	data *RunData,
	history []models.Message,
	pool *agent.Pool,
	runs *store.View[RunData],
	cancels *store.View[CancelToken],
	resumes *store.View[models.AwaitResume],
) *Executor {
	return &Executor{
		agent:   a,
		pool:    pool,
		data:    data,
		history: history,
		runs:    runs,
		cancels: cancels,
		resumes: resumes,
		done:    make(chan struct{}),
		log:     slog.With("run_id", data.Run.RunID.String(), "agent", a.Name()),
	}
}

// Execute starts the run and its cancellation watcher. It returns
// immediately; the run proceeds until ready is closed and then to a
// terminal state. ctx scopes the whole execution and must outlive the
// originating HTTP request.
func (e *Executor) Execute(ctx context.Context, ready <-chan struct{}) {
	runCtx, cancel := context.WithCancel(ctx)
	go e.watchCancellation(ctx, cancel)
	go func() {
		defer close(e.done)
		defer cancel()
		e.run(runCtx, ready)
	}()
}

// Done is closed once the run has reached a terminal state and its final
// snapshot is persisted.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// watchCancellation subscribes to the run's cancel key and requests
// cooperative cancellation when a token appears. It exits when the run
// finishes.
func (e *Executor) watchCancellation(ctx context.Context, cancel context.CancelFunc) {
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		<-e.done
		stop()
	}()

	tokens, err := e.cancels.Watch(watchCtx, e.data.Key(), nil)
	if err != nil {
		e.log.Warn("Cancellation watcher failed to subscribe", "error", err)
		return
	}
	// The token may predate the subscription.
	if token, err := e.cancels.Get(watchCtx, e.data.Key()); err == nil && token != nil {
		e.cancelled.Store(true)
		cancel()
		return
	}
	for token := range tokens {
		if token != nil {
			e.cancelled.Store(true)
			cancel()
			return
		}
	}
}

// push persists the full RunData snapshot. The write context is detached
// from run cancellation so terminal snapshots always land.
func (e *Executor) push(ctx context.Context) error {
	return e.runs.Set(context.WithoutCancel(ctx), e.data.Key(), e.data)
}

// emit appends an event to the run's event list and persists.
func (e *Executor) emit(ctx context.Context, event models.Event) error {
	e.data.Events = append(e.data.Events, event)
	return e.push(ctx)
}

func (e *Executor) run(ctx context.Context, ready <-chan struct{}) {
	tracer := otel.Tracer("acp/server")
	_, span := tracer.Start(context.WithoutCancel(ctx), "run")
	span.SetAttributes(
		attribute.String("acp.run_id", e.data.Run.RunID.String()),
		attribute.String("acp.agent_name", e.data.Run.AgentName),
	)
	defer span.End()

	// Let the HTTP layer enroll stream subscribers before the first
	// event, so no event is lost to sync/stream callers.
	select {
	case <-ready:
	case <-ctx.Done():
		e.finishCancelled(ctx)
		return
	}

	run := &e.data.Run
	if err := e.emit(ctx, models.RunEvent(models.EventRunCreated, run)); err != nil {
		e.fail(ctx, models.AsError(err), false)
		return
	}

	execution := agent.Execute(ctx, e.agent, e.pool, append(e.history, e.data.Input...), run.SessionID)
	e.log.Info("Run started")

	run.Status = models.StatusInProgress
	if err := e.emit(ctx, models.RunEvent(models.EventRunInProgress, run)); err != nil {
		e.fail(ctx, models.AsError(err), false)
		return
	}

	inMessage := false
	var failure *models.Error

consume:
	for {
		select {
		case exchange, ok := <-execution.Yields:
			if !ok {
				break consume
			}
			resume, err := e.handleYield(ctx, exchange.Value, &inMessage)
			exchange.Resume(resume)
			if err != nil {
				failure = models.AsError(err)
				break consume
			}
		case <-ctx.Done():
			break consume
		}
	}

	// The agent's return travels on Done after Yields closes. When the
	// loop stopped early the run context is cancelled below, which
	// unblocks any pending Yield inside the agent.
	var agentErr error
	if failure != nil || ctx.Err() != nil {
		agentErr = <-drainExecution(ctx, execution)
	} else {
		agentErr = <-execution.Done
	}

	switch {
	case e.cancelled.Load() || (failure == nil && ctx.Err() != nil):
		e.finishCancelled(ctx)
	case failure != nil:
		e.fail(ctx, failure, true)
	case agentErr != nil:
		e.fail(ctx, models.AsError(agentErr), true)
	default:
		e.flushMessage(ctx, &inMessage)
		now := time.Now().UTC()
		run.Status = models.StatusCompleted
		run.FinishedAt = &now
		if err := e.emit(ctx, models.RunEvent(models.EventRunCompleted, run)); err != nil {
			e.log.Error("Persisting completed run failed", "error", err)
		}
		e.log.Info("Run completed")
	}
}

// drainExecution abandons the in-flight agent: the run context is already
// cancelled, so its next Yield returns an error and Done is delivered.
// Pending exchanges are resumed with nil so the agent is never stranded.
func drainExecution(ctx context.Context, execution *agent.Execution) <-chan error {
	out := make(chan error, 1)
	go func() {
		for {
			select {
			case exchange, ok := <-execution.Yields:
				if !ok {
					out <- <-execution.Done
					return
				}
				exchange.Resume(nil)
			case err := <-execution.Done:
				out <- err
				return
			}
		}
	}()
	return out
}

// handleYield applies the yield classification table. It returns the
// resume to hand back to the agent (non-nil only after an await) and an
// error when the yield fails the run.
func (e *Executor) handleYield(ctx context.Context, value agent.RunYield, inMessage *bool) (*models.AwaitResume, error) {
	switch v := value.(type) {
	case models.MessagePart:
		return nil, e.appendPart(ctx, v, inMessage)
	case *models.MessagePart:
		return nil, e.appendPart(ctx, *v, inMessage)
	case string:
		return nil, e.appendPart(ctx, models.TextPart(v), inMessage)
	case models.Message:
		return nil, e.appendMessage(ctx, v, inMessage)
	case *models.Message:
		return nil, e.appendMessage(ctx, *v, inMessage)
	case models.AwaitRequest:
		e.flushMessage(ctx, inMessage)
		return e.await(ctx, v)
	case *models.AwaitRequest:
		e.flushMessage(ctx, inMessage)
		return e.await(ctx, *v)
	case *models.Error:
		return nil, v
	case error:
		return nil, v
	case nil:
		e.flushMessage(ctx, inMessage)
		return nil, nil
	case map[string]any:
		e.flushMessage(ctx, inMessage)
		return nil, e.emit(ctx, models.GenericEvent(v))
	default:
		generic, err := toGeneric(v)
		if err != nil {
			return nil, models.NewError(models.CodeServerError, "invalid yield of type %T", value)
		}
		e.flushMessage(ctx, inMessage)
		return nil, e.emit(ctx, models.GenericEvent(generic))
	}
}

// appendPart opens the implicit message on the first part yield and
// appends to it.
func (e *Executor) appendPart(ctx context.Context, part models.MessagePart, inMessage *bool) error {
	part.Normalize()
	run := &e.data.Run
	if !*inMessage {
		now := time.Now().UTC()
		run.Output = append(run.Output, models.Message{
			Role:      models.AgentRole(e.agent.Name()),
			Parts:     []models.MessagePart{},
			CreatedAt: &now,
		})
		*inMessage = true
		if err := e.emit(ctx, models.MessageEvent(models.EventMessageCreated, &run.Output[len(run.Output)-1])); err != nil {
			return err
		}
	}
	last := &run.Output[len(run.Output)-1]
	last.Parts = append(last.Parts, part)
	return e.emit(ctx, models.PartEvent(part))
}

// appendMessage closes any implicit message and emits the complete
// message as created, one part event per part, then completed.
func (e *Executor) appendMessage(ctx context.Context, msg models.Message, inMessage *bool) error {
	e.flushMessage(ctx, inMessage)

	msg.Normalize()
	// The server stamps agent output with the agent's role; an explicit
	// agent-scoped role supplied by the agent is preserved.
	if msg.Role == "" || msg.Role == models.RoleUser {
		msg.Role = models.AgentRole(e.agent.Name())
	}
	now := time.Now().UTC()
	if msg.CreatedAt == nil {
		msg.CreatedAt = &now
	}
	if msg.CompletedAt == nil {
		msg.CompletedAt = &now
	}

	run := &e.data.Run
	run.Output = append(run.Output, msg)
	if err := e.emit(ctx, models.MessageEvent(models.EventMessageCreated, &msg)); err != nil {
		return err
	}
	for _, part := range msg.Parts {
		if err := e.emit(ctx, models.PartEvent(part)); err != nil {
			return err
		}
	}
	return e.emit(ctx, models.MessageEvent(models.EventMessageCompleted, &msg))
}

// flushMessage stamps and closes the implicitly open message.
func (e *Executor) flushMessage(ctx context.Context, inMessage *bool) {
	if !*inMessage {
		return
	}
	run := &e.data.Run
	msg := &run.Output[len(run.Output)-1]
	now := time.Now().UTC()
	msg.CompletedAt = &now
	if err := e.emit(ctx, models.MessageEvent(models.EventMessageCompleted, msg)); err != nil {
		e.log.Warn("Persisting completed message failed", "error", err)
	}
	*inMessage = false
}

// await parks the run in AWAITING and blocks until the client posts a
// matching resume, which is cleared from the store and injected back
// into the agent.
func (e *Executor) await(ctx context.Context, request models.AwaitRequest) (*models.AwaitResume, error) {
	// Subscribe before AWAITING is visible: resumes are only admitted
	// against a persisted AWAITING status, so the subscription cannot
	// miss one.
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()
	resumes, err := e.resumes.Watch(watchCtx, e.data.Key(), nil)
	if err != nil {
		return nil, err
	}

	run := &e.data.Run
	run.AwaitRequest = &request
	run.Status = models.StatusAwaiting
	if err := e.emit(ctx, models.RunEvent(models.EventRunAwaiting, run)); err != nil {
		return nil, err
	}
	e.log.Info("Run awaiting")

	for resume := range resumes {
		if resume == nil {
			continue
		}
		if err := e.resumes.Set(context.WithoutCancel(ctx), e.data.Key(), nil); err != nil {
			return nil, err
		}
		e.reload(ctx)
		run.AwaitRequest = nil
		run.Status = models.StatusInProgress
		if err := e.emit(ctx, models.RunEvent(models.EventRunInProgress, run)); err != nil {
			return nil, err
		}
		e.log.Info("Run resumed")
		return resume, nil
	}
	// Watch ended: the run was cancelled while awaiting.
	return nil, ctx.Err()
}

// reload refreshes the event list from the store at the await/resume
// boundary, so a record touched by recovery tooling is not overwritten
// from a stale copy.
func (e *Executor) reload(ctx context.Context) {
	stored, err := e.runs.Get(context.WithoutCancel(ctx), e.data.Key())
	if err != nil || stored == nil {
		return
	}
	if len(stored.Events) > len(e.data.Events) {
		e.data.Events = stored.Events
	}
}

func (e *Executor) finishCancelled(ctx context.Context) {
	run := &e.data.Run
	now := time.Now().UTC()
	run.Status = models.StatusCancelled
	run.FinishedAt = &now
	if err := e.emit(ctx, models.RunEvent(models.EventRunCancelled, run)); err != nil {
		e.log.Error("Persisting cancelled run failed", "error", err)
	}
	e.log.Info("Run cancelled")
}

func (e *Executor) fail(ctx context.Context, failure *models.Error, logIt bool) {
	run := &e.data.Run
	now := time.Now().UTC()
	run.Error = failure
	run.Status = models.StatusFailed
	run.FinishedAt = &now
	if err := e.emit(ctx, models.RunEvent(models.EventRunFailed, run)); err != nil {
		e.log.Error("Persisting failed run failed", "error", err)
	}
	if logIt {
		e.log.Error("Run failed", "code", failure.Code, "error", failure.Message)
	}
}

// toGeneric converts an arbitrary structured yield into a JSON object.
func toGeneric(value any) (map[string]any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("yield is not a JSON object: %w", err)
	}
	return generic, nil
}
