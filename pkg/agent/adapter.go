package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentmesh/acp/pkg/models"
)

// YieldExchange carries one yielded value from the agent to the executor
// together with the in-band resume channel. The executor must call
// Resume exactly once per exchange; for non-await yields the resume is
// nil.
type YieldExchange struct {
	Value RunYield
	reply chan *models.AwaitResume
}

// Resume hands the reply back to the agent, unblocking its Yield call.
func (y *YieldExchange) Resume(resume *models.AwaitResume) {
	y.reply <- resume
}

// RunContext is the agent's handle to its execution: the run's context
// for cooperative cancellation, the session it belongs to, and the yield
// pipe. Yield is safe to call from the worker-pool thread backing a
// blocking agent.
type RunContext struct {
	ctx       context.Context
	sessionID *uuid.UUID
	yields    chan *YieldExchange
}

// Context returns the run's context; it is cancelled when the run is
// cancelled.
func (rc *RunContext) Context() context.Context { return rc.ctx }

// SessionID returns the session the run belongs to, or nil.
func (rc *RunContext) SessionID() *uuid.UUID { return rc.sessionID }

// Yield hands one value to the executor and blocks until it is consumed.
// When value is a models.AwaitRequest, the returned resume is the
// client's answer; for every other value the resume is nil. Yield fails
// once the run is cancelled. An await torn down by cancellation may
// observe a nil resume with a nil error; agents must treat that as "no
// answer" and return.
func (rc *RunContext) Yield(value RunYield) (*models.AwaitResume, error) {
	exchange := &YieldExchange{Value: value, reply: make(chan *models.AwaitResume, 1)}
	select {
	case rc.yields <- exchange:
	case <-rc.ctx.Done():
		return nil, rc.ctx.Err()
	}
	select {
	case resume := <-exchange.reply:
		return resume, nil
	case <-rc.ctx.Done():
		return nil, rc.ctx.Err()
	}
}

// Execution is the adapter's output: a stream of yield exchanges followed
// by the agent's return value on Done. Yields is closed before Done is
// delivered.
type Execution struct {
	Yields <-chan *YieldExchange
	Done   <-chan error
}

// Execute starts the agent and returns its unified yield stream. Blocking
// agents are admitted through the pool first so they cannot saturate the
// process; pool may be nil for non-blocking agents.
func Execute(ctx context.Context, a *Agent, pool *Pool, input []models.Message, sessionID *uuid.UUID) *Execution {
	yields := make(chan *YieldExchange)
	done := make(chan error, 1)
	rc := &RunContext{ctx: ctx, sessionID: sessionID, yields: yields}

	go func() {
		defer close(yields)
		if a.Blocking() && pool != nil {
			release, err := pool.Acquire(ctx)
			if err != nil {
				done <- err
				return
			}
			defer release()
		}
		done <- a.run(rc, input)
	}()

	return &Execution{Yields: yields, Done: done}
}
