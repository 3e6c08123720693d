// Package agent defines the agent authoring surface and the adapter that
// normalizes the supported agent shapes into a single yield stream
// consumed by the run executor.
package agent

import (
	"github.com/agentmesh/acp/pkg/models"
)

// RunYield is one value produced by an agent. The executor classifies it
// as one of:
//
//   - models.Message        — a complete output message
//   - models.MessagePart    — appended to the implicitly open message
//   - string                — shorthand for a text/plain MessagePart
//   - models.AwaitRequest   — suspends the run until the client resumes
//   - *models.Error / error — fails the run
//   - map[string]any        — surfaced as a generic event
//   - nil                   — closes the implicitly open message
type RunYield any

// RunFunc is the generator shape: the agent calls RunContext.Yield for
// every produced value and returns when done.
type RunFunc func(rc *RunContext, input []models.Message) error

// MessageFunc is the function shape: the agent computes its full output
// in one call.
type MessageFunc func(rc *RunContext, input []models.Message) ([]models.Message, error)

// Agent is a named run producer. Construct with New or NewFromFunc;
// blocking-style agents additionally take WithBlocking so they are
// driven on the server's worker pool instead of the event loop.
type Agent struct {
	name        string
	description string
	metadata    map[string]any
	blocking    bool
	run         RunFunc
}

// Option configures an Agent.
type Option func(*Agent)

// WithDescription sets the manifest description.
func WithDescription(description string) Option {
	return func(a *Agent) { a.description = description }
}

// WithMetadata sets the free-form manifest metadata.
func WithMetadata(metadata map[string]any) Option {
	return func(a *Agent) { a.metadata = metadata }
}

// WithBlocking marks the agent as written in a blocking style. Its Run
// is dispatched on the bounded worker pool.
func WithBlocking() Option {
	return func(a *Agent) { a.blocking = true }
}

// New creates a generator-shaped agent.
func New(name string, run RunFunc, opts ...Option) *Agent {
	a := &Agent{name: name, run: run}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewFromFunc creates a function-shaped agent: every returned message is
// yielded in order once the function completes.
func NewFromFunc(name string, fn MessageFunc, opts ...Option) *Agent {
	run := func(rc *RunContext, input []models.Message) error {
		output, err := fn(rc, input)
		if err != nil {
			return err
		}
		for _, msg := range output {
			if _, err := rc.Yield(msg); err != nil {
				return err
			}
		}
		return nil
	}
	return New(name, run, opts...)
}

// Name returns the agent's registered name.
func (a *Agent) Name() string { return a.name }

// Blocking reports whether the agent must run on the worker pool.
func (a *Agent) Blocking() bool { return a.blocking }

// Manifest returns the discovery descriptor.
func (a *Agent) Manifest() models.AgentManifest {
	return models.AgentManifest{
		Name:        a.name,
		Description: a.description,
		Metadata:    a.metadata,
	}
}
