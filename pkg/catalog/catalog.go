// Package catalog ships the example agents bundled with the server
// binary. They double as the fixtures for the end-to-end tests: each one
// exercises a distinct corner of the run lifecycle.
package catalog

import (
	"fmt"
	"time"

	"github.com/agentmesh/acp/pkg/agent"
	"github.com/agentmesh/acp/pkg/models"
)

// Echo yields every input message back unchanged, one at a time.
func Echo() *agent.Agent {
	return agent.New("echo", func(rc *agent.RunContext, input []models.Message) error {
		for _, msg := range input {
			if _, err := rc.Yield(msg); err != nil {
				return err
			}
		}
		return nil
	}, agent.WithDescription("Echoes everything"))
}

// SyncEcho is the blocking-style twin of Echo: it is written as a plain
// function and dispatched on the worker pool.
func SyncEcho() *agent.Agent {
	return agent.NewFromFunc("sync_echo", func(rc *agent.RunContext, input []models.Message) ([]models.Message, error) {
		return input, nil
	}, agent.WithDescription("Echoes everything"), agent.WithBlocking())
}

// SlowEcho echoes with a per-message delay, long enough for a client to
// cancel mid-run.
func SlowEcho() *agent.Agent {
	return agent.New("slow_echo", func(rc *agent.RunContext, input []models.Message) error {
		for _, msg := range input {
			select {
			case <-time.After(time.Second):
			case <-rc.Context().Done():
				return rc.Context().Err()
			}
			if _, err := rc.Yield(msg); err != nil {
				return err
			}
		}
		return nil
	}, agent.WithDescription("Echoes everything, slowly"))
}

// Awaiter immediately parks on an await and echoes the resume message
// back as its output.
func Awaiter() *agent.Agent {
	return agent.New("awaiter", func(rc *agent.RunContext, input []models.Message) error {
		resume, err := rc.Yield(models.AwaitRequest{
			Type:    models.AwaitTypeMessage,
			Message: models.NewMessage(models.TextPart("Can you approve?")),
		})
		if err != nil {
			return err
		}
		if resume == nil {
			return fmt.Errorf("awaiter: resumed without a message")
		}
		if _, err := rc.Yield(resume.Message); err != nil {
			return err
		}
		return nil
	}, agent.WithDescription("Greets and awaits"))
}

// Failer yields a structured error, failing the run with invalid_input.
func Failer() *agent.Agent {
	return agent.New("failer", func(rc *agent.RunContext, input []models.Message) error {
		_, err := rc.Yield(models.NewError(models.CodeInvalidInput, "Wrong question buddy!"))
		return err
	}, agent.WithDescription("Always fails"))
}

// Raiser returns an error from its body, failing the run with
// server_error.
func Raiser() *agent.Agent {
	return agent.New("raiser", func(rc *agent.RunContext, input []models.Message) error {
		return fmt.Errorf("Whoops")
	}, agent.WithDescription("Always crashes"))
}

// All returns the full example roster in registration order.
func All() []*agent.Agent {
	return []*agent.Agent{Echo(), SyncEcho(), SlowEcho(), Awaiter(), Failer(), Raiser()}
}
