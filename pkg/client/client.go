// Package client is the Go client for the run API: agent discovery, run
// creation in all three response modes, await resume, cancellation and
// session continuity.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/agentmesh/acp/pkg/models"
	"github.com/agentmesh/acp/pkg/version"
)

// userAgent identifies this client on the wire.
var userAgent = "acp-client/" + version.GitCommit

// Client talks to one server. The zero value is not usable; construct
// with New.
type Client struct {
	baseURL   string
	http      *http.Client
	sessionID *uuid.UUID
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client, e.g. for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: baseURL, http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns a copy of the client bound to a fresh session: every
// run it creates shares one conversation history.
func (c *Client) Session() *Client {
	id := uuid.New()
	bound := *c
	bound.sessionID = &id
	return &bound
}

// SessionID returns the bound session id, or nil for an unbound client.
func (c *Client) SessionID() *uuid.UUID { return c.sessionID }

// Ping checks server liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.getJSON(ctx, "/ping", &struct{}{})
}

// Agents lists the server's agent manifests.
func (c *Client) Agents(ctx context.Context) ([]models.AgentManifest, error) {
	var out struct {
		Agents []models.AgentManifest `json:"agents"`
	}
	if err := c.getJSON(ctx, "/agents", &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// Agent reads one agent manifest by name.
func (c *Client) Agent(ctx context.Context, name string) (*models.AgentManifest, error) {
	var out models.AgentManifest
	if err := c.getJSON(ctx, "/agents/"+name, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunSync creates a run and blocks until it completes, fails, is
// cancelled, or pauses on an await.
func (c *Client) RunSync(ctx context.Context, agentName string, input ...models.Message) (*models.Run, error) {
	return c.createRun(ctx, agentName, input, models.ModeSync)
}

// RunAsync creates a run and returns immediately with its created
// snapshot.
func (c *Client) RunAsync(ctx context.Context, agentName string, input ...models.Message) (*models.Run, error) {
	return c.createRun(ctx, agentName, input, models.ModeAsync)
}

// RunStream creates a run and streams its events live. The stream ends
// after a terminal or awaiting event.
func (c *Client) RunStream(ctx context.Context, agentName string, input ...models.Message) (*EventStream, error) {
	body := runCreateRequest{
		AgentName: agentName,
		SessionID: c.sessionID,
		Input:     input,
		Mode:      models.ModeStream,
	}
	return c.stream(ctx, "/runs", body)
}

// Run reads the run's current snapshot.
func (c *Client) Run(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	var out models.Run
	if err := c.getJSON(ctx, "/runs/"+runID.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunEvents reads the run's full persisted event history.
func (c *Client) RunEvents(ctx context.Context, runID uuid.UUID) ([]models.Event, error) {
	var out struct {
		Events []models.Event `json:"events"`
	}
	if err := c.getJSON(ctx, "/runs/"+runID.String()+"/events", &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// RunCancel requests cooperative cancellation and returns the run in its
// cancelling state.
func (c *Client) RunCancel(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	var out models.Run
	if err := c.postJSON(ctx, "/runs/"+runID.String()+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunResumeSync answers a run's await and blocks until the next pause.
func (c *Client) RunResumeSync(ctx context.Context, runID uuid.UUID, resume *models.AwaitResume) (*models.Run, error) {
	return c.resumeRun(ctx, runID, resume, models.ModeSync)
}

// RunResumeAsync answers a run's await and returns immediately.
func (c *Client) RunResumeAsync(ctx context.Context, runID uuid.UUID, resume *models.AwaitResume) (*models.Run, error) {
	return c.resumeRun(ctx, runID, resume, models.ModeAsync)
}

// RunResumeStream answers a run's await and streams the events that
// follow the resume point.
func (c *Client) RunResumeStream(ctx context.Context, runID uuid.UUID, resume *models.AwaitResume) (*EventStream, error) {
	body := runResumeRequest{AwaitResume: resume, Mode: models.ModeStream}
	return c.stream(ctx, "/runs/"+runID.String(), body)
}

// SessionRecord is a stored session: the ordered run ids sharing one
// conversation.
type SessionRecord struct {
	ID   uuid.UUID   `json:"id"`
	Runs []uuid.UUID `json:"runs"`
}

// SessionHistory reads a stored session record.
func (c *Client) SessionHistory(ctx context.Context, sessionID uuid.UUID) (*SessionRecord, error) {
	var out SessionRecord
	if err := c.getJSON(ctx, "/sessions/"+sessionID.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type runCreateRequest struct {
	AgentName string           `json:"agent_name"`
	SessionID *uuid.UUID       `json:"session_id,omitempty"`
	Input     []models.Message `json:"input"`
	Mode      models.RunMode   `json:"mode,omitempty"`
}

type runResumeRequest struct {
	AwaitResume *models.AwaitResume `json:"await_resume"`
	Mode        models.RunMode      `json:"mode,omitempty"`
}

func (c *Client) createRun(ctx context.Context, agentName string, input []models.Message, mode models.RunMode) (*models.Run, error) {
	body := runCreateRequest{
		AgentName: agentName,
		SessionID: c.sessionID,
		Input:     input,
		Mode:      mode,
	}
	var out models.Run
	if err := c.postJSON(ctx, "/runs", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) resumeRun(ctx context.Context, runID uuid.UUID, resume *models.AwaitResume, mode models.RunMode) (*models.Run, error) {
	body := runResumeRequest{AwaitResume: resume, Mode: mode}
	var out models.Run
	if err := c.postJSON(ctx, "/runs/"+runID.String(), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns a non-2xx response into a *models.Error where the
// body carries one.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var apiErr models.Error
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		return &apiErr
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}
