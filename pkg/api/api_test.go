package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/acp/pkg/catalog"
	"github.com/agentmesh/acp/pkg/models"
	"github.com/agentmesh/acp/pkg/server"
	"github.com/agentmesh/acp/pkg/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine := server.NewEngine(store.NewMemoryStore(store.MemoryOptions{}), server.EngineOptions{})
	t.Cleanup(engine.Close)
	for _, a := range catalog.All() {
		engine.Register(a)
	}
	ts := httptest.NewServer(NewServer(engine).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeRun(t *testing.T, resp *http.Response) models.Run {
	t.Helper()
	defer resp.Body.Close()
	var run models.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	return run
}

func decodeAPIError(t *testing.T, resp *http.Response) models.Error {
	t.Helper()
	defer resp.Body.Close()
	var apiErr models.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	return apiErr
}

func pollRun(t *testing.T, baseURL string, runID uuid.UUID, want models.RunStatus) models.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/runs/" + runID.String())
		require.NoError(t, err)
		run := decodeRun(t, resp)
		if run.Status == want {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", runID, want)
	return models.Run{}
}

func textInput(content string) []models.Message {
	return []models.Message{models.NewMessage(models.TextPart(content))}
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAgentDiscovery(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list AgentsListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.NotEmpty(t, list.Agents)
	assert.Equal(t, "echo", list.Agents[0].Name)

	resp, err = http.Get(ts.URL + "/agents/echo")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/agents/ghost")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, models.CodeNotFound, decodeAPIError(t, resp).Code)
}

func TestCreateRunSync(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/runs", map[string]any{
		"agent_name": "echo",
		"input":      textInput("Howdy!"),
		"mode":       "sync",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRunID))

	run := decodeRun(t, resp)
	assert.Equal(t, models.StatusCompleted, run.Status)
	require.Len(t, run.Output, 1)
	assert.Equal(t, "Howdy!", run.Output[0].String())
	assert.Equal(t, "agent/echo", run.Output[0].Role)
}

func TestCreateRunDefaultsToSync(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/runs", map[string]any{
		"agent_name": "echo",
		"input":      textInput("hi"),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusCompleted, decodeRun(t, resp).Status)
}

func TestCreateRunValidation(t *testing.T) {
	ts := newTestServer(t)

	t.Run("malformed body", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/runs", "application/json", strings.NewReader("{not json"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, models.CodeInvalidInput, decodeAPIError(t, resp).Code)
	})

	t.Run("missing agent_name", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/runs", map[string]any{"input": textInput("hi")})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown agent", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/runs", map[string]any{"agent_name": "ghost"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, models.CodeInvalidInput, decodeAPIError(t, resp).Code)
	})

	t.Run("unknown mode", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/runs", map[string]any{"agent_name": "echo", "mode": "batch"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("invalid message part", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/runs", map[string]any{
			"agent_name": "echo",
			"input":      []map[string]any{{"role": "user", "parts": []map[string]any{{}}}},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestCreateRunAsync(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/runs", map[string]any{
		"agent_name": "echo",
		"input":      textInput("hi"),
		"mode":       "async",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decodeRun(t, resp)
	assert.Equal(t, models.StatusCreated, created.Status)

	final := pollRun(t, ts.URL, created.RunID, models.StatusCompleted)
	require.Len(t, final.Output, 1)
	assert.Equal(t, "hi", final.Output[0].String())

	eventsResp, err := http.Get(ts.URL + "/runs/" + created.RunID.String() + "/events")
	require.NoError(t, err)
	defer eventsResp.Body.Close()
	var events RunEventsResponse
	require.NoError(t, json.NewDecoder(eventsResp.Body).Decode(&events))
	require.NotEmpty(t, events.Events)
	assert.Equal(t, models.EventRunCreated, events.Events[0].Type)
	assert.Equal(t, models.EventRunCompleted, events.Events[len(events.Events)-1].Type)
}

// readStream collects every SSE data frame until the server closes the
// stream.
func readStream(t *testing.T, resp *http.Response) []models.Event {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []models.Event
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event models.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestCreateRunStream(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/runs", map[string]any{
		"agent_name": "echo",
		"input":      textInput("hi"),
		"mode":       "stream",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRunID))

	events := readStream(t, resp)
	require.NotEmpty(t, events)

	var types []models.EventType
	for _, event := range events {
		types = append(types, event.Type)
	}
	assert.Equal(t, []models.EventType{
		models.EventRunCreated,
		models.EventRunInProgress,
		models.EventMessageCreated,
		models.EventMessagePart,
		models.EventMessageCompleted,
		models.EventRunCompleted,
	}, types)
	assert.Equal(t, "hi", events[3].Part.Text())
}

func TestRunLookupValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/runs/" + uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, models.CodeNotFound, decodeAPIError(t, resp).Code)

	resp, err = http.Get(ts.URL + "/runs/not-a-uuid")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestSyncRunPausesOnAwait(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/runs", map[string]any{
		"agent_name": "awaiter",
		"mode":       "sync",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decodeRun(t, resp)
	assert.Equal(t, models.StatusAwaiting, run.Status)
	require.NotNil(t, run.AwaitRequest)
	assert.Equal(t, "Can you approve?", run.AwaitRequest.Message.String())
}

func TestResumeRun(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/runs", map[string]any{"agent_name": "awaiter", "mode": "sync"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decodeRun(t, resp)
	require.Equal(t, models.StatusAwaiting, run.Status)

	resumeResp := postJSON(t, fmt.Sprintf("%s/runs/%s", ts.URL, run.RunID), map[string]any{
		"await_resume": map[string]any{
			"type":    "message",
			"message": models.NewMessage(models.TextPart("approved")),
		},
		"mode": "sync",
	})
	require.Equal(t, http.StatusOK, resumeResp.StatusCode)
	resumed := decodeRun(t, resumeResp)
	assert.Equal(t, models.StatusCompleted, resumed.Status)
	require.Len(t, resumed.Output, 1)
	assert.Equal(t, "approved", resumed.Output[0].String())
}

func TestResumeRejections(t *testing.T) {
	ts := newTestServer(t)

	t.Run("no pending await", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/runs", map[string]any{"agent_name": "echo", "input": textInput("hi")})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		run := decodeRun(t, resp)

		resumeResp := postJSON(t, fmt.Sprintf("%s/runs/%s", ts.URL, run.RunID), map[string]any{
			"await_resume": map[string]any{"type": "message", "message": models.NewMessage(models.TextPart("x"))},
		})
		assert.Equal(t, http.StatusForbidden, resumeResp.StatusCode)
		assert.Equal(t, models.CodeInvalidInput, decodeAPIError(t, resumeResp).Code)
	})

	t.Run("type mismatch", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/runs", map[string]any{"agent_name": "awaiter", "mode": "sync"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		run := decodeRun(t, resp)

		resumeResp := postJSON(t, fmt.Sprintf("%s/runs/%s", ts.URL, run.RunID), map[string]any{
			"await_resume": map[string]any{"type": "tool", "message": models.NewMessage(models.TextPart("x"))},
		})
		assert.Equal(t, http.StatusForbidden, resumeResp.StatusCode)
	})

	t.Run("missing await_resume", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/runs", map[string]any{"agent_name": "awaiter", "mode": "sync"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		run := decodeRun(t, resp)

		resumeResp := postJSON(t, fmt.Sprintf("%s/runs/%s", ts.URL, run.RunID), map[string]any{})
		assert.Equal(t, http.StatusBadRequest, resumeResp.StatusCode)
		resumeResp.Body.Close()
	})
}

func TestCancelRun(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/runs", map[string]any{
		"agent_name": "slow_echo",
		"input":      textInput("hi"),
		"mode":       "async",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	run := decodeRun(t, resp)

	cancelResp := postJSON(t, fmt.Sprintf("%s/runs/%s/cancel", ts.URL, run.RunID), nil)
	require.Equal(t, http.StatusAccepted, cancelResp.StatusCode)
	assert.Equal(t, models.StatusCancelling, decodeRun(t, cancelResp).Status)

	pollRun(t, ts.URL, run.RunID, models.StatusCancelled)
}

func TestSessionRead(t *testing.T) {
	ts := newTestServer(t)
	sessionID := uuid.New()

	resp := postJSON(t, ts.URL+"/runs", map[string]any{
		"agent_name": "echo",
		"session_id": sessionID,
		"input":      textInput("hi"),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	sessionResp, err := http.Get(ts.URL + "/sessions/" + sessionID.String())
	require.NoError(t, err)
	defer sessionResp.Body.Close()
	require.Equal(t, http.StatusOK, sessionResp.StatusCode)

	var session server.Session
	require.NoError(t, json.NewDecoder(sessionResp.Body).Decode(&session))
	assert.Equal(t, sessionID, session.ID)
	assert.Len(t, session.Runs, 1)

	missing, err := http.Get(ts.URL + "/sessions/" + uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	missing.Body.Close()
}
