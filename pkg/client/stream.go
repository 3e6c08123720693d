package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentmesh/acp/pkg/models"
)

// EventStream is a live view of a run's events delivered over SSE. Drain
// Events, then check Err for how the stream ended.
type EventStream struct {
	events chan models.Event
	err    error
}

// Events yields events until the server closes the stream. The channel
// is closed afterwards.
func (s *EventStream) Events() <-chan models.Event { return s.events }

// Err reports a transport or decode failure, if any. Valid only after
// Events is drained.
func (s *EventStream) Err() error { return s.err }

// stream POSTs body to path and tails the SSE response.
func (c *Client) stream(ctx context.Context, path string, body any) (*EventStream, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	s := &EventStream{events: make(chan models.Event)}
	go func() {
		defer close(s.events)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var event models.Event
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				s.err = err
				return
			}
			select {
			case s.events <- event:
			case <-ctx.Done():
				s.err = ctx.Err()
				return
			}
		}
		s.err = scanner.Err()
	}()
	return s, nil
}
