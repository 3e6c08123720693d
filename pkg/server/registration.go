package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentmesh/acp/pkg/models"
)

// registrationPayload is the body POSTed to the platform on startup.
type registrationPayload struct {
	URL            string                 `json:"url"`
	ProductionMode bool                   `json:"production_mode"`
	Agents         []models.AgentManifest `json:"agents"`
}

// RegisterWithPlatform announces this server's base URL and agent roster
// to an external platform. It is best-effort from the caller's point of
// view: callers typically log the returned error and keep serving.
func RegisterWithPlatform(ctx context.Context, platformURL, selfURL string, production bool, agents []models.AgentManifest) error {
	body, err := json.Marshal(registrationPayload{
		URL:            selfURL,
		ProductionMode: production,
		Agents:         agents,
	})
	if err != nil {
		return fmt.Errorf("marshal registration payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, platformURL+"/registry/agents", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("register with platform: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("register with platform: unexpected status %d", resp.StatusCode)
	}
	slog.Info("Registered with platform", "platform_url", platformURL, "self_url", selfURL)
	return nil
}
