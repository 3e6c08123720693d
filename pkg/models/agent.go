package models

// AgentManifest describes a registered agent as served by the discovery
// endpoints.
type AgentManifest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
