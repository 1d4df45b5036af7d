package dto

import "github.com/anyhui/aleeai-prompt/internal/llm"

// OptimizationRequest starts a background run.
type OptimizationRequest struct {
	Prompt      string `json:"prompt" msgpack:"prompt"`
	PromptID    string `json:"prompt_id,omitempty" msgpack:"prompt_id,omitempty"`
	Save        bool   `json:"save,omitempty" msgpack:"save,omitempty"`
	Description string `json:"description,omitempty" msgpack:"description,omitempty"`
}

// OptimizationAccepted is returned when a run was started.
type OptimizationAccepted struct {
	RunID     string `json:"run_id" msgpack:"run_id"`
	StatusURL string `json:"status_url" msgpack:"status_url"`
	StreamURL string `json:"stream_url" msgpack:"stream_url"`
}

// ConnectionCheckRequest overrides fields of the configured remote call.
// Empty fields keep the configured value.
type ConnectionCheckRequest struct {
	Endpoint string `json:"endpoint,omitempty" msgpack:"endpoint,omitempty"`
	APIKey   string `json:"api_key,omitempty" msgpack:"api_key,omitempty"`
	Model    string `json:"model,omitempty" msgpack:"model,omitempty"`
}

// PresetsResponse lists the known endpoints and models.
type PresetsResponse struct {
	Endpoints       []llm.EndpointPreset `json:"endpoints" msgpack:"endpoints"`
	Models          []llm.ModelPreset    `json:"models" msgpack:"models"`
	DefaultEndpoint string               `json:"default_endpoint" msgpack:"default_endpoint"`
	DefaultModel    string               `json:"default_model" msgpack:"default_model"`
}
