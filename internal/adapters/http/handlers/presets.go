package handlers

import (
	"net/http"

	"github.com/anyhui/aleeai-prompt/internal/adapters/http/dto"
	"github.com/anyhui/aleeai-prompt/internal/llm"
)

// Presets handles GET /api/v1/presets
func Presets(w http.ResponseWriter, r *http.Request) {
	respond(w, r, dto.PresetsResponse{
		Endpoints:       llm.EndpointPresets,
		Models:          llm.ModelPresets,
		DefaultEndpoint: llm.DefaultEndpoint,
		DefaultModel:    llm.DefaultModel,
	}, http.StatusOK)
}
