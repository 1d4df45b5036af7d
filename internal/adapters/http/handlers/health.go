package handlers

import (
	"net/http"
)

type HealthHandler struct {
	version string
}

func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

type HealthResponse struct {
	Status  string `json:"status" msgpack:"status"`
	Version string `json:"version,omitempty" msgpack:"version,omitempty"`
}

// Handle provides a basic health check endpoint
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	respond(w, r, HealthResponse{Status: "ok", Version: h.version}, http.StatusOK)
}
