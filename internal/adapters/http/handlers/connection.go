package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/anyhui/aleeai-prompt/internal/adapters/http/dto"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/llm"
	"github.com/anyhui/aleeai-prompt/internal/ports"
)

// connectionCheckTimeout bounds a single probe request.
const connectionCheckTimeout = 30 * time.Second

type ConnectionHandler struct {
	checker ports.ConnectionChecker
	config  func() models.RemoteCallConfig
}

func NewConnectionHandler(checker ports.ConnectionChecker, config func() models.RemoteCallConfig) *ConnectionHandler {
	return &ConnectionHandler{checker: checker, config: config}
}

// Check handles POST /api/v1/connection/check. The body is optional.
func (h *ConnectionHandler) Check(w http.ResponseWriter, r *http.Request) {
	cfg := h.config()

	if r.ContentLength != 0 {
		req, ok := decodeBody[dto.ConnectionCheckRequest](r, w)
		if !ok {
			return
		}
		if req.Endpoint != "" {
			cfg.Endpoint = llm.ResolveEndpoint(req.Endpoint)
		}
		if req.APIKey != "" {
			cfg.Credential = req.APIKey
		}
		if req.Model != "" {
			cfg.ModelID = req.Model
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectionCheckTimeout)
	defer cancel()

	respond(w, r, h.checker.CheckConnection(ctx, cfg), http.StatusOK)
}
