package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/anyhui/aleeai-prompt/internal/adapters/http/dto"
	"github.com/anyhui/aleeai-prompt/internal/application/services"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
)

// RunManager starts and tracks background optimization runs.
type RunManager interface {
	Start(ctx context.Context, input string, opts services.RunOptions) (string, error)
	Get(runID string) (*models.RunResult, error)
	Cancel(runID string) error
	Done(runID string) (<-chan struct{}, error)
}

var _ RunManager = (*services.RunRegistry)(nil)

// OptimizationHandler serves the optimization run endpoints
type OptimizationHandler struct {
	runs        RunManager
	publisher   ports.ProgressPublisher
	broadcaster *WebSocketBroadcaster
	upgrader    websocket.Upgrader
}

func NewOptimizationHandler(
	runs RunManager,
	publisher ports.ProgressPublisher,
	broadcaster *WebSocketBroadcaster,
	allowedOrigins []string,
) *OptimizationHandler {
	return &OptimizationHandler{
		runs:        runs,
		publisher:   publisher,
		broadcaster: broadcaster,
		upgrader:    newUpgrader(allowedOrigins),
	}
}

// Create handles POST /api/v1/optimizations
func (h *OptimizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[dto.OptimizationRequest](r, w)
	if !ok {
		return
	}

	runID, err := h.runs.Start(r.Context(), req.Prompt, services.RunOptions{
		Save:        req.Save,
		PromptID:    req.PromptID,
		Description: req.Description,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	base := "/api/v1/optimizations/" + runID
	w.Header().Set("Location", base)
	respond(w, r, dto.OptimizationAccepted{
		RunID:     runID,
		StatusURL: base,
		StreamURL: base + "/stream",
	}, http.StatusAccepted)
}

// Get handles GET /api/v1/optimizations/{id}
func (h *OptimizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID, ok := validateURLParam(r, w, "id", "Optimization run ID")
	if !ok {
		return
	}

	result, err := h.runs.Get(runID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, result, http.StatusOK)
}

// Cancel handles DELETE /api/v1/optimizations/{id}
func (h *OptimizationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	runID, ok := validateURLParam(r, w, "id", "Optimization run ID")
	if !ok {
		return
	}

	if err := h.runs.Cancel(runID); err != nil {
		respondDomainError(w, r, err)
		return
	}

	result, err := h.runs.Get(runID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, result, http.StatusAccepted)
}

// terminalEvent rebuilds the closing event of a finished run from its snapshot.
func terminalEvent(result *models.RunResult) models.ProgressEvent {
	event := models.ProgressEvent{
		Type:    models.ProgressEventFailed,
		RunID:   result.RunID,
		State:   result.State,
		Stats:   result.Stats,
		Message: result.Error,
	}
	if result.State == models.PipelineStateCompleted {
		event.Type = models.ProgressEventCompleted
		event.Message = ""
		event.Text = result.OptimizedPrompt
	}
	if result.CompletedAt != nil {
		event.Timestamp = result.CompletedAt.UnixMilli()
	}
	return event
}

func connectedEvent(result *models.RunResult) models.ProgressEvent {
	return models.ProgressEvent{
		Type:  models.ProgressEventConnected,
		RunID: result.RunID,
		State: result.State,
		Stats: result.Stats,
	}
}
