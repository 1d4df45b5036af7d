package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
)

// sseKeepalive is the interval between keepalive comments.
var sseKeepalive = 30 * time.Second

// Stream handles GET /api/v1/optimizations/{id}/stream
// Establishes SSE connection for real-time optimization progress
func (h *OptimizationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	runID, ok := validateURLParam(r, w, "id", "Optimization run ID")
	if !ok {
		return
	}

	if _, err := h.runs.Get(runID); err != nil {
		respondDomainError(w, r, err)
		return
	}

	// Subscribe before reading the snapshot so no event falls in between
	progressChan := h.publisher.Subscribe(runID)
	defer h.publisher.Unsubscribe(runID, progressChan)

	run, err := h.runs.Get(runID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	done, err := h.runs.Done(runID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, domain.CodeInternal, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := log.With().Str("run_id", runID).Logger()
	logger.Debug().Msg("SSE progress stream established")

	h.sendEvent(w, flusher, connectedEvent(run))

	keepaliveTicker := time.NewTicker(sseKeepalive)
	defer keepaliveTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Msg("SSE client disconnected")
			return

		case event, ok := <-progressChan:
			if !ok {
				h.finish(w, flusher, progressChan, runID)
				return
			}
			h.sendEvent(w, flusher, event)
			if event.IsTerminal() {
				return
			}

		case <-done:
			h.finish(w, flusher, progressChan, runID)
			return

		case <-keepaliveTicker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// finish drains events still buffered for a finished run. When the terminal
// event was published before this subscriber joined, it is rebuilt from the
// run snapshot.
func (h *OptimizationHandler) finish(w http.ResponseWriter, flusher http.Flusher, ch <-chan models.ProgressEvent, runID string) {
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				h.sendFinalSnapshot(w, flusher, runID)
				return
			}
			h.sendEvent(w, flusher, event)
			if event.IsTerminal() {
				return
			}
		default:
			h.sendFinalSnapshot(w, flusher, runID)
			return
		}
	}
}

func (h *OptimizationHandler) sendFinalSnapshot(w http.ResponseWriter, flusher http.Flusher, runID string) {
	run, err := h.runs.Get(runID)
	if err != nil {
		return
	}
	if !run.State.IsTerminal() {
		return
	}
	h.sendEvent(w, flusher, terminalEvent(run))
}

// sendEvent sends an SSE event to the client
func (h *OptimizationHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event models.ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("SSE: failed to marshal event")
		return
	}

	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	flusher.Flush()
}
