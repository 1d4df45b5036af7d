package handlers

import (
	"context"
	"net/http"

	"github.com/anyhui/aleeai-prompt/internal/adapters/http/dto"
	"github.com/anyhui/aleeai-prompt/internal/application/services"
	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
)

// VersionStore is the version history the handlers expose.
type VersionStore interface {
	Save(ctx context.Context, promptID, content, description string) (*models.Version, error)
	List(ctx context.Context, promptID string) ([]*models.Version, error)
	Get(ctx context.Context, promptID, versionID string) (*models.Version, error)
	Delete(ctx context.Context, promptID, versionID string) error
	Compare(ctx context.Context, promptID, fromID, toID string) ([]models.DiffEntry, error)
	PromptIDs(ctx context.Context) ([]string, error)
}

var _ VersionStore = (*services.VersionService)(nil)

type VersionsHandler struct {
	versions VersionStore
}

func NewVersionsHandler(versions VersionStore) *VersionsHandler {
	return &VersionsHandler{versions: versions}
}

// ListPrompts handles GET /api/v1/prompts
func (h *VersionsHandler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	ids, err := h.versions.PromptIDs(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, dto.PromptListResponse{PromptIDs: ids, Total: len(ids)}, http.StatusOK)
}

// List handles GET /api/v1/prompts/{promptID}/versions
func (h *VersionsHandler) List(w http.ResponseWriter, r *http.Request) {
	promptID, ok := validateURLParam(r, w, "promptID", "Prompt ID")
	if !ok {
		return
	}

	versions, err := h.versions.List(r.Context(), promptID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, dto.VersionListResponse{PromptID: promptID, Versions: versions, Total: len(versions)}, http.StatusOK)
}

// Save handles POST /api/v1/prompts/{promptID}/versions
func (h *VersionsHandler) Save(w http.ResponseWriter, r *http.Request) {
	promptID, ok := validateURLParam(r, w, "promptID", "Prompt ID")
	if !ok {
		return
	}
	req, ok := decodeBody[dto.SaveVersionRequest](r, w)
	if !ok {
		return
	}

	version, err := h.versions.Save(r.Context(), promptID, req.Content, req.Description)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, version, http.StatusCreated)
}

// Get handles GET /api/v1/prompts/{promptID}/versions/{versionID}
func (h *VersionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	promptID, ok := validateURLParam(r, w, "promptID", "Prompt ID")
	if !ok {
		return
	}
	versionID, ok := validateURLParam(r, w, "versionID", "Version ID")
	if !ok {
		return
	}

	version, err := h.versions.Get(r.Context(), promptID, versionID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, version, http.StatusOK)
}

// Delete handles DELETE /api/v1/prompts/{promptID}/versions/{versionID}
func (h *VersionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	promptID, ok := validateURLParam(r, w, "promptID", "Prompt ID")
	if !ok {
		return
	}
	versionID, ok := validateURLParam(r, w, "versionID", "Version ID")
	if !ok {
		return
	}

	if err := h.versions.Delete(r.Context(), promptID, versionID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Diff handles GET /api/v1/prompts/{promptID}/diff?from=&to=
func (h *VersionsHandler) Diff(w http.ResponseWriter, r *http.Request) {
	promptID, ok := validateURLParam(r, w, "promptID", "Prompt ID")
	if !ok {
		return
	}
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		respondError(w, r, domain.CodeInvalidInput, "from and to query parameters are required", http.StatusBadRequest)
		return
	}

	entries, err := h.versions.Compare(r.Context(), promptID, from, to)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.DiffEntry{}
	}
	respond(w, r, dto.DiffResponse{PromptID: promptID, From: from, To: to, Entries: entries}, http.StatusOK)
}
