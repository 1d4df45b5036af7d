package dto

import "github.com/anyhui/aleeai-prompt/internal/domain/models"

type SaveVersionRequest struct {
	Content     string `json:"content" msgpack:"content"`
	Description string `json:"description,omitempty" msgpack:"description,omitempty"`
}

type VersionListResponse struct {
	PromptID string            `json:"prompt_id" msgpack:"prompt_id"`
	Versions []*models.Version `json:"versions" msgpack:"versions"`
	Total    int               `json:"total" msgpack:"total"`
}

type PromptListResponse struct {
	PromptIDs []string `json:"prompt_ids" msgpack:"prompt_ids"`
	Total     int      `json:"total" msgpack:"total"`
}

type DiffResponse struct {
	PromptID string             `json:"prompt_id" msgpack:"prompt_id"`
	From     string             `json:"from" msgpack:"from"`
	To       string             `json:"to" msgpack:"to"`
	Entries  []models.DiffEntry `json:"entries" msgpack:"entries"`
}
