package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/anyhui/aleeai-prompt/internal/adapters/http/dto"
	"github.com/anyhui/aleeai-prompt/internal/adapters/http/encoding"
	"github.com/anyhui/aleeai-prompt/internal/domain"
)

// respond writes data as JSON or MessagePack depending on the Accept header
func respond(w http.ResponseWriter, r *http.Request, data any, status int) {
	if err := encoding.Write(w, r, status, data); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("failed to write response")
	}
}

// respondError writes an error response
func respondError(w http.ResponseWriter, r *http.Request, errorType string, message string, status int) {
	respond(w, r, dto.NewErrorResponse(errorType, message, status), status)
}

// respondDomainError maps err onto an HTTP status and a normalized message.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.Classify(err)
	status := statusForError(err, code)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("code", code).Msg("request failed")
	}
	respondError(w, r, code, domain.UserMessage(err), status)
}

func statusForError(err error, code string) int {
	if errors.Is(err, domain.ErrRunActive) {
		return http.StatusConflict
	}
	switch code {
	case domain.CodeConfiguration, domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeTransport, domain.CodeStreamDecode:
		return http.StatusBadGateway
	case domain.CodeCanceled:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// validateURLParam validates and returns a URL parameter
func validateURLParam(r *http.Request, w http.ResponseWriter, paramName, errorField string) (string, bool) {
	value := chi.URLParam(r, paramName)
	if value == "" {
		respondError(w, r, domain.CodeInvalidInput, errorField+" is required", http.StatusBadRequest)
		return "", false
	}
	return value, true
}

// decodeBody decodes a JSON or MessagePack request body with error handling
func decodeBody[T any](r *http.Request, w http.ResponseWriter) (*T, bool) {
	var req T
	if err := encoding.Decode(w, r, &req); err != nil {
		respondError(w, r, domain.CodeInvalidInput, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}
