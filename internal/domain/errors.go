package domain

import (
	"context"
	"errors"
	"strings"
)

// Error taxonomy shared by every layer. Wrap with DomainError to attach a message;
// errors.Is against these sentinels still works through the wrapper.
var (
	// Run-level failures
	ErrConfiguration = errors.New("invalid configuration")
	ErrTransport     = errors.New("transport failure")
	ErrStreamDecode  = errors.New("stream decode failure")
	ErrRateLimited   = errors.New("rate limited")
	ErrPersistence   = errors.New("persistence failure")

	// Validation and lookup errors
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrInvalidState = errors.New("invalid state transition")
	ErrRunActive    = errors.New("a run is already active")
	ErrCanceled     = errors.New("run canceled")

	// Tool registry errors
	ErrToolNotFound = errors.New("tool not found")
)

// Error codes, stable strings used by the HTTP layer and the CLI.
const (
	CodeConfiguration = "configuration_error"
	CodeTransport     = "transport_error"
	CodeStreamDecode  = "stream_decode_error"
	CodeRateLimited   = "rate_limit_error"
	CodePersistence   = "persistence_error"
	CodeNotFound      = "not_found"
	CodeInvalidInput  = "invalid_request"
	CodeCanceled      = "canceled"
	CodeInternal      = "internal_error"
)

// RateLimitMessage is the user-facing text for every rate-limit failure.
const RateLimitMessage = "rate limited by the remote service, please retry later"

// rateLimitMarker is searched for in decode and transport failure text.
const rateLimitMarker = "429"

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
	}
}

func NewDomainErrorWithCode(err error, message, code string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// ConfigurationError reports a missing or invalid setting detected before any call.
func ConfigurationError(message string) error {
	return NewDomainErrorWithCode(ErrConfiguration, message, CodeConfiguration)
}

// TransportError reports a network failure or a non-success HTTP status.
func TransportError(message string, cause error) error {
	if cause != nil {
		message = message + ": " + cause.Error()
	}
	if ContainsRateLimitMarker(message) {
		return RateLimitError(message)
	}
	return NewDomainErrorWithCode(ErrTransport, message, CodeTransport)
}

// StreamDecodeError reports a frame payload that is not valid JSON. A payload or
// decoder message carrying the rate-limit marker becomes a RateLimitError instead.
func StreamDecodeError(payload string, cause error) error {
	message := "invalid stream frame " + truncate(payload, 200)
	if cause != nil {
		message = message + ": " + cause.Error()
	}
	if ContainsRateLimitMarker(message) {
		return RateLimitError(message)
	}
	return NewDomainErrorWithCode(ErrStreamDecode, message, CodeStreamDecode)
}

// RateLimitError reports a rate-limited call. The detail is kept for logs only.
func RateLimitError(detail string) error {
	return NewDomainErrorWithCode(ErrRateLimited, detail, CodeRateLimited)
}

// PersistenceError reports a version store read or write failure.
func PersistenceError(message string, cause error) error {
	if cause == nil {
		cause = ErrPersistence
	} else {
		cause = errors.Join(ErrPersistence, cause)
	}
	return NewDomainErrorWithCode(cause, message, CodePersistence)
}

// ContainsRateLimitMarker reports whether text carries the rate-limit marker.
func ContainsRateLimitMarker(text string) bool {
	return strings.Contains(text, rateLimitMarker)
}

// Classify returns the error code for err, falling back to CodeInternal.
func Classify(err error) string {
	var de *DomainError
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrTransport):
		return CodeTransport
	case errors.Is(err, ErrStreamDecode):
		return CodeStreamDecode
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrToolNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrEmptyContent):
		return CodeInvalidInput
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return CodeCanceled
	}
	return CodeInternal
}

// UserMessage normalizes err into the single message shown to a user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case CodeRateLimited:
		return RateLimitMessage
	case CodeCanceled:
		return ErrCanceled.Error()
	}

	var de *DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
