package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "configuration", err: ConfigurationError("model is not selected"), want: CodeConfiguration},
		{name: "transport", err: TransportError("API error: 500 Internal Server Error", nil), want: CodeTransport},
		{name: "transport with 429 status", err: TransportError("API error: 429 Too Many Requests", nil), want: CodeRateLimited},
		{name: "decode", err: StreamDecodeError("{bad", errors.New("unexpected end of JSON input")), want: CodeStreamDecode},
		{name: "decode with marker", err: StreamDecodeError(`{"error":{"code":429}`, errors.New("unexpected EOF")), want: CodeRateLimited},
		{name: "persistence", err: PersistenceError("failed to save version", errors.New("disk full")), want: CodePersistence},
		{name: "wrapped sentinel", err: fmt.Errorf("lookup: %w", ErrNotFound), want: CodeNotFound},
		{name: "canceled context", err: context.Canceled, want: CodeCanceled},
		{name: "unknown", err: errors.New("boom"), want: CodeInternal},
		{name: "nil", err: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorsIsThroughDomainError(t *testing.T) {
	assert.ErrorIs(t, ConfigurationError("x"), ErrConfiguration)
	assert.ErrorIs(t, TransportError("x", errors.New("dial tcp: refused")), ErrTransport)
	assert.ErrorIs(t, StreamDecodeError("x", nil), ErrStreamDecode)
	assert.ErrorIs(t, RateLimitError("x"), ErrRateLimited)

	cause := errors.New("disk full")
	err := PersistenceError("failed to save version", cause)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, RateLimitMessage, UserMessage(RateLimitError("status 429")))
	assert.Equal(t, "model is not selected", UserMessage(ConfigurationError("model is not selected")))
	assert.Equal(t, "API error: 502 Bad Gateway", UserMessage(TransportError("API error: 502 Bad Gateway", nil)))
	assert.Equal(t, ErrCanceled.Error(), UserMessage(fmt.Errorf("stage analysis: %w", context.Canceled)))
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
}

func TestStreamDecodeError_TruncatesPayload(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := StreamDecodeError(string(long), nil)
	assert.Less(t, len(err.Error()), 300)
}
