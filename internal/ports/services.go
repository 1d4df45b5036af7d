package ports

import (
	"context"
	"time"

	"github.com/anyhui/aleeai-prompt/internal/domain/models"
)

// ProgressFunc receives the cumulative text of a stage after every non-empty fragment.
type ProgressFunc func(cumulativeText string)

// StageInvoker issues one streamed remote call and returns its full text and usage.
type StageInvoker interface {
	Invoke(
		ctx context.Context,
		cfg models.RemoteCallConfig,
		systemPrompt string,
		userPrompt string,
		onProgress ProgressFunc,
	) (string, models.Usage, error)
}

// ConnectionResult is the outcome of a connectivity check.
type ConnectionResult struct {
	Success    bool   `json:"success" msgpack:"success"`
	Message    string `json:"message,omitempty" msgpack:"message,omitempty"`
	Error      string `json:"error,omitempty" msgpack:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty" msgpack:"status_code,omitempty"`
}

// ConnectionChecker performs a single non-streaming call to verify credentials and endpoint.
type ConnectionChecker interface {
	CheckConnection(ctx context.Context, cfg models.RemoteCallConfig) ConnectionResult
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}
