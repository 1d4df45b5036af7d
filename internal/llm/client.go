package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/anyhui/aleeai-prompt/internal/adapters/metrics"
	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
)

const (
	// connectivityProbe is the single user message sent by CheckConnection.
	connectivityProbe = "test"
	// maxErrorBody bounds how much of a failed response is read for the message.
	maxErrorBody = 4096
)

var tracer = otel.Tracer("github.com/anyhui/aleeai-prompt/internal/llm")

// ChatCompletionRequest represents the request to the chat completions API
type ChatCompletionRequest struct {
	Model       string               `json:"model"`
	Stream      bool                 `json:"stream"`
	Messages    []models.MessageTurn `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
}

// Client is an OpenAI-compatible chat completions client. It implements
// ports.StageInvoker and ports.ConnectionChecker. Calls are never retried.
type Client struct {
	httpClient     *http.Client
	limiter        *rate.Limiter
	requestTimeout time.Duration
	maxTokens      int
}

var (
	_ ports.StageInvoker      = (*Client)(nil)
	_ ports.ConnectionChecker = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit allows at most maxRequests calls per window, spread evenly,
// with a burst of maxRequests. Callers wait for a slot instead of failing.
func WithRateLimit(maxRequests int, window time.Duration) Option {
	return func(c *Client) {
		if maxRequests <= 0 || window <= 0 {
			return
		}
		every := window / time.Duration(maxRequests)
		c.limiter = rate.NewLimiter(rate.Every(every), maxRequests)
	}
}

// WithRequestTimeout bounds a whole call including the stream. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithMaxTokens sets max_tokens on every request. Zero omits the field.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		c.maxTokens = n
	}
}

// NewClient creates a new LLM client
func NewClient(opts ...Option) *Client {
	c := &Client{
		// No client-level timeout: streams stay open as long as the context allows.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke sends one streamed chat completion and returns the full text and the
// last usage report. onProgress receives the cumulative text after every
// non-empty fragment, in wire order.
func (c *Client) Invoke(
	ctx context.Context,
	cfg models.RemoteCallConfig,
	systemPrompt string,
	userPrompt string,
	onProgress ports.ProgressFunc,
) (string, models.Usage, error) {
	if msg := cfg.Validate(); msg != "" {
		return "", models.Usage{}, domain.ConfigurationError(msg)
	}

	ctx, span := tracer.Start(ctx, "llm.invoke")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", cfg.ModelID))

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	text, usage, err := c.invoke(ctx, cfg, systemPrompt, userPrompt, onProgress)
	c.record(cfg.ModelID, start, usage, err)

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", usage.PromptTokens),
		attribute.Int("llm.completion_tokens", usage.CompletionTokens),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Classify(err))
	}
	return text, usage, err
}

func (c *Client) invoke(
	ctx context.Context,
	cfg models.RemoteCallConfig,
	systemPrompt string,
	userPrompt string,
	onProgress ports.ProgressFunc,
) (string, models.Usage, error) {
	messages := make([]models.MessageTurn, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, models.MessageTurn{Role: models.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, models.MessageTurn{Role: models.RoleUser, Content: userPrompt})

	temperature := cfg.Temperature
	req := ChatCompletionRequest{
		Model:       cfg.ModelID,
		Stream:      true,
		Messages:    messages,
		Temperature: &temperature,
		MaxTokens:   c.maxTokens,
	}

	resp, err := c.post(ctx, cfg, req)
	if err != nil {
		return "", models.Usage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", models.Usage{}, responseError("API request failed", resp)
	}

	parser := NewStreamParser(resp.Body)
	text, usage, err := Collect(ctx, parser, func(cumulative string) {
		if onProgress != nil {
			onProgress(cumulative)
		}
	})
	if err != nil {
		return text, usage, contextError(err)
	}

	log.Debug().
		Str("model", cfg.ModelID).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("chars", len(text)).
		Msg("llm stream completed")

	return text, usage, nil
}

// CheckConnection sends one non-streaming request with a trivial conversation.
// Any 2xx status counts as success.
func (c *Client) CheckConnection(ctx context.Context, cfg models.RemoteCallConfig) ports.ConnectionResult {
	if msg := cfg.Validate(); msg != "" {
		return ports.ConnectionResult{Success: false, Error: msg}
	}

	ctx, span := tracer.Start(ctx, "llm.check_connection")
	defer span.End()

	req := ChatCompletionRequest{
		Model:    cfg.ModelID,
		Stream:   false,
		Messages: []models.MessageTurn{{Role: models.RoleUser, Content: connectivityProbe}},
	}

	resp, err := c.post(ctx, cfg, req)
	if err != nil {
		span.RecordError(err)
		return ports.ConnectionResult{Success: false, Error: domain.UserMessage(err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, resp.Status)
		return ports.ConnectionResult{
			Success:    false,
			Error:      fmt.Sprintf("API connection failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			StatusCode: resp.StatusCode,
		}
	}

	return ports.ConnectionResult{
		Success:    true,
		Message:    "API connection succeeded",
		StatusCode: resp.StatusCode,
	}
}

func (c *Client) post(ctx context.Context, cfg models.RemoteCallConfig, payload ChatCompletionRequest) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, contextError(ctxErr)
			}
			return nil, domain.TransportError("waiting for request slot", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.ConfigurationError(fmt.Sprintf("invalid endpoint: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.Credential)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError(ctxErr)
		}
		return nil, domain.TransportError("failed to send request", err)
	}
	return resp, nil
}

func (c *Client) record(model string, start time.Time, usage models.Usage, err error) {
	metrics.LLMRequestsTotal.WithLabelValues(model, metrics.StatusLabel(err)).Inc()
	metrics.LLMRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	metrics.LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
}

// responseError builds the failure for a non-2xx response, preferring the
// service's own error.message when the body carries one.
func responseError(prefix string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := fmt.Sprintf("%s: %d %s", prefix, resp.StatusCode, http.StatusText(resp.StatusCode))
	if json.Unmarshal(raw, &payload) == nil && payload.Error.Message != "" {
		message = message + ": " + payload.Error.Message
	} else if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 200 {
		message = message + ": " + text
	}
	return domain.TransportError(message, nil)
}

// contextError turns a deadline into a transport failure and leaves
// cancellation recognizable to errors.Is.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.TransportError("request timed out", err)
	}
	return err
}
