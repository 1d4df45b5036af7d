package handlers

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/anyhui/aleeai-prompt/internal/adapters/filestore"
	"github.com/anyhui/aleeai-prompt/internal/adapters/id"
	"github.com/anyhui/aleeai-prompt/internal/application/services"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
	"github.com/anyhui/aleeai-prompt/internal/prompt"
)

// setURLParams adds URL parameters to the request context (chi router style)
func setURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// stubInvoker answers every stage with "stage-N" in two fragments. When
// release is set each call waits for it to be closed first.
type stubInvoker struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	err     error
}

func (s *stubInvoker) Invoke(
	ctx context.Context,
	cfg models.RemoteCallConfig,
	systemPrompt string,
	userPrompt string,
	onProgress ports.ProgressFunc,
) (string, models.Usage, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", models.Usage{}, ctx.Err()
		}
	}

	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if s.err != nil {
		return "", models.Usage{}, s.err
	}

	text := fmt.Sprintf("stage-%d", n)
	if onProgress != nil {
		onProgress(text[:3])
		onProgress(text)
	}
	return text, models.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

type stubChecker struct {
	mu     sync.Mutex
	result ports.ConnectionResult
	seen   []models.RemoteCallConfig
}

func (c *stubChecker) CheckConnection(ctx context.Context, cfg models.RemoteCallConfig) ports.ConnectionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, cfg)
	return c.result
}

func testRemoteConfig() models.RemoteCallConfig {
	return models.RemoteCallConfig{
		Endpoint:   "https://api.example.test/v1/chat/completions",
		ModelID:    "gpt-4",
		Credential: "sk-test",
	}
}

func newTestVersionService(t *testing.T) *services.VersionService {
	t.Helper()
	store, err := filestore.Open(filepath.Join(t.TempDir(), "versions.json"))
	require.NoError(t, err)
	return services.NewVersionService(store, store, id.New())
}

func newTestRegistry(t *testing.T, invoker ports.StageInvoker, versions *services.VersionService, publisher ports.ProgressPublisher) *services.RunRegistry {
	t.Helper()
	templates, err := prompt.DefaultTemplates()
	require.NoError(t, err)

	registry := services.NewRunRegistry(invoker, templates, testRemoteConfig, versions, publisher, id.New())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})
	return registry
}

func waitDone(t *testing.T, runs RunManager, runID string) {
	t.Helper()
	done, err := runs.Done(runID)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}
