package http

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/anyhui/aleeai-prompt/internal/adapters/filestore"
	"github.com/anyhui/aleeai-prompt/internal/adapters/http/dto"
	"github.com/anyhui/aleeai-prompt/internal/adapters/http/handlers"
	"github.com/anyhui/aleeai-prompt/internal/adapters/id"
	"github.com/anyhui/aleeai-prompt/internal/application/services"
	"github.com/anyhui/aleeai-prompt/internal/config"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
	"github.com/anyhui/aleeai-prompt/internal/prompt"
)

// gatedInvoker answers each stage with "stage-N" once release is closed.
type gatedInvoker struct {
	release chan struct{}
	calls   int
}

func (g *gatedInvoker) Invoke(
	ctx context.Context,
	cfg models.RemoteCallConfig,
	systemPrompt string,
	userPrompt string,
	onProgress ports.ProgressFunc,
) (string, models.Usage, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", models.Usage{}, ctx.Err()
	}
	g.calls++
	text := fmt.Sprintf("stage-%d", g.calls)
	if onProgress != nil {
		onProgress(text)
	}
	return text, models.Usage{PromptTokens: 3, CompletionTokens: 2}, nil
}

type testEnv struct {
	server  *httptest.Server
	invoker *gatedInvoker
	runs    *services.RunRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	templates, err := prompt.DefaultTemplates()
	require.NoError(t, err)

	store, err := filestore.Open(filepath.Join(t.TempDir(), "versions.json"))
	require.NoError(t, err)
	idGen := id.New()
	versions := services.NewVersionService(store, store, idGen)

	remote := func() models.RemoteCallConfig {
		return models.RemoteCallConfig{Endpoint: "https://api.example.test/v1/chat/completions", ModelID: "gpt-4", Credential: "sk-test"}
	}

	broadcaster := handlers.NewWebSocketBroadcaster()
	publisher := services.NewProgressPublisher(broadcaster)
	invoker := &gatedInvoker{release: make(chan struct{})}
	runs := services.NewRunRegistry(invoker, templates, remote, versions, publisher, idGen)

	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, Dependencies{
		Runs:         runs,
		Publisher:    publisher,
		Broadcaster:  broadcaster,
		Versions:     versions,
		RemoteConfig: remote,
		Version:      "test",
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runs.Shutdown(ctx)
		ts.Close()
	})

	return &testEnv{server: ts, invoker: invoker, runs: runs}
}

func (e *testEnv) startRun(t *testing.T, body string) dto.OptimizationAccepted {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/api/v1/optimizations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted dto.OptimizationAccepted
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	return accepted
}

func readSSEEvents(t *testing.T, body io.Reader) []models.ProgressEvent {
	t.Helper()
	var events []models.ProgressEvent
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event models.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		events = append(events, event)
		if event.IsTerminal() {
			break
		}
	}
	return events
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health handlers.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/v1/presets")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `path="/api/v1/presets"`)
}

func TestServer_SSEStream(t *testing.T) {
	env := newTestEnv(t)
	accepted := env.startRun(t, `{"prompt":"Summarize the report"}`)

	resp, err := http.Get(env.server.URL + accepted.StreamURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	close(env.invoker.release)

	events := readSSEEvents(t, resp.Body)
	require.NotEmpty(t, events)
	assert.Equal(t, models.ProgressEventConnected, events[0].Type)

	last := events[len(events)-1]
	assert.Equal(t, models.ProgressEventCompleted, last.Type)
	assert.Equal(t, models.PipelineStateCompleted, last.State)
	assert.Equal(t, "stage-1\nstage-2\nstage-3", last.Text)
	assert.Equal(t, 9, last.Stats.PromptTokens)
}

func TestServer_WebSocketStream(t *testing.T) {
	env := newTestEnv(t)
	accepted := env.startRun(t, `{"prompt":"Summarize the report"}`)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/optimizations/" + accepted.RunID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	close(env.invoker.release)

	var events []models.ProgressEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		require.Equal(t, websocket.BinaryMessage, messageType)

		var event models.ProgressEvent
		require.NoError(t, msgpack.Unmarshal(data, &event))
		events = append(events, event)
		if event.IsTerminal() {
			break
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, models.ProgressEventConnected, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, models.ProgressEventCompleted, last.Type)
	assert.Equal(t, "stage-1\nstage-2\nstage-3", last.Text)
}

func TestServer_UnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/v1/optimizations/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errResp dto.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, "not_found", errResp.Error)
}
