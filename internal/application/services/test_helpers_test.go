package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
	"github.com/anyhui/aleeai-prompt/internal/prompt"
)

// Shared mock implementations for testing

type mockIDGenerator struct {
	mu             sync.Mutex
	versionCounter int
	runCounter     int
}

func (m *mockIDGenerator) GenerateVersionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versionCounter++
	return fmt.Sprintf("pv_test%d", m.versionCounter)
}

func (m *mockIDGenerator) GenerateRunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCounter++
	return fmt.Sprintf("run-test-%d", m.runCounter)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockVersionRepository keeps copies so callers cannot alias stored records.
type mockVersionRepository struct {
	mu       sync.Mutex
	data     map[string][]models.Version
	loadErr  error
	storeErr error
	loads    int
	stores   int
}

func newMockVersionRepository() *mockVersionRepository {
	return &mockVersionRepository{data: make(map[string][]models.Version)}
}

func (r *mockVersionRepository) Load(ctx context.Context, promptID string) ([]*models.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	out := make([]*models.Version, 0, len(r.data[promptID]))
	for _, v := range r.data[promptID] {
		v := v
		out = append(out, &v)
	}
	return out, nil
}

func (r *mockVersionRepository) Store(ctx context.Context, promptID string, versions []*models.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores++
	if r.storeErr != nil {
		return r.storeErr
	}
	if len(versions) == 0 {
		delete(r.data, promptID)
		return nil
	}
	stored := make([]models.Version, len(versions))
	for i, v := range versions {
		stored[i] = *v
	}
	r.data[promptID] = stored
	return nil
}

func (r *mockVersionRepository) PromptIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	ids := make([]string, 0, len(r.data))
	for id := range r.data {
		ids = append(ids, id)
	}
	return ids, nil
}

type mockTransactionManager struct {
	mu    sync.Mutex
	calls int
}

func (m *mockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return fn(ctx)
}

// stageReply scripts the outcome of one stage call.
type stageReply struct {
	fragments []string
	usage     models.Usage
	err       error
	// block waits for the context to end before failing with its error.
	block bool
}

type invocation struct {
	cfg          models.RemoteCallConfig
	systemPrompt string
	userPrompt   string
}

// scriptedInvoker answers calls in order with the scripted replies.
type scriptedInvoker struct {
	mu      sync.Mutex
	replies []stageReply
	calls   []invocation
}

var _ ports.StageInvoker = (*scriptedInvoker)(nil)

func newScriptedInvoker(replies ...stageReply) *scriptedInvoker {
	return &scriptedInvoker{replies: replies}
}

func (s *scriptedInvoker) Invoke(
	ctx context.Context,
	cfg models.RemoteCallConfig,
	systemPrompt string,
	userPrompt string,
	onProgress ports.ProgressFunc,
) (string, models.Usage, error) {
	s.mu.Lock()
	index := len(s.calls)
	s.calls = append(s.calls, invocation{cfg: cfg, systemPrompt: systemPrompt, userPrompt: userPrompt})
	if index >= len(s.replies) {
		s.mu.Unlock()
		return "", models.Usage{}, errors.New("unexpected call")
	}
	reply := s.replies[index]
	s.mu.Unlock()

	var text strings.Builder
	for _, fragment := range reply.fragments {
		text.WriteString(fragment)
		if onProgress != nil {
			onProgress(text.String())
		}
	}
	if reply.block {
		<-ctx.Done()
		return text.String(), models.Usage{}, ctx.Err()
	}
	if reply.err != nil {
		return text.String(), models.Usage{}, reply.err
	}
	return text.String(), reply.usage, nil
}

func (s *scriptedInvoker) Calls() []invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]invocation, len(s.calls))
	copy(out, s.calls)
	return out
}

func testRemoteConfig() models.RemoteCallConfig {
	return models.RemoteCallConfig{
		Endpoint:    "https://api.example.test/v1/chat/completions",
		ModelID:     "gpt-4",
		Credential:  "sk-test",
		Temperature: 0,
	}
}

func testTemplates() *prompt.Templates {
	return &prompt.Templates{
		Analysis:      prompt.Template{System: "analyst", User: "analyze: {{prompt}}"},
		Suggestions:   prompt.Template{System: "advisor", User: "suggest: {{prompt}} tools=[{{tools}}]"},
		Decomposition: prompt.Template{System: "planner", User: "decompose: {{prompt}}"},
	}
}

// recordingObserver collects events for assertions.
type recordingObserver struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *recordingObserver) Observe(event models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingObserver) Events() []models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ProgressEvent, len(r.events))
	copy(out, r.events)
	return out
}
