package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/anyhui/aleeai-prompt/internal/adapters/metrics"
	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
	"github.com/anyhui/aleeai-prompt/internal/prompt"
)

// PlaceholderTools receives the comma-separated names of registered tools.
const PlaceholderTools = "tools"

var tracer = otel.Tracer("github.com/anyhui/aleeai-prompt/internal/application/services")

// PipelineObserver receives the progress events of a run. It is called on the
// goroutine executing Run, in emission order, and must not block.
type PipelineObserver func(event models.ProgressEvent)

// Pipeline runs the three optimization stages in order: analysis of the input,
// suggestions for the input, then decomposition of the analysis output.
// One run is active at a time; a finished pipeline may be run again.
type Pipeline struct {
	invoker   ports.StageInvoker
	templates *prompt.Templates
	tools     *prompt.ToolRegistry
	clock     ports.Clock
	stats     *StatsAccumulator

	mu          sync.Mutex
	config      models.RemoteCallConfig
	runID       string
	observer    PipelineObserver
	running     bool
	state       models.PipelineState
	input       string
	results     models.StepResults
	stages      []models.StageResult
	errMessage  string
	errCode     string
	startedAt   time.Time
	completedAt *time.Time
}

// NewPipeline creates an idle pipeline.
func NewPipeline(invoker ports.StageInvoker, templates *prompt.Templates, config models.RemoteCallConfig) *Pipeline {
	return &Pipeline{
		invoker:   invoker,
		templates: templates,
		tools:     prompt.NewToolRegistry(),
		clock:     SystemClock,
		stats:     NewStatsAccumulator(SystemClock),
		config:    config,
		state:     models.PipelineStateIdle,
	}
}

// WithObserver sets the progress observer
func (p *Pipeline) WithObserver(observer PipelineObserver) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = observer
	return p
}

// WithRunID sets the id stamped on snapshots and events
func (p *Pipeline) WithRunID(runID string) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runID = runID
	return p
}

// WithClock replaces the wall clock (useful for testing)
func (p *Pipeline) WithClock(clock ports.Clock) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
	p.stats = NewStatsAccumulator(clock)
	return p
}

// WithTools shares a tool registry with the pipeline
func (p *Pipeline) WithTools(tools *prompt.ToolRegistry) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools = tools
	return p
}

// RegisterTool adds a named capability to the pipeline's registry.
func (p *Pipeline) RegisterTool(name string, fn prompt.ToolFunc) error {
	return p.Tools().Register(name, fn)
}

// Tools returns the pipeline's registry.
func (p *Pipeline) Tools() *prompt.ToolRegistry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tools
}

// UpdateConfig replaces the remote call settings used by the next run.
// An invalid config is rejected and the current one kept.
func (p *Pipeline) UpdateConfig(config models.RemoteCallConfig) error {
	if msg := config.Validate(); msg != "" {
		return domain.ConfigurationError(msg)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = config
	return nil
}

// Config returns the current remote call settings.
func (p *Pipeline) Config() models.RemoteCallConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

// State returns the current state.
func (p *Pipeline) State() models.PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// StageResults returns the results of the stages completed so far.
func (p *Pipeline) StageResults() []models.StageResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.StageResult, len(p.stages))
	copy(out, p.stages)
	return out
}

// Run executes one optimization of input and returns the final snapshot.
//
// An empty input, an invalid config or an active run is returned as an error
// and leaves the pipeline untouched. Every other failure, including
// cancellation through ctx, ends the run in the error state: the snapshot
// carries the normalized message and keeps the output of completed stages.
func (p *Pipeline) Run(ctx context.Context, input string) (*models.RunResult, error) {
	if err := ValidatePrompt(input); err != nil {
		return nil, err
	}

	cfg, runID, err := p.begin(input)
	if err != nil {
		return nil, err
	}

	metrics.PipelineRunsActive.Inc()
	defer metrics.PipelineRunsActive.Dec()

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("llm.model", cfg.ModelID),
	))
	defer span.End()

	logger := log.With().Str("run_id", runID).Str("model", cfg.ModelID).Logger()
	logger.Info().Int("prompt_chars", len(input)).Msg("optimization run started")

	for _, stage := range models.Stages {
		if err := p.runStage(ctx, cfg, stage, logger); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, domain.Classify(err))
			p.fail(stage, err, logger)
			return p.Snapshot(), nil
		}
	}

	p.complete(logger)
	return p.Snapshot(), nil
}

func (p *Pipeline) begin(input string) (models.RemoteCallConfig, string, error) {
	p.mu.Lock()

	if p.running {
		p.mu.Unlock()
		return models.RemoteCallConfig{}, "", domain.NewDomainError(domain.ErrRunActive, "an optimization is already running")
	}
	if msg := p.config.Validate(); msg != "" {
		p.mu.Unlock()
		return models.RemoteCallConfig{}, "", domain.ConfigurationError(msg)
	}
	if err := p.transitionLocked(models.PipelineStateAnalyzing); err != nil {
		p.mu.Unlock()
		return models.RemoteCallConfig{}, "", domain.NewDomainError(domain.ErrInvalidState, err.Error())
	}

	p.running = true
	p.input = input
	p.results = models.StepResults{}
	p.stages = nil
	p.errMessage = ""
	p.errCode = ""
	p.startedAt = p.clock.Now()
	p.completedAt = nil
	p.stats.Reset(p.config.ModelID)

	cfg := p.config
	runID := p.runID
	event := p.eventLocked(models.ProgressEventState)
	observer := p.observer
	p.mu.Unlock()

	notify(observer, event)
	return cfg, runID, nil
}

func (p *Pipeline) runStage(ctx context.Context, cfg models.RemoteCallConfig, stage models.StageName, logger zerolog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tpl, err := p.templates.For(stage)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if err := p.transitionLocked(models.StageState(stage)); err != nil {
		p.mu.Unlock()
		return domain.NewDomainError(domain.ErrInvalidState, err.Error())
	}
	stageInput := p.input
	if stage == models.StageDecomposition {
		stageInput = p.results.Analysis
	}
	var event *models.ProgressEvent
	if stage != models.StageAnalysis {
		e := p.eventLocked(models.ProgressEventState)
		event = &e
	}
	observer := p.observer
	tools := p.tools
	p.mu.Unlock()

	if event != nil {
		notify(observer, *event)
	}

	system, user := tpl.Render(map[string]string{
		prompt.PlaceholderPrompt: stageInput,
		PlaceholderTools:         strings.Join(tools.Names(), ", "),
	})

	ctx, span := tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(attribute.String("stage", string(stage))))
	defer span.End()

	start := time.Now()
	text, usage, err := p.invoker.Invoke(ctx, cfg, system, user, func(cumulative string) {
		p.mu.Lock()
		p.results.Set(stage, cumulative)
		e := p.eventLocked(models.ProgressEventDelta)
		e.Stage = stage
		e.Text = cumulative
		observer := p.observer
		p.mu.Unlock()
		notify(observer, e)
	})
	metrics.PipelineStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	if err != nil {
		// A failed stage has no result; partial text streamed so far is dropped.
		p.mu.Lock()
		p.results.Set(stage, "")
		p.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Classify(err))
		return err
	}

	p.stats.Add(usage)

	p.mu.Lock()
	p.results.Set(stage, text)
	p.stages = append(p.stages, models.StageResult{StageName: stage, AccumulatedText: text, Usage: usage})
	p.mu.Unlock()

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", usage.PromptTokens),
		attribute.Int("llm.completion_tokens", usage.CompletionTokens),
	)
	logger.Debug().
		Str("stage", string(stage)).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("stage completed")
	return nil
}

func (p *Pipeline) complete(logger zerolog.Logger) {
	p.mu.Lock()
	p.finishLocked(models.PipelineStateCompleted)
	event := p.eventLocked(models.ProgressEventCompleted)
	event.Text = AssembleResult(p.results)
	observer := p.observer
	p.mu.Unlock()

	metrics.PipelineRunsTotal.WithLabelValues(string(models.PipelineStateCompleted)).Inc()
	stats := p.stats.Snapshot()
	logger.Info().
		Int("prompt_tokens", stats.PromptTokens).
		Int("completion_tokens", stats.CompletionTokens).
		Float64("elapsed_seconds", stats.ElapsedSeconds).
		Msg("optimization run completed")

	notify(observer, event)
}

func (p *Pipeline) fail(stage models.StageName, err error, logger zerolog.Logger) {
	p.mu.Lock()
	p.errMessage = domain.UserMessage(err)
	p.errCode = domain.Classify(err)
	p.finishLocked(models.PipelineStateError)
	event := p.eventLocked(models.ProgressEventFailed)
	event.Stage = stage
	event.Message = p.errMessage
	observer := p.observer
	p.mu.Unlock()

	metrics.PipelineRunsTotal.WithLabelValues(string(models.PipelineStateError)).Inc()
	logger.Warn().Err(err).Str("stage", string(stage)).Str("code", domain.Classify(err)).Msg("optimization run failed")

	notify(observer, event)
}

func (p *Pipeline) finishLocked(state models.PipelineState) {
	// Stage states always lead to completed or error, so this cannot fail.
	_ = p.transitionLocked(state)
	p.stats.Freeze()
	now := p.clock.Now()
	p.completedAt = &now
	p.running = false
}

func (p *Pipeline) transitionLocked(to models.PipelineState) error {
	if err := models.ValidatePipelineTransition(p.state, to); err != nil {
		return err
	}
	p.state = to
	return nil
}

func (p *Pipeline) eventLocked(eventType string) models.ProgressEvent {
	return models.ProgressEvent{
		Type:      eventType,
		RunID:     p.runID,
		State:     p.state,
		Stats:     p.stats.Snapshot(),
		Timestamp: p.clock.Now().UnixMilli(),
	}
}

// Snapshot returns the current view of the run.
func (p *Pipeline) Snapshot() *models.RunResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats.Snapshot()
	result := &models.RunResult{
		RunID:         p.runID,
		State:         p.state,
		Prompt:        p.input,
		StepResults:   p.results,
		Stats:         stats,
		EstimatedCost: EstimateCost(stats.ModelID, stats.PromptTokens, stats.CompletionTokens),
		Error:         p.errMessage,
		ErrorCode:     p.errCode,
		StartedAt:     p.startedAt,
	}
	if p.state == models.PipelineStateCompleted {
		result.OptimizedPrompt = AssembleResult(p.results)
	}
	if p.completedAt != nil {
		completedAt := *p.completedAt
		result.CompletedAt = &completedAt
	}
	return result
}

// AssembleResult joins the non-empty stage outputs with newlines in stage order.
func AssembleResult(results models.StepResults) string {
	parts := make([]string, 0, len(models.Stages))
	for _, stage := range models.Stages {
		if text := results.Get(stage); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

func notify(observer PipelineObserver, event models.ProgressEvent) {
	if observer != nil {
		observer(event)
	}
}
