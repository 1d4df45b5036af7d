package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
	"github.com/anyhui/aleeai-prompt/internal/prompt"
)

// maxRetainedRuns bounds how many finished runs stay queryable.
const maxRetainedRuns = 100

// RunOptions controls what happens after a background run completes.
type RunOptions struct {
	// Save stores the optimized result as a new version of PromptID.
	Save        bool
	PromptID    string
	Description string
}

// RunRegistry starts optimization runs in the background and keeps their
// snapshots for lookup. Each run gets its own Pipeline.
type RunRegistry struct {
	invoker     ports.StageInvoker
	templates   *prompt.Templates
	tools       *prompt.ToolRegistry
	config      func() models.RemoteCallConfig
	versions    *VersionService
	publisher   ports.ProgressPublisher
	idGenerator ports.IDGenerator

	mu    sync.Mutex
	runs  map[string]*runEntry
	order []string
	wg    sync.WaitGroup
}

type runEntry struct {
	pipeline *Pipeline
	cancel   context.CancelFunc
	done     chan struct{}

	mu           sync.Mutex
	savedVersion *models.Version
	saveError    string
}

// NewRunRegistry creates a registry. versions may be nil when saving is not offered.
func NewRunRegistry(
	invoker ports.StageInvoker,
	templates *prompt.Templates,
	config func() models.RemoteCallConfig,
	versions *VersionService,
	publisher ports.ProgressPublisher,
	idGenerator ports.IDGenerator,
) *RunRegistry {
	return &RunRegistry{
		invoker:     invoker,
		templates:   templates,
		tools:       prompt.NewToolRegistry(),
		config:      config,
		versions:    versions,
		publisher:   publisher,
		idGenerator: idGenerator,
		runs:        make(map[string]*runEntry),
	}
}

// Tools returns the registry shared by every run.
func (r *RunRegistry) Tools() *prompt.ToolRegistry {
	return r.tools
}

// Start validates the request and launches the run. The run outlives ctx's
// cancellation; stop it with Cancel.
func (r *RunRegistry) Start(ctx context.Context, input string, opts RunOptions) (string, error) {
	if err := ValidatePrompt(input); err != nil {
		return "", err
	}
	if opts.Save {
		if r.versions == nil {
			return "", domain.NewDomainError(domain.ErrInvalidInput, "saving versions is not available")
		}
		if err := ValidatePromptID(opts.PromptID); err != nil {
			return "", err
		}
	}
	cfg := r.config()
	if msg := cfg.Validate(); msg != "" {
		return "", domain.ConfigurationError(msg)
	}

	runID := r.idGenerator.GenerateRunID()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	entry := &runEntry{cancel: cancel, done: make(chan struct{})}

	// Terminal events are held back until the result is saved so that
	// subscribers see the final snapshot when the stream ends.
	var terminal *models.ProgressEvent
	observer := func(event models.ProgressEvent) {
		if event.IsTerminal() {
			terminal = &event
			return
		}
		r.publisher.Publish(event)
	}

	entry.pipeline = NewPipeline(r.invoker, r.templates, cfg).
		WithRunID(runID).
		WithTools(r.tools).
		WithObserver(observer)

	r.mu.Lock()
	r.runs[runID] = entry
	r.order = append(r.order, runID)
	r.pruneLocked()
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(entry.done)
		defer cancel()
		defer r.publisher.Close(runID)

		result, err := entry.pipeline.Run(runCtx, input)
		if err != nil {
			// Only reachable when the config changed between validation and Run.
			log.Error().Err(err).Str("run_id", runID).Msg("optimization run rejected")
			r.publisher.Publish(models.ProgressEvent{
				Type:    models.ProgressEventFailed,
				RunID:   runID,
				State:   models.PipelineStateIdle,
				Message: domain.UserMessage(err),
			})
			return
		}

		if opts.Save && result.State == models.PipelineStateCompleted {
			r.save(runCtx, entry, runID, result.OptimizedPrompt, opts)
		}

		if terminal != nil {
			r.publisher.Publish(*terminal)
		}
	}()

	return runID, nil
}

func (r *RunRegistry) save(ctx context.Context, entry *runEntry, runID, content string, opts RunOptions) {
	description := opts.Description
	if description == "" {
		description = "optimization run " + runID
	}

	version, err := r.versions.Save(ctx, opts.PromptID, content, description)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err != nil {
		// The optimized result stays available even when saving fails.
		entry.saveError = domain.UserMessage(err)
		log.Warn().Err(err).Str("run_id", runID).Str("prompt_id", opts.PromptID).Msg("failed to save optimized prompt")
		return
	}
	entry.savedVersion = version
}

// Get returns the snapshot of a run.
func (r *RunRegistry) Get(runID string) (*models.RunResult, error) {
	entry, err := r.entry(runID)
	if err != nil {
		return nil, err
	}

	result := entry.pipeline.Snapshot()
	entry.mu.Lock()
	result.SavedVersion = entry.savedVersion
	result.SaveError = entry.saveError
	entry.mu.Unlock()
	return result, nil
}

// Cancel stops a run. Canceling a finished run has no effect.
func (r *RunRegistry) Cancel(runID string) error {
	entry, err := r.entry(runID)
	if err != nil {
		return err
	}
	entry.cancel()
	return nil
}

// Done returns a channel closed once the run and its save have finished.
func (r *RunRegistry) Done(runID string) (<-chan struct{}, error) {
	entry, err := r.entry(runID)
	if err != nil {
		return nil, err
	}
	return entry.done, nil
}

// Shutdown cancels every run and waits for them to finish or for ctx to end.
func (r *RunRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, entry := range r.runs {
		entry.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RunRegistry) entry(runID string) (*runEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.runs[runID]
	if !ok {
		return nil, domain.NewDomainErrorWithCode(domain.ErrNotFound, "optimization run not found", domain.CodeNotFound)
	}
	return entry, nil
}

// pruneLocked forgets the oldest finished runs beyond maxRetainedRuns.
func (r *RunRegistry) pruneLocked() {
	excess := len(r.order) - maxRetainedRuns
	if excess <= 0 {
		return
	}

	kept := r.order[:0]
	for _, id := range r.order {
		entry := r.runs[id]
		finished := false
		select {
		case <-entry.done:
			finished = true
		default:
		}
		if excess > 0 && finished {
			delete(r.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}
