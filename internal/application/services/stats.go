package services

import (
	"sync"
	"time"

	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
)

// ModelRate is the price per token of a model.
type ModelRate struct {
	Input  float64 `json:"input" msgpack:"input"`
	Output float64 `json:"output" msgpack:"output"`
}

// DefaultRate applies to models missing from ModelRates.
var DefaultRate = ModelRate{Input: 0.00002, Output: 0.00002}

// ModelRates is the static per-token price table.
var ModelRates = map[string]ModelRate{
	"deepseek-ai/DeepSeek-V3": {Input: 0.000005, Output: 0.000015},
	"deepseek-ai/DeepSeek-R1": {Input: 0.00000015, Output: 0.0000006},
	"gpt-4":                   {Input: 0.00003, Output: 0.00006},
	"gpt-4-1106-preview":      {Input: 0.00001, Output: 0.00003},
	"gpt-3.5-turbo":           {Input: 0.000001, Output: 0.000002},
}

// RateFor returns the price of modelID, or DefaultRate when it is unknown.
func RateFor(modelID string) ModelRate {
	if rate, ok := ModelRates[modelID]; ok {
		return rate
	}
	return DefaultRate
}

// EstimateCost prices a token count for modelID.
func EstimateCost(modelID string, promptTokens, completionTokens int) float64 {
	rate := RateFor(modelID)
	return float64(promptTokens)*rate.Input + float64(completionTokens)*rate.Output
}

// Merge adds delta to into. Order of merges does not affect the totals.
func Merge(into *models.PipelineStats, delta models.Usage) {
	into.PromptTokens += delta.PromptTokens
	into.CompletionTokens += delta.CompletionTokens
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock ports.Clock = systemClock{}

// StatsAccumulator keeps the running token totals and timing of one run.
// Elapsed time is computed on demand until Freeze is called.
type StatsAccumulator struct {
	mu      sync.Mutex
	clock   ports.Clock
	stats   models.PipelineStats
	start   time.Time
	end     time.Time
	started bool
	frozen  bool
}

// NewStatsAccumulator creates an accumulator. A nil clock uses SystemClock.
func NewStatsAccumulator(clock ports.Clock) *StatsAccumulator {
	if clock == nil {
		clock = SystemClock
	}
	return &StatsAccumulator{clock: clock}
}

// Reset zeroes the totals and records the start time.
func (a *StatsAccumulator) Reset(modelID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats = models.PipelineStats{ModelID: modelID}
	a.start = a.clock.Now()
	a.end = time.Time{}
	a.started = true
	a.frozen = false
}

// Add merges the usage of one call.
func (a *StatsAccumulator) Add(usage models.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	Merge(&a.stats, usage)
}

// Freeze fixes the elapsed time. Later calls have no effect.
func (a *StatsAccumulator) Freeze() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.frozen || !a.started {
		return
	}
	a.end = a.clock.Now()
	a.frozen = true
}

// Snapshot returns the totals with the current elapsed time.
func (a *StatsAccumulator) Snapshot() models.PipelineStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := a.stats
	switch {
	case !a.started:
		stats.ElapsedSeconds = 0
	case a.frozen:
		stats.ElapsedSeconds = a.end.Sub(a.start).Seconds()
	default:
		stats.ElapsedSeconds = a.clock.Now().Sub(a.start).Seconds()
	}
	return stats
}

// Cost returns the estimated cost of the current totals.
func (a *StatsAccumulator) Cost() float64 {
	stats := a.Snapshot()
	return EstimateCost(stats.ModelID, stats.PromptTokens, stats.CompletionTokens)
}
