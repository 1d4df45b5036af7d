package models

import "time"

// StageName identifies one of the three dependent remote calls of a run.
type StageName string

const (
	StageAnalysis      StageName = "analysis"
	StageSuggestions   StageName = "suggestions"
	StageDecomposition StageName = "decomposition"
)

// Stages lists the stages in execution and assembly order.
var Stages = []StageName{StageAnalysis, StageSuggestions, StageDecomposition}

// Usage is the token accounting reported by the remote service for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" msgpack:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" msgpack:"completion_tokens"`
}

// Total returns the sum of prompt and completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// StageResult is the output of one completed stage.
type StageResult struct {
	StageName       StageName `json:"stage_name" msgpack:"stage_name"`
	AccumulatedText string    `json:"accumulated_text" msgpack:"accumulated_text"`
	Usage           Usage     `json:"usage" msgpack:"usage"`
}

// StepResults holds the text of each stage; stages not reached stay empty.
type StepResults struct {
	Analysis      string `json:"analysis" msgpack:"analysis"`
	Suggestions   string `json:"suggestions" msgpack:"suggestions"`
	Decomposition string `json:"decomposition" msgpack:"decomposition"`
}

// Get returns the text recorded for stage.
func (r StepResults) Get(stage StageName) string {
	switch stage {
	case StageAnalysis:
		return r.Analysis
	case StageSuggestions:
		return r.Suggestions
	case StageDecomposition:
		return r.Decomposition
	}
	return ""
}

// Set records text for stage.
func (r *StepResults) Set(stage StageName, text string) {
	switch stage {
	case StageAnalysis:
		r.Analysis = text
	case StageSuggestions:
		r.Suggestions = text
	case StageDecomposition:
		r.Decomposition = text
	}
}

// PipelineStats is the running token and timing total for a run.
type PipelineStats struct {
	PromptTokens     int     `json:"prompt_tokens" msgpack:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens" msgpack:"completion_tokens"`
	ElapsedSeconds   float64 `json:"elapsed_seconds" msgpack:"elapsed_seconds"`
	ModelID          string  `json:"model_id" msgpack:"model_id"`
}

// RunResult is a point-in-time snapshot of a run.
type RunResult struct {
	RunID           string        `json:"run_id,omitempty" msgpack:"run_id,omitempty"`
	State           PipelineState `json:"state" msgpack:"state"`
	Prompt          string        `json:"prompt" msgpack:"prompt"`
	StepResults     StepResults   `json:"step_results" msgpack:"step_results"`
	OptimizedPrompt string        `json:"optimized_prompt" msgpack:"optimized_prompt"`
	Stats           PipelineStats `json:"stats" msgpack:"stats"`
	EstimatedCost   float64       `json:"estimated_cost" msgpack:"estimated_cost"`
	Error           string        `json:"error,omitempty" msgpack:"error,omitempty"`
	ErrorCode       string        `json:"error_code,omitempty" msgpack:"error_code,omitempty"`
	SavedVersion    *Version      `json:"saved_version,omitempty" msgpack:"saved_version,omitempty"`
	SaveError       string        `json:"save_error,omitempty" msgpack:"save_error,omitempty"`
	StartedAt       time.Time     `json:"started_at" msgpack:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty" msgpack:"completed_at,omitempty"`
}

// Progress event types
const (
	ProgressEventConnected = "connected"
	ProgressEventState     = "state"
	ProgressEventDelta     = "delta"
	ProgressEventCompleted = "completed"
	ProgressEventFailed    = "failed"
)

// ProgressEvent is published to observers of a run.
type ProgressEvent struct {
	Type      string        `json:"type" msgpack:"type"`
	RunID     string        `json:"run_id" msgpack:"run_id"`
	State     PipelineState `json:"state" msgpack:"state"`
	Stage     StageName     `json:"stage,omitempty" msgpack:"stage,omitempty"`
	Text      string        `json:"text,omitempty" msgpack:"text,omitempty"`
	Stats     PipelineStats `json:"stats" msgpack:"stats"`
	Message   string        `json:"message,omitempty" msgpack:"message,omitempty"`
	Timestamp int64         `json:"timestamp" msgpack:"timestamp"`
}

// IsTerminal reports whether the event closes the stream.
func (e ProgressEvent) IsTerminal() bool {
	return e.Type == ProgressEventCompleted || e.Type == ProgressEventFailed
}
