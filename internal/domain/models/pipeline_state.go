package models

import (
	"fmt"
)

// PipelineState is the lifecycle state of one optimization run.
type PipelineState string

const (
	PipelineStateIdle        PipelineState = "idle"
	PipelineStateAnalyzing   PipelineState = "analyzing"
	PipelineStateSuggesting  PipelineState = "suggesting"
	PipelineStateDecomposing PipelineState = "decomposing"
	PipelineStateCompleted   PipelineState = "completed"
	PipelineStateError       PipelineState = "error"
)

// IsTerminal reports whether no further transitions happen within the run.
func (s PipelineState) IsTerminal() bool {
	return s == PipelineStateCompleted || s == PipelineStateError
}

// PipelineTransition represents a state transition
type PipelineTransition struct {
	From PipelineState
	To   PipelineState
}

// validPipelineTransitions defines the allowed state transitions for a run.
// A terminal state may only go back to analyzing when a new run starts.
var validPipelineTransitions = map[PipelineTransition]bool{
	{PipelineStateIdle, PipelineStateAnalyzing}: true,

	{PipelineStateAnalyzing, PipelineStateSuggesting}: true,
	{PipelineStateAnalyzing, PipelineStateError}:      true,

	{PipelineStateSuggesting, PipelineStateDecomposing}: true,
	{PipelineStateSuggesting, PipelineStateError}:       true,

	{PipelineStateDecomposing, PipelineStateCompleted}: true,
	{PipelineStateDecomposing, PipelineStateError}:     true,

	{PipelineStateCompleted, PipelineStateAnalyzing}: true,
	{PipelineStateError, PipelineStateAnalyzing}:     true,
}

// ValidatePipelineTransition checks if a state transition is valid and returns an error if not
func ValidatePipelineTransition(from, to PipelineState) error {
	if from == to {
		return nil
	}

	if !validPipelineTransitions[PipelineTransition{From: from, To: to}] {
		return &InvalidPipelineTransitionError{From: from, To: to}
	}
	return nil
}

// InvalidPipelineTransitionError represents an error for invalid state transitions
type InvalidPipelineTransitionError struct {
	From PipelineState
	To   PipelineState
}

func (e *InvalidPipelineTransitionError) Error() string {
	if e.From.IsTerminal() && e.To != PipelineStateAnalyzing {
		return fmt.Sprintf("run already finished in state '%s'", e.From)
	}
	return fmt.Sprintf("invalid pipeline state transition from '%s' to '%s'", e.From, e.To)
}

// StageState returns the state a run is in while the given stage executes.
func StageState(stage StageName) PipelineState {
	switch stage {
	case StageAnalysis:
		return PipelineStateAnalyzing
	case StageSuggestions:
		return PipelineStateSuggesting
	case StageDecomposition:
		return PipelineStateDecomposing
	}
	return PipelineStateIdle
}
