package maestro

import (
	"encoding/json"
	"time"
)

// --- Instance lifecycle ---

// Status is the lifecycle state of a workflow instance.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSuspended Status = "SUSPENDED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusSuspended, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepFinish is the reserved next-step name that signals completion. It is
// never a valid workflow step ID.
const StepFinish = "FINISH"

// Instruction strings issued when an instance reaches a terminal status.
const (
	CompletedInstructions = "Workflow Completed."
	FailedInstructions    = "Workflow Failed."
)

// OutcomeResuming is the outcome recorded for history entries written by a
// resume transition, regardless of what the client report said.
const OutcomeResuming = "RESUMING"

// --- Domain types (database records) ---

// WorkflowInstance is the durable per-instance record. The engine owns
// transitions on it; a Store owns the durable copy.
type WorkflowInstance struct {
	ID              string         `json:"instance_id"`
	WorkflowName    string         `json:"workflow_name"`
	CurrentStepName string         `json:"current_step_name"`
	Status          Status         `json:"status"`
	Context         map[string]any `json:"context"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// HistoryEntry is one record of the append-only per-instance event log.
// ID is assigned by the store and increases strictly in commit order.
type HistoryEntry struct {
	ID                 int64           `json:"history_id"`
	InstanceID         string          `json:"instance_id"`
	Timestamp          time.Time       `json:"timestamp"`
	StepName           string          `json:"step_name"`
	UserReport         json.RawMessage `json:"user_report"`
	OutcomeStatus      string          `json:"outcome_status"`
	DeterminedNextStep string          `json:"determined_next_step,omitempty"`
}

// --- Decider protocol types ---

// Report is the client's structured feedback about the step it executed.
// Status is the only field the engine itself reads; everything else is
// passed through verbatim to the decider and the history log.
type Report struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ContextUpdate is one key/value pair a decider wants merged into the
// instance context. Updates apply in order, later entries win.
type ContextUpdate struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Decision is the validated structured answer from a Decider. NextStepName
// is the canonical spelling of a workflow step, or StepFinish.
// StatusSuggestion is empty when the decider made no suggestion.
type Decision struct {
	NextStepName     string          `json:"next_step_name"`
	UpdatedContext   []ContextUpdate `json:"updated_context,omitempty"`
	StatusSuggestion Status          `json:"status_suggestion,omitempty"`
	Reasoning        string          `json:"reasoning,omitempty"`
}

// NextStep pairs a step name with the verbatim client instructions for it.
type NextStep struct {
	StepName     string `json:"step_name"`
	Instructions string `json:"instructions"`
}

// Transition is the common result of Start, Advance, and Resume.
type Transition struct {
	InstanceID     string         `json:"instance_id"`
	NextStep       NextStep       `json:"next_step"`
	CurrentContext map[string]any `json:"current_context"`
}

// --- Context map helpers ---

// CloneContext returns a shallow copy so context maps cross component
// boundaries by value. A nil input yields an empty, non-nil map.
func CloneContext(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// MergeContext copies base and applies updates on top; update keys win.
func MergeContext(base, updates map[string]any) map[string]any {
	merged := CloneContext(base)
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

// ApplyUpdates applies ordered decider updates onto a copy of base.
func ApplyUpdates(base map[string]any, updates []ContextUpdate) map[string]any {
	merged := CloneContext(base)
	for _, u := range updates {
		merged[u.Key] = u.Value
	}
	return merged
}
