package maestro

import "context"

// Intent tells the decider which transition it is deciding for.
type Intent int

const (
	// IntentFirstStep picks the entry step for a brand-new instance.
	IntentFirstStep Intent = iota
	// IntentNextStep picks the successor after a client report.
	IntentNextStep
	// IntentReconcile re-anchors an instance after a resume, where the
	// client's claimed step may disagree with the stored one.
	IntentReconcile
)

func (i Intent) String() string {
	switch i {
	case IntentFirstStep:
		return "first_step"
	case IntentNextStep:
		return "next_step"
	case IntentReconcile:
		return "reconcile"
	}
	return "unknown"
}

// Prompt carries everything a decider may consult for one decision. The
// engine fills it; backends render it however their API wants.
type Prompt struct {
	Intent Intent

	// WorkflowName and Blob describe the definition. Blob is the full
	// flattened definition text, Steps the ordered canonical step IDs.
	WorkflowName string
	Blob         string
	Steps        []string

	// Instance state at decision time.
	Instance WorkflowInstance

	// AssumedStep is the step the decision reasons from. For a resume it
	// is the client's claim, which may differ from Instance.CurrentStepName.
	AssumedStep string

	// History holds recent entries, most recent first.
	History []HistoryEntry

	// Report is the client's feedback. Nil for IntentFirstStep.
	Report *Report
}

// Decider abstracts the model backend that picks the next step.
type Decider interface {
	// Decide returns a validated decision: NextStepName is either a
	// canonical step from Prompt.Steps or StepFinish.
	Decide(ctx context.Context, p Prompt) (Decision, error)
	// Name returns the backend name (e.g. "gemini", "stub").
	Name() string
}
