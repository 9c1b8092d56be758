package maestro

import "context"

// WorkflowDefinition is one fully loaded workflow: the index document,
// its ordered steps, and precomputed projections of both.
type WorkflowDefinition struct {
	Name string

	// Description is the index text above the first step-list heading,
	// used when advertising the workflow.
	Description string

	// Plan is the raw "High-Level Plan" section body, empty when the
	// index has none.
	Plan string

	// Steps holds the ordered steps exactly as the index lists them.
	Steps []Step

	// Blob is the flattened full-definition text handed to deciders:
	// the index followed by every step document.
	Blob string
}

// Step is one entry of a workflow's ordered step list.
type Step struct {
	// ID is the link text from the index, the canonical step name.
	ID string
	// Path is the step file path relative to the workflow directory.
	Path string
	// Guidance is the step's orchestrator-facing section body.
	Guidance string
	// Instructions is the step's client-facing section body.
	Instructions string
	// Body is the whole step document after include expansion.
	Body string
}

// StepIDs returns the ordered canonical step names.
func (d *WorkflowDefinition) StepIDs() []string {
	ids := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		ids[i] = s.ID
	}
	return ids
}

// FindStep returns the step whose ID matches name after folding.
func (d *WorkflowDefinition) FindStep(name string) (Step, bool) {
	canon, ok := CanonicalStep(d.StepIDs(), name)
	if !ok {
		return Step{}, false
	}
	for _, s := range d.Steps {
		if s.ID == canon {
			return s, true
		}
	}
	return Step{}, false
}

// Definitions abstracts access to workflow definitions on disk. Loads
// reflect current file content; implementations may cache behind a
// content fingerprint.
type Definitions interface {
	// List returns the available workflow names, sorted.
	List(ctx context.Context) ([]string, error)
	// Load returns the named workflow, parsed and include-expanded.
	Load(ctx context.Context, name string) (*WorkflowDefinition, error)
}
