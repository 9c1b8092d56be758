package maestro

import "fmt"

// --- Definition errors ---

// ErrWorkflowNotFound indicates the named workflow is missing on disk:
// no definition directory, or a required file (index, step file) gone.
// Path is empty when the whole directory is absent.
type ErrWorkflowNotFound struct {
	Workflow string
	Path     string
}

func (e *ErrWorkflowNotFound) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("workflow %q: missing %s", e.Workflow, e.Path)
	}
	return fmt.Sprintf("workflow %q not found", e.Workflow)
}

// ErrDefinitionParse indicates a workflow definition exists but could not
// be loaded: unreadable file, include cycle, depth overflow, or an index
// that yields no steps.
type ErrDefinitionParse struct {
	Workflow string
	Path     string
	Message  string
}

func (e *ErrDefinitionParse) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("workflow %q: parse %s: %s", e.Workflow, e.Path, e.Message)
	}
	return fmt.Sprintf("workflow %q: %s", e.Workflow, e.Message)
}

// ErrStepNotFound indicates a step name that resolves to no step file in
// the workflow definition.
type ErrStepNotFound struct {
	Workflow string
	Step     string
}

func (e *ErrStepNotFound) Error() string {
	return fmt.Sprintf("workflow %q has no step %q", e.Workflow, e.Step)
}

// --- Instance errors ---

// ErrInstanceNotFound indicates no instance record exists for the ID.
type ErrInstanceNotFound struct {
	ID string
}

func (e *ErrInstanceNotFound) Error() string {
	return fmt.Sprintf("instance %q not found", e.ID)
}

// ErrStore wraps a storage failure with the operation that hit it.
type ErrStore struct {
	Op  string
	Err error
}

func (e *ErrStore) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *ErrStore) Unwrap() error { return e.Err }

// --- Decider errors ---

// ErrDecider indicates the decider backend failed outright: transport
// error, exhausted retry, or malformed response body. Timeout marks
// deadline-style failures, which the retry layer treats as transient.
type ErrDecider struct {
	Provider string
	Message  string
	Timeout  bool
	Err      error
}

func (e *ErrDecider) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("decider %s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("decider %s: %v", e.Provider, e.Err)
}

func (e *ErrDecider) Unwrap() error { return e.Err }

// ErrDeciderAPI indicates a non-2xx response from the decider backend.
// Status codes of 500 and above are transient for retry purposes.
type ErrDeciderAPI struct {
	Provider string
	Status   int
	Body     string
}

func (e *ErrDeciderAPI) Error() string {
	return fmt.Sprintf("decider %s: api status %d: %s", e.Provider, e.Status, e.Body)
}

// Transient reports whether the failure is a server-side error worth one
// immediate retry.
func (e *ErrDeciderAPI) Transient() bool { return e.Status >= 500 }

// ErrSafetyBlocked indicates the model refused the request on safety
// grounds. Never retried.
type ErrSafetyBlocked struct {
	Reason string
}

func (e *ErrSafetyBlocked) Error() string {
	return fmt.Sprintf("decider: blocked by safety filter: %s", e.Reason)
}

// ErrInvalidDecision indicates the decider answered, but the answer fails
// validation: unknown step name, missing fields, or a bad status value.
type ErrInvalidDecision struct {
	Message string
	Raw     string
}

func (e *ErrInvalidDecision) Error() string {
	return fmt.Sprintf("invalid decision: %s", e.Message)
}
