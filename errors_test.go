package maestro

import (
	"errors"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"workflow not found", &ErrWorkflowNotFound{Workflow: "GREET"}, `workflow "GREET" not found`},
		{"workflow missing file", &ErrWorkflowNotFound{Workflow: "GREET", Path: "steps/hi.md"}, `workflow "GREET": missing steps/hi.md`},
		{"parse with path", &ErrDefinitionParse{Workflow: "GREET", Path: "index.md", Message: "no steps"}, `workflow "GREET": parse index.md: no steps`},
		{"parse without path", &ErrDefinitionParse{Workflow: "GREET", Message: "empty"}, `workflow "GREET": empty`},
		{"step not found", &ErrStepNotFound{Workflow: "GREET", Step: "fly"}, `workflow "GREET" has no step "fly"`},
		{"instance not found", &ErrInstanceNotFound{ID: "abc"}, `instance "abc" not found`},
		{"decider message", &ErrDecider{Provider: "gemini", Message: "deadline exceeded", Timeout: true}, "decider gemini: deadline exceeded"},
		{"decider api", &ErrDeciderAPI{Provider: "gemini", Status: 503, Body: "overloaded"}, "decider gemini: api status 503: overloaded"},
		{"safety", &ErrSafetyBlocked{Reason: "HARM_CATEGORY"}, "decider: blocked by safety filter: HARM_CATEGORY"},
		{"invalid decision", &ErrInvalidDecision{Message: "unknown step"}, "invalid decision: unknown step"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrStoreUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &ErrStore{Op: "create instance", Err: cause}

	if got := err.Error(); got != "store: create instance: disk full" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("ErrStore should unwrap to its cause")
	}
}

func TestErrDeciderUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ErrDecider{Provider: "gemini", Err: cause}

	if got := err.Error(); got != "decider gemini: connection refused" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("ErrDecider should unwrap to its cause")
	}
}

func TestErrDeciderAPITransient(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{500, true},
		{503, true},
		{599, true},
		{400, false},
		{404, false},
		{429, false},
	}
	for _, tt := range tests {
		e := &ErrDeciderAPI{Status: tt.status}
		if got := e.Transient(); got != tt.want {
			t.Errorf("status %d Transient() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
