package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maestrohq/maestro"
)

// decisionSchema builds the structured-output schema for one decision.
// next_step_name is constrained to FINISH plus the workflow's step IDs.
func decisionSchema(steps []string) map[string]any {
	allowed := make([]string, 0, len(steps)+1)
	allowed = append(allowed, maestro.StepFinish)
	allowed = append(allowed, steps...)

	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"next_step_name": map[string]any{
				"type": "STRING",
				"enum": allowed,
			},
			"updated_context": map[string]any{
				"type":        "ARRAY",
				"description": "Key-value pairs to merge into the workflow context. Empty when nothing changes.",
				"items": map[string]any{
					"type": "OBJECT",
					"properties": map[string]any{
						"key":   map[string]any{"type": "STRING"},
						"value": map[string]any{"type": "STRING"},
					},
					"required": []string{"key", "value"},
				},
			},
			"status_suggestion": map[string]any{
				"type":     "STRING",
				"enum":     []string{"RUNNING", "SUSPENDED", "COMPLETED", "FAILED"},
				"nullable": true,
			},
			"reasoning": map[string]any{
				"type":     "STRING",
				"nullable": true,
			},
		},
		"required": []string{"next_step_name", "updated_context"},
	}
}

// wireDecision is the JSON shape the model must produce.
type wireDecision struct {
	NextStepName     string       `json:"next_step_name"`
	UpdatedContext   []wireUpdate `json:"updated_context"`
	StatusSuggestion *string      `json:"status_suggestion"`
	Reasoning        *string      `json:"reasoning"`
}

type wireUpdate struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// parseDecision validates the model's JSON text and canonicalizes the
// chosen step against the workflow's step list.
func parseDecision(raw string, steps []string) (maestro.Decision, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return maestro.Decision{}, &maestro.ErrInvalidDecision{Message: "response is not a JSON object: " + err.Error(), Raw: raw}
	}
	var wire wireDecision
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return maestro.Decision{}, &maestro.ErrInvalidDecision{Message: "malformed decision: " + err.Error(), Raw: raw}
	}

	if wire.NextStepName == "" {
		return maestro.Decision{}, &maestro.ErrInvalidDecision{Message: "missing next_step_name", Raw: raw}
	}
	if _, ok := probe["updated_context"]; !ok {
		return maestro.Decision{}, &maestro.ErrInvalidDecision{Message: "missing updated_context", Raw: raw}
	}

	allowed := make([]string, 0, len(steps)+1)
	allowed = append(allowed, maestro.StepFinish)
	allowed = append(allowed, steps...)
	step, ok := maestro.CanonicalStep(allowed, wire.NextStepName)
	if !ok {
		return maestro.Decision{}, &maestro.ErrInvalidDecision{
			Message: fmt.Sprintf("next_step_name %q is not FINISH or a step of this workflow", wire.NextStepName),
			Raw:     raw,
		}
	}

	d := maestro.Decision{
		NextStepName:   step,
		UpdatedContext: make([]maestro.ContextUpdate, 0, len(wire.UpdatedContext)),
	}
	for _, u := range wire.UpdatedContext {
		if u.Key == "" {
			return maestro.Decision{}, &maestro.ErrInvalidDecision{Message: "updated_context entry with empty key", Raw: raw}
		}
		d.UpdatedContext = append(d.UpdatedContext, maestro.ContextUpdate{Key: u.Key, Value: u.Value})
	}

	if wire.StatusSuggestion != nil && *wire.StatusSuggestion != "" {
		status := maestro.Status(strings.ToUpper(strings.TrimSpace(*wire.StatusSuggestion)))
		if !status.Valid() {
			return maestro.Decision{}, &maestro.ErrInvalidDecision{
				Message: fmt.Sprintf("status_suggestion %q is not a workflow status", *wire.StatusSuggestion),
				Raw:     raw,
			}
		}
		d.StatusSuggestion = status
	}
	if wire.Reasoning != nil {
		d.Reasoning = *wire.Reasoning
	}
	return d, nil
}
