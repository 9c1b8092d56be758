package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maestrohq/maestro"
)

const rolePreamble = `SYSTEM: You are a workflow orchestrator. Decide the next logical step of a workflow from the definition, the persisted state, the client's report, and recent history. Follow the "Orchestrator Guidance" section of each step closely. Match step names flexibly, ignoring case, underscores, and hyphens, and answer with the exact step ID from the schema enum. Do not suggest the status COMPLETED or FAILED while the guidance still offers a valid transition; prefer RUNNING. Respond with a single JSON object matching the provided schema and nothing else.`

const outputReminder = `Output ONLY the JSON object matching the provided schema. Record any context changes in "updated_context" as an array of {"key", "value"} objects; use an empty array when nothing changes.`

// promptInstance is the trimmed instance projection rendered into prompts.
type promptInstance struct {
	InstanceID      string         `json:"instance_id"`
	WorkflowName    string         `json:"workflow_name"`
	CurrentStepName string         `json:"current_step_name"`
	Status          maestro.Status `json:"status"`
	Context         map[string]any `json:"context"`
}

// buildPrompt assembles the flat text prompt sent to the model. Section
// order is fixed: preamble, definition blob, state, history, report, task.
func buildPrompt(p maestro.Prompt) string {
	parts := []string{rolePreamble}

	parts = append(parts, fmt.Sprintf("WORKFLOW DEFINITION:\n---\n%s\n---", p.Blob))

	view := promptInstance{
		InstanceID:      p.Instance.ID,
		WorkflowName:    p.Instance.WorkflowName,
		CurrentStepName: p.Instance.CurrentStepName,
		Status:          p.Instance.Status,
		Context:         p.Instance.Context,
	}
	switch p.Intent {
	case maestro.IntentNextStep:
		parts = append(parts, "CURRENT STATE:\n"+renderJSON(view))
	case maestro.IntentReconcile:
		parts = append(parts, "PERSISTED STATE:\n"+renderJSON(view))
		parts = append(parts, "ASSUMED STEP (from client report): "+p.AssumedStep)
	}

	if p.Intent != maestro.IntentFirstStep {
		if len(p.History) > 0 {
			parts = append(parts, "RECENT HISTORY (most recent first):\n"+renderJSON(p.History))
		}
		if p.Report != nil {
			parts = append(parts, "CLIENT REPORT:\n"+renderJSON(p.Report))
		}
	}

	parts = append(parts, "TASK: "+taskLine(p)+" "+outputReminder)
	return strings.Join(parts, "\n\n")
}

func taskLine(p maestro.Prompt) string {
	switch p.Intent {
	case maestro.IntentFirstStep:
		return "Analyze the workflow definition and determine the very first step."
	case maestro.IntentReconcile:
		return fmt.Sprintf("The client is resuming workflow instance %q. They believe they were on step %q; the persisted state shows %q. Reconcile the report and assumed step with the persisted state and history, following the Orchestrator Guidance, and determine the correct next step.",
			p.Instance.ID, p.AssumedStep, p.Instance.CurrentStepName)
	default:
		return fmt.Sprintf("Based on the client's report for step %q and the workflow definition, especially the Orchestrator Guidance, determine the next logical step.",
			p.Instance.CurrentStepName)
	}
}

func renderJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
