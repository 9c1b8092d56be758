package gemini

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/maestrohq/maestro"
)

func testPrompt(intent maestro.Intent) maestro.Prompt {
	p := maestro.Prompt{
		Intent:       intent,
		WorkflowName: "DEPLOY",
		Blob:         "# DEPLOY\n\nShip the service.\n\n---\n\n## Step: triage\nLook at the ticket.",
		Steps:        []string{"triage", "build", "verify"},
		Instance: maestro.WorkflowInstance{
			ID:              "inst-42",
			WorkflowName:    "DEPLOY",
			CurrentStepName: "build",
			Status:          maestro.StatusRunning,
			Context:         map[string]any{"ticket": "T-7"},
		},
	}
	if intent != maestro.IntentFirstStep {
		p.History = []maestro.HistoryEntry{
			{ID: 2, InstanceID: "inst-42", Timestamp: time.Unix(0, 2000), StepName: "build", OutcomeStatus: "SUCCESS", DeterminedNextStep: "verify"},
			{ID: 1, InstanceID: "inst-42", Timestamp: time.Unix(0, 1000), StepName: "triage", OutcomeStatus: "SUCCESS", DeterminedNextStep: "build"},
		}
		p.Report = &maestro.Report{Status: "success", Message: "build green"}
	}
	if intent == maestro.IntentReconcile {
		p.AssumedStep = "triage"
	}
	return p
}

func TestBuildPromptFirstStep(t *testing.T) {
	prompt := buildPrompt(testPrompt(maestro.IntentFirstStep))

	if !strings.HasPrefix(prompt, "SYSTEM:") {
		t.Error("expected prompt to open with the role preamble")
	}
	if !strings.Contains(prompt, "WORKFLOW DEFINITION:\n---\n# DEPLOY") {
		t.Error("expected definition blob section")
	}
	for _, absent := range []string{"CURRENT STATE:", "PERSISTED STATE:", "RECENT HISTORY", "CLIENT REPORT:"} {
		if strings.Contains(prompt, absent) {
			t.Errorf("first-step prompt must not contain %q", absent)
		}
	}
	if !strings.Contains(prompt, "determine the very first step") {
		t.Error("expected first-step task line")
	}
	if !strings.Contains(prompt, "Output ONLY the JSON object") {
		t.Error("expected schema reminder")
	}
}

func TestBuildPromptNextStep(t *testing.T) {
	prompt := buildPrompt(testPrompt(maestro.IntentNextStep))

	if !strings.Contains(prompt, "CURRENT STATE:") {
		t.Fatal("expected current state section")
	}
	if !strings.Contains(prompt, `"instance_id": "inst-42"`) {
		t.Error("expected instance JSON in state section")
	}
	if !strings.Contains(prompt, `"current_step_name": "build"`) {
		t.Error("expected current step in state section")
	}
	if strings.Contains(prompt, "ASSUMED STEP") {
		t.Error("next-step prompt must not contain the assumed step")
	}
	if !strings.Contains(prompt, "RECENT HISTORY (most recent first):") {
		t.Error("expected history section")
	}
	if !strings.Contains(prompt, "CLIENT REPORT:") {
		t.Error("expected report section")
	}
	if !strings.Contains(prompt, `report for step "build"`) {
		t.Error("expected task line naming the current step")
	}

	// History renders newest entry before the older one.
	newest := strings.Index(prompt, `"determined_next_step": "verify"`)
	oldest := strings.Index(prompt, `"determined_next_step": "build"`)
	if newest == -1 || oldest == -1 || newest > oldest {
		t.Error("expected history rendered most recent first")
	}
}

func TestBuildPromptReconcile(t *testing.T) {
	prompt := buildPrompt(testPrompt(maestro.IntentReconcile))

	if !strings.Contains(prompt, "PERSISTED STATE:") {
		t.Fatal("expected persisted state section")
	}
	if !strings.Contains(prompt, "ASSUMED STEP (from client report): triage") {
		t.Error("expected assumed step line")
	}
	if !strings.Contains(prompt, `they were on step "triage"`) || !strings.Contains(prompt, `shows "build"`) {
		t.Error("expected task line naming both steps")
	}
}

func TestBuildPromptSectionOrder(t *testing.T) {
	prompt := buildPrompt(testPrompt(maestro.IntentReconcile))

	markers := []string{
		"SYSTEM:",
		"WORKFLOW DEFINITION:",
		"PERSISTED STATE:",
		"ASSUMED STEP",
		"RECENT HISTORY",
		"CLIENT REPORT:",
		"TASK:",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(prompt, m)
		if idx == -1 {
			t.Fatalf("missing section %q", m)
		}
		if idx < last {
			t.Errorf("section %q out of order", m)
		}
		last = idx
	}
}

func TestBuildPromptReportRendersAsJSON(t *testing.T) {
	p := testPrompt(maestro.IntentNextStep)
	p.Report = &maestro.Report{Status: "failure", Error: "exit 1", Details: map[string]any{"code": float64(1)}}

	prompt := buildPrompt(p)

	section := prompt[strings.Index(prompt, "CLIENT REPORT:"):]
	section = section[:strings.Index(section, "\n\nTASK:")]
	var got maestro.Report
	if err := json.Unmarshal([]byte(strings.TrimPrefix(section, "CLIENT REPORT:\n")), &got); err != nil {
		t.Fatalf("report section is not valid JSON: %v", err)
	}
	if got.Status != "failure" || got.Error != "exit 1" {
		t.Errorf("unexpected report render: %+v", got)
	}
}
