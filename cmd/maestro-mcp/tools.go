package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maestrohq/maestro"
	"github.com/maestrohq/maestro/mcp"
)

// workflowTools returns the five orchestration tools backed by the engine.
func workflowTools(eng *maestro.Engine) []mcp.ToolHandler {
	return []mcp.ToolHandler{
		listWorkflowsTool(eng),
		startWorkflowTool(eng),
		getWorkflowStatusTool(eng),
		advanceWorkflowTool(eng),
		resumeWorkflowTool(eng),
	}
}

// --- Schema fragments shared across tools ---

var (
	instanceIDSchema = map[string]any{
		"type":        "string",
		"description": "Identifier returned by start_workflow",
	}
	reportSchema = map[string]any{
		"type":        "object",
		"description": "Structured outcome of the step the client just executed",
		"properties": map[string]any{
			"status":  map[string]any{"type": "string", "description": "Outcome, e.g. success, failure, in_progress"},
			"details": map[string]any{"type": "object"},
			"message": map[string]any{"type": "string"},
			"error":   map[string]any{"type": "string"},
		},
		"required": []string{"status"},
	}
	contextUpdatesSchema = map[string]any{
		"type":        "object",
		"description": "Key/value pairs merged into the instance context before the decision",
	}
)

func listWorkflowsTool(eng *maestro.Engine) mcp.ToolHandler {
	return mcp.ToolHandler{
		Definition: mcp.ToolDefinition{
			Name:        "list_workflows",
			Description: "List the workflow definitions available to start.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Execute: func(ctx context.Context, _ json.RawMessage) mcp.ToolCallResult {
			names, err := eng.ListWorkflows(ctx)
			if err != nil {
				return errorResult(err)
			}
			if names == nil {
				names = []string{}
			}
			return jsonResult(map[string]any{"workflows": names})
		},
	}
}

func startWorkflowTool(eng *maestro.Engine) mcp.ToolHandler {
	return mcp.ToolHandler{
		Definition: mcp.ToolDefinition{
			Name:        "start_workflow",
			Description: "Start a new instance of a workflow. Returns the instance ID, the first step with its instructions, and the initial context.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"workflow_name": map[string]any{
						"type":        "string",
						"description": "Name from list_workflows",
					},
					"context": map[string]any{
						"type":        "object",
						"description": "Optional initial context key/value pairs",
					},
				},
				"required": []string{"workflow_name"},
			},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) mcp.ToolCallResult {
			var args struct {
				WorkflowName string         `json:"workflow_name"`
				Context      map[string]any `json:"context"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return mcp.ErrorResult(err.Error())
			}
			if args.WorkflowName == "" {
				return mcp.ErrorResult("invalid request: workflow_name is required")
			}
			tr, err := eng.Start(ctx, args.WorkflowName, args.Context)
			if err != nil {
				return errorResult(err)
			}
			return jsonResult(tr)
		},
	}
}

func getWorkflowStatusTool(eng *maestro.Engine) mcp.ToolHandler {
	return mcp.ToolHandler{
		Definition: mcp.ToolDefinition{
			Name:        "get_workflow_status",
			Description: "Fetch the full persisted state of a workflow instance: current step, status, context, and timestamps.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"instance_id": instanceIDSchema,
				},
				"required": []string{"instance_id"},
			},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) mcp.ToolCallResult {
			var args struct {
				InstanceID string `json:"instance_id"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return mcp.ErrorResult(err.Error())
			}
			if args.InstanceID == "" {
				return mcp.ErrorResult("invalid request: instance_id is required")
			}
			inst, err := eng.Status(ctx, args.InstanceID)
			if err != nil {
				return errorResult(err)
			}
			return jsonResult(inst)
		},
	}
}

func advanceWorkflowTool(eng *maestro.Engine) mcp.ToolHandler {
	return mcp.ToolHandler{
		Definition: mcp.ToolDefinition{
			Name:        "advance_workflow",
			Description: "Report the outcome of the current step and receive the next step. The report is recorded in the instance history and drives the next-step decision.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"instance_id":     instanceIDSchema,
					"report":          reportSchema,
					"context_updates": contextUpdatesSchema,
				},
				"required": []string{"instance_id", "report"},
			},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) mcp.ToolCallResult {
			var args struct {
				InstanceID     string          `json:"instance_id"`
				Report         *maestro.Report `json:"report"`
				ContextUpdates map[string]any  `json:"context_updates"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return mcp.ErrorResult(err.Error())
			}
			if args.InstanceID == "" {
				return mcp.ErrorResult("invalid request: instance_id is required")
			}
			if args.Report == nil {
				return mcp.ErrorResult("invalid request: report is required")
			}
			tr, err := eng.Advance(ctx, args.InstanceID, *args.Report, args.ContextUpdates)
			if err != nil {
				return errorResult(err)
			}
			return jsonResult(tr)
		},
	}
}

func resumeWorkflowTool(eng *maestro.Engine) mcp.ToolHandler {
	return mcp.ToolHandler{
		Definition: mcp.ToolDefinition{
			Name:        "resume_workflow",
			Description: "Reconnect to an existing instance after losing local state. Supply the step you believe you were on; the orchestrator reconciles it with the persisted state and returns the correct next step.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"instance_id": instanceIDSchema,
					"assumed_current_step_name": map[string]any{
						"type":        "string",
						"description": "The step the client believes it was executing",
					},
					"report":          reportSchema,
					"context_updates": contextUpdatesSchema,
				},
				"required": []string{"instance_id", "assumed_current_step_name", "report"},
			},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) mcp.ToolCallResult {
			var args struct {
				InstanceID     string          `json:"instance_id"`
				AssumedStep    string          `json:"assumed_current_step_name"`
				Report         *maestro.Report `json:"report"`
				ContextUpdates map[string]any  `json:"context_updates"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return mcp.ErrorResult(err.Error())
			}
			if args.InstanceID == "" {
				return mcp.ErrorResult("invalid request: instance_id is required")
			}
			if args.AssumedStep == "" {
				return mcp.ErrorResult("invalid request: assumed_current_step_name is required")
			}
			if args.Report == nil {
				return mcp.ErrorResult("invalid request: report is required")
			}
			tr, err := eng.Resume(ctx, args.InstanceID, args.AssumedStep, *args.Report, args.ContextUpdates)
			if err != nil {
				return errorResult(err)
			}
			return jsonResult(tr)
		},
	}
}

// --- Result helpers ---

// decodeArgs unmarshals tool arguments, treating absent arguments as an
// empty object.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid request: %v", err)
	}
	return nil
}

// jsonResult renders a success payload as pretty-printed JSON text.
func jsonResult(v any) mcp.ToolCallResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.ErrorResult("internal error: encode response: " + err.Error())
	}
	return mcp.TextResult(string(data))
}

// errorResult maps an engine error to a tool error with a stable category
// prefix, so clients can distinguish their own mistakes from upstream and
// internal failures.
func errorResult(err error) mcp.ToolCallResult {
	var (
		wnf *maestro.ErrWorkflowNotFound
		inf *maestro.ErrInstanceNotFound
		snf *maestro.ErrStepNotFound
		par *maestro.ErrDefinitionParse
		dec *maestro.ErrDecider
		api *maestro.ErrDeciderAPI
		inv *maestro.ErrInvalidDecision
		saf *maestro.ErrSafetyBlocked
		sto *maestro.ErrStore
	)
	switch {
	case errors.As(err, &wnf), errors.As(err, &inf), errors.As(err, &snf):
		return mcp.ErrorResult("not found: " + err.Error())
	case errors.As(err, &par):
		return mcp.ErrorResult("definition error: " + err.Error())
	case errors.As(err, &dec), errors.As(err, &api), errors.As(err, &inv), errors.As(err, &saf):
		return mcp.ErrorResult("decision failed: " + err.Error())
	case errors.As(err, &sto):
		return mcp.ErrorResult("storage failure: " + err.Error())
	}
	return mcp.ErrorResult("internal error: " + err.Error())
}
