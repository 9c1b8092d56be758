package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for decision and tool observability spans and metrics.
var (
	AttrDeciderProvider = attribute.Key("decider.provider")
	AttrDeciderModel    = attribute.Key("decider.model")
	AttrDeciderIntent   = attribute.Key("decider.intent")
	AttrNextStep        = attribute.Key("decider.next_step")

	AttrTokensInput  = attribute.Key("decider.tokens.input")
	AttrTokensOutput = attribute.Key("decider.tokens.output")
	AttrCostUSD      = attribute.Key("decider.cost_usd")

	AttrWorkflowName = attribute.Key("workflow.name")
	AttrInstanceID   = attribute.Key("workflow.instance_id")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")
)
