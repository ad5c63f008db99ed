package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for conductor observability spans and metrics.
var (
	AttrModelID  = attribute.Key("model.id")
	AttrUpstream = attribute.Key("model.upstream")

	AttrTokensInput  = attribute.Key("model.tokens.input")
	AttrTokensOutput = attribute.Key("model.tokens.output")
	AttrCostUSD      = attribute.Key("model.cost_usd")

	AttrToolCount = attribute.Key("model.tool_count")
	AttrToolNames = attribute.Key("model.tool_names")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrPlanID     = attribute.Key("research.plan_id")
	AttrAgentCount = attribute.Key("research.agent_count")
	AttrRunStatus  = attribute.Key("research.status")
)
