// Package agents holds the LLM-driven pipeline stages: routing, catalog
// narrowing, planning, per-step code generation, synthesis, result formatting
// and the special-tool registry. Each stage is a small struct around an
// llm.Agent with a typed structured output.
package agents

import (
	"context"
	"fmt"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// Flow is the router's classification of a query.
type Flow string

// Router flows.
const (
	FlowSQLOnly    Flow = "SQL_ONLY"
	FlowSQLPlusAPI Flow = "SQL_PLUS_API"
	FlowSpecial    Flow = "SPECIAL"
)

// RouteDecision is the router's structured output.
type RouteDecision struct {
	Flow        Flow   `json:"flow"`
	SpecialTool string `json:"special_tool,omitempty"`
	Confidence  int    `json:"confidence"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// Router classifies queries into one of the three flows.
type Router struct {
	agent    *llm.Agent
	registry *SpecialRegistry
}

// NewRouter builds a router. The registry's tool list is embedded in the
// prompt so the model can pick SPECIAL by name.
func NewRouter(agent *llm.Agent, registry *SpecialRegistry) *Router {
	return &Router{agent: agent, registry: registry}
}

// Route classifies the query. An unknown flow or an unregistered special tool
// is a planning failure, not something to silently coerce.
func (r *Router) Route(ctx context.Context, q models.Query) (RouteDecision, error) {
	system := routerPrompt
	if tools := r.registry.Describe(); tools != "" {
		system += "\n\nSpecial tools available:\n" + tools
	}

	var decision RouteDecision
	if _, err := r.agent.Run(ctx, system, q.Sanitized, q.ProcessID, &decision); err != nil {
		return RouteDecision{}, err
	}

	switch decision.Flow {
	case FlowSQLOnly, FlowSQLPlusAPI:
	case FlowSpecial:
		if _, ok := r.registry.Get(decision.SpecialTool); !ok {
			return RouteDecision{}, models.NewPipelineError(models.ErrPlanningFailed,
				fmt.Sprintf("router selected unknown special tool %q", decision.SpecialTool))
		}
	default:
		return RouteDecision{}, models.NewPipelineError(models.ErrPlanningFailed,
			fmt.Sprintf("router returned unknown flow %q", decision.Flow))
	}
	return decision, nil
}
