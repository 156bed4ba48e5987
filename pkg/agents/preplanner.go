package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/catalog"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// PrePlanner narrows the full catalog to the minimal relevant subset before
// planning, so the planner prompt stays small on large tenants.
type PrePlanner struct {
	agent *llm.Agent
	cat   *catalog.Catalog
}

// NewPrePlanner builds a pre-planner over the loaded catalog.
func NewPrePlanner(agent *llm.Agent, cat *catalog.Catalog) *PrePlanner {
	return &PrePlanner{agent: agent, cat: cat}
}

// prePlanOutput is the pre-planner's structured output.
type prePlanOutput struct {
	Endpoints []endpointRef `json:"endpoints"`
	Tables    []string      `json:"tables"`
	Reasoning string        `json:"reasoning,omitempty"`
}

type endpointRef struct {
	Entity    string `json:"entity"`
	Operation string `json:"operation"`
}

// Narrow selects the catalog subset for the query. For SQL_ONLY flows the
// endpoint section is omitted from the prompt entirely. Selections that do
// not resolve in the catalog fail with catalog_miss.
func (p *PrePlanner) Narrow(ctx context.Context, q models.Query, flow Flow) (catalog.Narrowed, error) {
	var b strings.Builder
	b.WriteString(prePlannerPrompt)
	b.WriteString("\n\nCatalog:\n")
	full := catalog.Narrowed{Tables: p.cat.Tables()}
	if flow == FlowSQLPlusAPI {
		full.Endpoints = p.cat.Endpoints()
	}
	b.WriteString(full.Describe())

	var out prePlanOutput
	if _, err := p.agent.Run(ctx, b.String(), q.Sanitized, q.ProcessID, &out); err != nil {
		return catalog.Narrowed{}, err
	}
	if len(out.Endpoints) == 0 && len(out.Tables) == 0 {
		return catalog.Narrowed{}, models.NewPipelineError(models.ErrPlanningFailed,
			"pre-planner selected nothing from the catalog")
	}

	pairs := make([][2]string, len(out.Endpoints))
	for i, e := range out.Endpoints {
		pairs[i] = [2]string{e.Entity, e.Operation}
	}
	narrowed, missing := p.cat.Narrow(pairs, out.Tables)
	if len(missing) > 0 {
		return catalog.Narrowed{}, models.NewPipelineError(models.ErrCatalogMiss,
			fmt.Sprintf("pre-planner selected unknown catalog entries: %s", strings.Join(missing, ", ")))
	}
	return narrowed, nil
}
