package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/catalog"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// Planner turns a query plus a narrowed catalog into an executable plan.
type Planner struct {
	agent *llm.Agent
}

// NewPlanner builds a planner.
func NewPlanner(agent *llm.Agent) *Planner {
	return &Planner{agent: agent}
}

// Plan produces and validates the execution plan. Structural violations are
// planning_failed; steps referencing entities outside the narrowed catalog
// are catalog_miss.
func (p *Planner) Plan(ctx context.Context, q models.Query, narrowed catalog.Narrowed) (models.Plan, error) {
	system := plannerPrompt + "\n\nCatalog subset:\n" + narrowed.Describe()

	var plan models.Plan
	if _, err := p.agent.Run(ctx, system, q.Sanitized, q.ProcessID, &plan); err != nil {
		return models.Plan{}, err
	}
	if err := plan.Validate(); err != nil {
		return models.Plan{}, models.NewPipelineError(models.ErrPlanningFailed, err.Error())
	}
	if err := checkClosure(plan, narrowed); err != nil {
		return models.Plan{}, err
	}
	return plan, nil
}

// checkClosure verifies every step resolves inside the narrowed catalog.
func checkClosure(plan models.Plan, narrowed catalog.Narrowed) error {
	tables := make(map[string]bool, len(narrowed.Tables))
	for _, t := range narrowed.Tables {
		tables[strings.ToLower(t.Name)] = true
	}
	endpoints := make(map[string]bool, len(narrowed.Endpoints))
	for _, e := range narrowed.Endpoints {
		endpoints[e.Key()] = true
	}

	var missing []string
	for _, s := range plan.Steps {
		switch s.Tool {
		case models.ToolSQL:
			if !tables[strings.ToLower(s.Entity)] {
				missing = append(missing, s.Entity)
			}
		case models.ToolAPI:
			key := strings.ToLower(s.Entity) + "/" + strings.ToLower(s.Operation)
			if !endpoints[key] {
				missing = append(missing, key)
			}
		}
	}
	if len(missing) > 0 {
		return models.NewPipelineError(models.ErrCatalogMiss,
			fmt.Sprintf("plan references entities outside the selected catalog: %s", strings.Join(missing, ", ")))
	}
	return nil
}
