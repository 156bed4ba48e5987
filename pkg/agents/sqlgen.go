package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/catalog"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// SQLGenerator produces one read-only SQL statement per plan step.
type SQLGenerator struct {
	agent *llm.Agent
}

// NewSQLGenerator builds the SQL code-generation stage.
func NewSQLGenerator(agent *llm.Agent) *SQLGenerator {
	return &SQLGenerator{agent: agent}
}

// sqlOutput is the generator's structured output.
type sqlOutput struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
}

// Generate writes the SQL for one step. enhanced is the prior-step context
// (samples, schemas, slot names) built by the executor; it may be empty for
// the first step.
func (g *SQLGenerator) Generate(ctx context.Context, q models.Query, step models.Step, narrowed catalog.Narrowed, enhanced string) (string, error) {
	var b strings.Builder
	b.WriteString(sqlGenPrompt)
	b.WriteString("\n\nTables:\n")
	b.WriteString(catalog.Narrowed{Tables: narrowed.Tables}.Describe())
	if enhanced != "" {
		b.WriteString("\nEarlier step results:\n")
		b.WriteString(enhanced)
	}

	user := fmt.Sprintf("Question: %s\nStep %d (%s): %s", q.Sanitized, step.Position, step.Entity, step.QueryContext)

	var out sqlOutput
	if _, err := g.agent.Run(ctx, b.String(), user, q.ProcessID, &out); err != nil {
		return "", err
	}
	sql := strings.TrimSpace(out.SQL)
	if sql == "" {
		return "", models.NewPipelineError(models.ErrGenerationFailed,
			fmt.Sprintf("step %d: generator returned empty SQL", step.Position))
	}
	return sql, nil
}
