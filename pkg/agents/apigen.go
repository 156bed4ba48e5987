package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/catalog"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// APIGenerator produces one sandbox script per API plan step.
type APIGenerator struct {
	agent *llm.Agent
}

// NewAPIGenerator builds the API code-generation stage.
func NewAPIGenerator(agent *llm.Agent) *APIGenerator {
	return &APIGenerator{agent: agent}
}

// scriptOutput is the generator's structured output.
type scriptOutput struct {
	Script      string `json:"script"`
	Explanation string `json:"explanation,omitempty"`
}

// Generate writes the script for one API step. The step's endpoint and its
// declared dependencies are included in the prompt; enhanced carries samples
// of earlier step results.
func (g *APIGenerator) Generate(ctx context.Context, q models.Query, step models.Step, narrowed catalog.Narrowed, enhanced string) (string, error) {
	var b strings.Builder
	b.WriteString(apiGenPrompt)
	b.WriteString("\n\nEndpoints:\n")
	b.WriteString(catalog.Narrowed{Endpoints: narrowed.Endpoints}.Describe())
	if enhanced != "" {
		b.WriteString("\nEarlier step results:\n")
		b.WriteString(enhanced)
	}

	user := fmt.Sprintf("Question: %s\nStep %d (%s %s): %s",
		q.Sanitized, step.Position, step.Entity, step.Operation, step.QueryContext)

	var out scriptOutput
	if _, err := g.agent.Run(ctx, b.String(), user, q.ProcessID, &out); err != nil {
		return "", err
	}
	script := strings.TrimSpace(out.Script)
	if script == "" {
		return "", models.NewPipelineError(models.ErrGenerationFailed,
			fmt.Sprintf("step %d: generator returned empty script", step.Position))
	}
	return script, nil
}
