package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
	"github.com/invopop/jsonschema"
)

// Agent is the uniform facade every pipeline stage uses: run a system prompt
// plus a user message and get a typed structured output and a token-usage
// report back.
//
// Structured-output failures are not retried: each attempt is expensive, so
// a malformed response surfaces immediately as schema_violation. Transport
// retries live below this layer in RetryTransport.
type Agent struct {
	name     string
	model    string
	provider Provider
}

// NewAgent creates an agent bound to a provider and model.
func NewAgent(name, model string, provider Provider) *Agent {
	return &Agent{name: name, model: model, provider: provider}
}

// Name returns the agent's label used in logs and retry notices.
func (a *Agent) Name() string { return a.name }

// Run sends the prompt pair and unmarshals the JSON response into out. The
// JSON schema of out is appended to the system prompt so the model knows the
// exact shape expected.
func (a *Agent) Run(ctx context.Context, system, user string, processID string, out any) (Usage, error) {
	schemaText, err := schemaFor(out)
	if err != nil {
		return Usage{}, fmt.Errorf("deriving output schema: %w", err)
	}
	system = system + "\n\nRespond with a single JSON object matching this schema exactly:\n" + schemaText

	slog.Debug("Agent prompt", "process_id", processID, "agent", a.name, "system", system, "user", user)

	text, usage, err := a.provider.Complete(ctx, CompletionRequest{
		Model:      a.model,
		System:     system,
		User:       user,
		JSONMode:   true,
		AgentLabel: a.name,
	})
	if err != nil {
		return usage, err
	}

	slog.Info("Agent call complete",
		"process_id", processID,
		"agent", a.name,
		"tokens_in", usage.InputTokens,
		"tokens_out", usage.OutputTokens)

	if err := json.Unmarshal([]byte(extractJSON(text)), out); err != nil {
		return usage, models.NewPipelineError(models.ErrSchemaViolation,
			fmt.Sprintf("%s returned unparseable output: %v", a.name, err))
	}
	return usage, nil
}

// RunText sends the prompt pair and returns the raw text response. Used by
// stages whose output is free-form (narrative answers, generated scripts
// delivered inside a JSON envelope are preferred; this is the escape hatch).
func (a *Agent) RunText(ctx context.Context, system, user string, processID string) (string, Usage, error) {
	text, usage, err := a.provider.Complete(ctx, CompletionRequest{
		Model:      a.model,
		System:     system,
		User:       user,
		AgentLabel: a.name,
	})
	if err != nil {
		return "", usage, err
	}
	slog.Info("Agent call complete",
		"process_id", processID,
		"agent", a.name,
		"tokens_in", usage.InputTokens,
		"tokens_out", usage.OutputTokens)
	return text, usage, nil
}

// schemaFor renders the JSON schema of the output struct.
func schemaFor(out any) (string, error) {
	reflector := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	schema := reflector.Reflect(out)
	data, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// extractJSON strips markdown code fences some models wrap around JSON output.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}
