package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// Synthesizer turns completed step artifacts into the final production step:
// either a direct narrative answer or a script that combines the full data.
type Synthesizer struct {
	agent *llm.Agent
}

// NewSynthesizer builds the synthesis stage.
func NewSynthesizer(agent *llm.Agent) *Synthesizer {
	return &Synthesizer{agent: agent}
}

// SynthesisResult is the stage's structured output. Exactly one of Script or
// Answer is meaningful, selected by Kind.
type SynthesisResult struct {
	Kind   string `json:"kind"` // "script" or "answer"
	Script string `json:"script,omitempty"`
	Answer string `json:"answer,omitempty"`
}

// Synthesize decides between a direct answer and a combining script. The
// model only ever sees samples; scripts receive the complete data at runtime.
func (s *Synthesizer) Synthesize(ctx context.Context, q models.Query, artifacts []*models.StepArtifact) (SynthesisResult, error) {
	system := synthesisPrompt + "\n\nStep results:\n" + DescribeArtifacts(artifacts)

	var out SynthesisResult
	if _, err := s.agent.Run(ctx, system, q.Sanitized, q.ProcessID, &out); err != nil {
		return SynthesisResult{}, err
	}
	switch out.Kind {
	case "script":
		if strings.TrimSpace(out.Script) == "" {
			return SynthesisResult{}, models.NewPipelineError(models.ErrGenerationFailed,
				"synthesis chose a script but returned none")
		}
	case "answer":
		if strings.TrimSpace(out.Answer) == "" {
			return SynthesisResult{}, models.NewPipelineError(models.ErrGenerationFailed,
				"synthesis chose an answer but returned none")
		}
	default:
		return SynthesisResult{}, models.NewPipelineError(models.ErrGenerationFailed,
			fmt.Sprintf("synthesis returned unknown kind %q", out.Kind))
	}
	return out, nil
}

// DescribeArtifacts renders step artifacts as prompt text: slot, outcome,
// schema and the bounded sample. Shared by synthesis, the formatter and the
// executor's enhanced context.
func DescribeArtifacts(artifacts []*models.StepArtifact) string {
	var b strings.Builder
	for _, a := range artifacts {
		fmt.Fprintf(&b, "Slot %s (%s): ", a.Slot, a.Tool)
		if !a.Success {
			fmt.Fprintf(&b, "FAILED: %s\n", a.Error)
			continue
		}
		fmt.Fprintf(&b, "%d records\n", a.RecordCount)
		if len(a.Schema) > 0 {
			cols := make([]string, len(a.Schema))
			for i, c := range a.Schema {
				cols[i] = c.Name + " " + c.Type
			}
			fmt.Fprintf(&b, "  columns: %s\n", strings.Join(cols, ", "))
		}
		if len(a.Sample) > 0 {
			sample, err := json.Marshal(a.Sample)
			if err == nil {
				fmt.Fprintf(&b, "  sample: %s\n", sample)
			}
		}
		fmt.Fprintf(&b, "  complete data: full_results[%q]\n", a.Slot)
	}
	return b.String()
}
