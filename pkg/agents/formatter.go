package agents

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// Formatter produces the display envelope for a completed query. Depending on
// the data size it either formats directly (small results go to the model
// whole), emits a formatting script for the sandbox, or, for plain
// single-table results, skips the model entirely.
type Formatter struct {
	agent *llm.Agent
	// model used for token estimation of the complete-mode prompt.
	model string
	// tokenThreshold is the complete-mode cutoff: results estimated below it
	// are formatted by the model in one call.
	tokenThreshold int
}

// NewFormatter builds the formatting stage.
func NewFormatter(agent *llm.Agent, model string, tokenThreshold int) *Formatter {
	return &Formatter{agent: agent, model: model, tokenThreshold: tokenThreshold}
}

// FormatOutcome is the formatter's result. Response is set when formatting
// completed in-process; otherwise Script holds a sandbox snippet the caller
// must validate and run.
type FormatOutcome struct {
	Response *models.FormattedResponse
	Script   string
}

// aggregationHint matches query phrasings whose answer is a computation, not
// the raw rows; those always go through the model.
var aggregationHint = regexp.MustCompile(`(?i)\b(count|how many|sum|summar(y|ies|ize|ise)|average|avg|total|group(ed)? by|per\b|percentage|distribution)\b`)

// Format chooses the formatting mode for the completed artifacts.
func (f *Formatter) Format(ctx context.Context, q models.Query, artifacts []*models.StepArtifact) (FormatOutcome, error) {
	if resp, ok := fastPath(q, artifacts); ok {
		return FormatOutcome{Response: resp}, nil
	}

	full := fullDataJSON(artifacts)
	if full != "" && llm.EstimateTokens(f.model, full) < f.tokenThreshold {
		return f.formatComplete(ctx, q, full)
	}
	return f.formatWithScript(ctx, q, artifacts)
}

// fastPath renders a single successful SQL result as a table without a model
// call. Aggregation-style questions are excluded: their raw rows are an
// intermediate, not the answer.
func fastPath(q models.Query, artifacts []*models.StepArtifact) (*models.FormattedResponse, bool) {
	if len(artifacts) != 1 {
		return nil, false
	}
	a := artifacts[0]
	if a.Tool != models.ToolSQL || !a.Success || aggregationHint.MatchString(q.Sanitized) {
		return nil, false
	}

	headers := make([]models.TableHeader, len(a.Schema))
	for i, c := range a.Schema {
		headers[i] = models.TableHeader{Value: c.Name, Text: humanize(c.Name), Sortable: true}
	}
	rows := a.FullData
	if rows == nil {
		rows = []map[string]any{}
	}
	return &models.FormattedResponse{
		DisplayType: models.DisplayTable,
		Content:     rows,
		Metadata: models.ResponseMetadata{
			Headers:      headers,
			TotalRecords: a.RecordCount,
		},
	}, true
}

// formatComplete hands the whole dataset to the model in one call.
func (f *Formatter) formatComplete(ctx context.Context, q models.Query, fullJSON string) (FormatOutcome, error) {
	system := formatterCompletePrompt + "\n\nResult data:\n" + fullJSON

	var resp models.FormattedResponse
	if _, err := f.agent.Run(ctx, system, q.Sanitized, q.ProcessID, &resp); err != nil {
		return FormatOutcome{}, err
	}
	if resp.DisplayType != models.DisplayTable && resp.DisplayType != models.DisplayMarkdown {
		return FormatOutcome{}, models.NewPipelineError(models.ErrFormatterFailed,
			"formatter returned unknown display type "+string(resp.DisplayType))
	}
	return FormatOutcome{Response: &resp}, nil
}

// formatWithScript asks the model for a formatting script over samples; the
// complete data is bound when the caller runs it.
func (f *Formatter) formatWithScript(ctx context.Context, q models.Query, artifacts []*models.StepArtifact) (FormatOutcome, error) {
	system := formatterScriptPrompt + "\n\nStep results:\n" + DescribeArtifacts(artifacts)

	var out scriptOutput
	if _, err := f.agent.Run(ctx, system, q.Sanitized, q.ProcessID, &out); err != nil {
		return FormatOutcome{}, err
	}
	script := strings.TrimSpace(out.Script)
	if script == "" {
		return FormatOutcome{}, models.NewPipelineError(models.ErrFormatterFailed,
			"formatter returned an empty script")
	}
	return FormatOutcome{Script: script}, nil
}

// fullDataJSON marshals all successful artifacts' complete data for the
// complete-mode size estimate; empty string when nothing succeeded.
func fullDataJSON(artifacts []*models.StepArtifact) string {
	data := make(map[string][]map[string]any)
	for _, a := range artifacts {
		if a.Success {
			data[a.Slot] = a.FullData
		}
	}
	if len(data) == 0 {
		return ""
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(b)
}

// humanize turns a column key into a display label: "last_login" → "Last Login".
func humanize(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '.' })
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
