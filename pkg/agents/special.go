package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/okta"
)

// Param describes one input a special tool extracts from the question.
type Param struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// SpecialTool is a self-contained analysis that bypasses the planning
// pipeline entirely: the router picks it by name, an LLM call extracts its
// parameters, then Run produces the final display envelope directly.
type SpecialTool interface {
	Name() string
	Description() string
	Params() []Param
	Run(ctx context.Context, params map[string]string) (*models.FormattedResponse, error)
}

// SpecialRegistry holds the registered tools. Registration happens at
// startup; lookups during query handling need no locking.
type SpecialRegistry struct {
	tools map[string]SpecialTool
}

// NewSpecialRegistry returns an empty registry.
func NewSpecialRegistry() *SpecialRegistry {
	return &SpecialRegistry{tools: make(map[string]SpecialTool)}
}

// Register adds a tool; duplicate names are a programming error.
func (r *SpecialRegistry) Register(t SpecialTool) error {
	if _, dup := r.tools[t.Name()]; dup {
		return fmt.Errorf("special tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get looks a tool up by name.
func (r *SpecialRegistry) Get(name string) (SpecialTool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns registered tools sorted by name.
func (r *SpecialRegistry) List() []SpecialTool {
	out := make([]SpecialTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Describe renders the registry for the router prompt.
func (r *SpecialRegistry) Describe() string {
	var b strings.Builder
	for _, t := range r.List() {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
	}
	return b.String()
}

// SpecialRunner drives one special-tool invocation: parameter extraction via
// the LLM, then the tool itself.
type SpecialRunner struct {
	agent    *llm.Agent
	registry *SpecialRegistry
}

// NewSpecialRunner builds the special-tool stage.
func NewSpecialRunner(agent *llm.Agent, registry *SpecialRegistry) *SpecialRunner {
	return &SpecialRunner{agent: agent, registry: registry}
}

// extractOutput is the parameter-extraction structured output.
type extractOutput struct {
	Params map[string]string `json:"params"`
}

// Run extracts the tool's parameters from the question and invokes it.
// Missing required parameters fail with planning_failed so the client can
// reprompt the user.
func (s *SpecialRunner) Run(ctx context.Context, q models.Query, toolName string) (*models.FormattedResponse, error) {
	tool, ok := s.registry.Get(toolName)
	if !ok {
		return nil, models.NewPipelineError(models.ErrPlanningFailed,
			fmt.Sprintf("unknown special tool %q", toolName))
	}

	var b strings.Builder
	b.WriteString(paramExtractPrompt)
	fmt.Fprintf(&b, "\n\nTool: %s: %s\nParameters:\n", tool.Name(), tool.Description())
	for _, p := range tool.Params() {
		req := "optional"
		if p.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", p.Name, req, p.Description)
	}

	var out extractOutput
	if _, err := s.agent.Run(ctx, b.String(), q.Sanitized, q.ProcessID, &out); err != nil {
		return nil, err
	}
	for _, p := range tool.Params() {
		if p.Required && strings.TrimSpace(out.Params[p.Name]) == "" {
			return nil, models.NewPipelineError(models.ErrPlanningFailed,
				fmt.Sprintf("could not determine %q from the question", p.Name))
		}
	}
	return tool.Run(ctx, out.Params)
}

// AppAccessTool answers "can user X access application Y" from live tenant
// state: resolve the user, list their assigned app links, match by label.
type AppAccessTool struct {
	client *okta.Client
}

// NewAppAccessTool builds the built-in access-check tool.
func NewAppAccessTool(client *okta.Client) *AppAccessTool {
	return &AppAccessTool{client: client}
}

func (t *AppAccessTool) Name() string { return "CanUserAccessApp" }

func (t *AppAccessTool) Description() string {
	return "Checks whether a specific user can access a specific application right now, from live tenant state."
}

func (t *AppAccessTool) Params() []Param {
	return []Param{
		{Name: "user", Description: "the user's login or email", Required: true},
		{Name: "app", Description: "the application's name or label", Required: true},
	}
}

// appLink is the subset of the app-links resource the tool reads.
type appLink struct {
	Label   string `json:"label"`
	AppName string `json:"appName"`
}

// Run resolves the user and scans their app links for a label match.
func (t *AppAccessTool) Run(ctx context.Context, params map[string]string) (*models.FormattedResponse, error) {
	login := strings.TrimSpace(params["user"])
	app := strings.TrimSpace(params["app"])

	var user struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Profile struct {
			Login string `json:"login"`
		} `json:"profile"`
	}
	if err := t.client.Get(ctx, "/api/v1/users/"+url.PathEscape(login), nil, &user); err != nil {
		return nil, fmt.Errorf("resolving user %q: %w", login, err)
	}

	raw, err := t.client.GetPaginated(ctx, "/api/v1/users/"+url.PathEscape(user.ID)+"/appLinks", nil)
	if err != nil {
		return nil, fmt.Errorf("listing app links for %q: %w", login, err)
	}

	var matched []string
	for _, item := range raw {
		var link appLink
		if err := json.Unmarshal(item, &link); err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(link.Label), strings.ToLower(app)) ||
			strings.Contains(strings.ToLower(link.AppName), strings.ToLower(app)) {
			matched = append(matched, link.Label)
		}
	}

	var md strings.Builder
	if len(matched) > 0 {
		fmt.Fprintf(&md, "**Yes.** `%s` (status %s) can access:\n\n", user.Profile.Login, user.Status)
		for _, label := range matched {
			fmt.Fprintf(&md, "- %s\n", label)
		}
	} else {
		fmt.Fprintf(&md, "**No.** `%s` (status %s) has no assigned application matching %q.\n",
			user.Profile.Login, user.Status, app)
	}
	return &models.FormattedResponse{
		DisplayType: models.DisplayMarkdown,
		Content:     md.String(),
		Metadata:    models.ResponseMetadata{TotalRecords: len(matched)},
	}, nil
}
