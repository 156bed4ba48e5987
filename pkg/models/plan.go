package models

import "fmt"

// Tool identifies which executor a step runs on.
type Tool string

// Step tool constants.
const (
	ToolSQL Tool = "sql"
	ToolAPI Tool = "api"
)

// Valid reports whether the tool is a known discriminator value.
func (t Tool) Valid() bool {
	return t == ToolSQL || t == ToolAPI
}

// Step is one entry of a plan. The Tool field discriminates between SQL steps
// (Entity names a table or node) and API steps (Entity + Operation name an
// endpoint in the catalog). A step carries no generated code; code is
// generated during execution.
type Step struct {
	Position     int    `json:"position"`
	Tool         Tool   `json:"tool"`
	Entity       string `json:"entity"`
	Operation    string `json:"operation,omitempty"`
	QueryContext string `json:"query_context"`
	Critical     bool   `json:"critical"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// Slot returns the StepContext key for this step, e.g. "2_api".
func (s Step) Slot() string {
	return fmt.Sprintf("%d_%s", s.Position, s.Tool)
}

// Plan is the ordered program produced by the planner. Step order is the
// execution order.
type Plan struct {
	Steps      []Step `json:"steps"`
	Reasoning  string `json:"reasoning,omitempty"`
	Confidence int    `json:"confidence"`
}

// Validate checks structural invariants: at least one step, known tool
// discriminators, and positions forming the sequence 1..N.
func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	for i, s := range p.Steps {
		if !s.Tool.Valid() {
			return fmt.Errorf("step %d: unknown tool %q", i+1, s.Tool)
		}
		if s.Position != i+1 {
			return fmt.Errorf("step %d: position %d out of order", i+1, s.Position)
		}
		if s.Entity == "" {
			return fmt.Errorf("step %d: missing entity", i+1)
		}
		if s.Tool == ToolAPI && s.Operation == "" {
			return fmt.Errorf("step %d: api step missing operation", i+1)
		}
	}
	return nil
}
