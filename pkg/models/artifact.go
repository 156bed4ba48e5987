package models

// ColumnSchema describes one field of a step's result set with its inferred type.
type ColumnSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// StepArtifact holds everything a completed (or failed) step leaves behind.
// FullData stays in memory for later scripts; Sample is the size-bounded
// projection that is the only thing shown to subsequent LLM calls.
type StepArtifact struct {
	Slot        string           `json:"slot"`
	Tool        Tool             `json:"tool"`
	FullData    []map[string]any `json:"-"`
	Sample      []map[string]any `json:"sample,omitempty"`
	Schema      []ColumnSchema   `json:"schema,omitempty"`
	RecordCount int              `json:"record_count"`
	Success     bool             `json:"success"`
	Error       string           `json:"error,omitempty"`
	ErrorCode   ErrorCode        `json:"error_code,omitempty"`
	ElapsedMS   int64            `json:"elapsed_ms"`
}

// StepContext is the grow-only bag of inter-step artifacts, keyed by step
// slot ("2_api", "3_sql"). Owned by the executor for the lifetime of one
// query; slot names are stable within that query.
type StepContext struct {
	artifacts map[string]*StepArtifact
	order     []string
}

// NewStepContext returns an empty StepContext.
func NewStepContext() *StepContext {
	return &StepContext{artifacts: make(map[string]*StepArtifact)}
}

// Put stores an artifact under its slot. Slots are written once, in step order.
func (c *StepContext) Put(a *StepArtifact) {
	if _, exists := c.artifacts[a.Slot]; !exists {
		c.order = append(c.order, a.Slot)
	}
	c.artifacts[a.Slot] = a
}

// Get returns the artifact for a slot, or nil.
func (c *StepContext) Get(slot string) *StepArtifact {
	return c.artifacts[slot]
}

// Slots returns slot keys in insertion (execution) order.
func (c *StepContext) Slots() []string {
	return append([]string(nil), c.order...)
}

// Artifacts returns all artifacts in execution order.
func (c *StepContext) Artifacts() []*StepArtifact {
	out := make([]*StepArtifact, 0, len(c.order))
	for _, slot := range c.order {
		out = append(out, c.artifacts[slot])
	}
	return out
}

// FullResults returns the slot → full-data map handed to generated scripts.
func (c *StepContext) FullResults() map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(c.order))
	for _, slot := range c.order {
		out[slot] = c.artifacts[slot].FullData
	}
	return out
}
