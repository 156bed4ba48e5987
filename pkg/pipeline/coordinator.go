package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/agents"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/sanitize"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/sandbox"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/security"
)

// Coordinator drives a query end to end: sanitize, route, plan, execute,
// synthesize, format, and emit the terminal event. Planning (Prepare) is
// synchronous with the start request; execution (Run) happens once, when the
// first event stream attaches.
type Coordinator struct {
	Router     *agents.Router
	PrePlanner *agents.PrePlanner
	Planner    *agents.Planner
	Executor   *Executor
	Synth      *agents.Synthesizer
	Formatter  *agents.Formatter
	Special    *agents.SpecialRunner
	Policy     *security.Policy
	Sandbox    *sandbox.Runner
	Store      *ArtifactStore
	Registry   *Registry
	Sink       EventSink

	MaxQueryLength int

	// ScriptOnly stops the run after synthesis: generated code is written to
	// the scripts directory but the synthesis script and the formatter never
	// execute. Used by the CLI's --script-only mode.
	ScriptOnly bool
}

// Prepare sanitizes and plans the query synchronously. The returned process
// is registered and in plan_generated state; execution has not started.
func (c *Coordinator) Prepare(ctx context.Context, raw string) (*Process, error) {
	cleaned, err := sanitize.Sanitize(raw, c.MaxQueryLength)
	if err != nil {
		return nil, err
	}
	q := models.NewQuery(raw, cleaned.Text, cleaned.Warnings)
	proc := NewProcess(q)
	c.Registry.Register(proc)

	if err := c.prepare(ctx, proc); err != nil {
		c.finishWithError(proc, err)
		return proc, err
	}
	return proc, nil
}

func (c *Coordinator) prepare(ctx context.Context, proc *Process) error {
	if err := proc.Transition(models.StatusPlanGeneration); err != nil {
		return err
	}
	c.emitPlanStatus(proc, models.StatusPlanGeneration, "analyzing query")

	decision, err := c.Router.Route(ctx, proc.Query)
	if err != nil {
		return err
	}
	proc.Flow = string(decision.Flow)
	proc.Special = decision.SpecialTool

	if decision.Flow != agents.FlowSpecial {
		narrowed, err := c.PrePlanner.Narrow(ctx, proc.Query, decision.Flow)
		if err != nil {
			return err
		}
		proc.Narrowed = narrowed

		plan, err := c.Planner.Plan(ctx, proc.Query, narrowed)
		if err != nil {
			return err
		}
		proc.Plan = plan
	}

	if err := proc.Transition(models.StatusPlanGenerated); err != nil {
		return err
	}
	c.emitPlanStatus(proc, models.StatusPlanGenerated, "plan ready")
	return nil
}

// Run executes a prepared process to its terminal state. It is idempotent:
// only the first caller actually runs; later callers return immediately.
func (c *Coordinator) Run(proc *Process) {
	ctx, cancel := context.WithCancel(context.Background())
	if !proc.MarkStarted(cancel) {
		cancel()
		return
	}
	defer cancel()

	// A cancel accepted between Prepare and the first stream attach must win:
	// no step may start after it.
	if proc.Cancelled() {
		c.finishWithError(proc, models.NewPipelineError(models.ErrCancelled,
			"cancelled before execution started"))
		return
	}

	if err := proc.Transition(models.StatusRunning); err != nil {
		slog.Warn("Process not runnable", "process_id", proc.Query.ProcessID, "error", err)
		return
	}
	c.emitPlanStatus(proc, models.StatusRunning, "executing plan")

	resp, degraded, err := c.run(ctx, proc)
	if err != nil {
		c.finishWithError(proc, err)
		return
	}

	status := models.StatusCompleted
	if degraded {
		status = models.StatusCompletedWithErrors
	}
	if err := proc.Transition(status); err != nil {
		slog.Warn("Terminal transition rejected", "process_id", proc.Query.ProcessID, "error", err)
		return
	}
	payload := models.FinalResultPayload{
		BasePayload:   basePayload(models.EventTypeFinalResult, proc.Query.ProcessID),
		Status:        status,
		ResultContent: resp.Content,
		DisplayType:   resp.DisplayType,
		Metadata:      resp.Metadata,
	}
	proc.SetTerminal(TerminalEvent{Type: models.EventTypeFinalResult, Payload: payload})
	c.Sink.Publish(proc.Query.ProcessID, models.EventTypeFinalResult, payload)
	slog.Info("Query complete", "process_id", proc.Query.ProcessID, "status", status)
}

func (c *Coordinator) run(ctx context.Context, proc *Process) (*models.FormattedResponse, bool, error) {
	q := proc.Query

	if proc.Flow == string(agents.FlowSpecial) {
		resp, err := c.Special.Run(ctx, q, proc.Special)
		return resp, false, err
	}

	sctx, err := c.Executor.Execute(ctx, q, proc.Plan, proc.Narrowed)
	if err != nil {
		return nil, false, err
	}

	artifacts := sctx.Artifacts()
	successful := make([]*models.StepArtifact, 0, len(artifacts))
	degraded := false
	for _, a := range artifacts {
		if a.Success {
			successful = append(successful, a)
		} else {
			degraded = true
		}
	}
	if len(successful) == 0 {
		last := artifacts[len(artifacts)-1]
		return nil, false, models.NewPipelineError(last.ErrorCode, "no step produced data: "+last.Error)
	}

	if c.ScriptOnly {
		resp, err := c.scriptOnly(ctx, q, proc, successful)
		return resp, degraded, err
	}

	finalArtifacts := successful
	var resp *models.FormattedResponse

	// Single-step plans go straight to the formatter; synthesis exists to
	// combine multiple result sets.
	if len(proc.Plan.Steps) > 1 {
		resp, finalArtifacts, err = c.synthesize(ctx, q, successful)
		if err != nil {
			return nil, degraded, err
		}
	}

	if resp == nil {
		resp, err = c.format(ctx, q, finalArtifacts)
		if err != nil {
			return nil, degraded, err
		}
	}

	if rows, ok := tableRows(resp); ok {
		if err := c.Store.WriteResultCSV(q.ProcessID, rows, nil); err != nil {
			slog.Warn("Result CSV persistence failed", "process_id", q.ProcessID, "error", err)
		}
	}
	return resp, degraded, nil
}

// scriptOnly ends the run after synthesis. The synthesis script, when there
// is one, is validated and written to the scripts directory alongside the
// per-step code, but nothing past the executor runs.
func (c *Coordinator) scriptOnly(ctx context.Context, q models.Query, proc *Process, artifacts []*models.StepArtifact) (*models.FormattedResponse, error) {
	if len(proc.Plan.Steps) > 1 {
		result, err := c.Synth.Synthesize(ctx, q, artifacts)
		if err != nil {
			return nil, err
		}
		if result.Kind == "script" {
			if res := c.Policy.ValidateCode(result.Script); !res.OK {
				return nil, models.NewPipelineError(models.ErrUnsafeCode,
					fmt.Sprintf("synthesis script rejected (%s risk): %s", res.Risk, strings.Join(res.Violations, "; ")))
			}
			if err := c.Store.WriteScript(q.ProcessID, "synthesis", result.Script); err != nil {
				slog.Warn("Script persistence failed", "process_id", q.ProcessID, "error", err)
			}
		}
	}
	return &models.FormattedResponse{
		DisplayType: models.DisplayMarkdown,
		Content:     "Generated code written to the scripts directory; execution skipped.",
	}, nil
}

// synthesize runs the synthesis stage over the step samples. It returns
// either a finished response (direct narrative answer, or a script that
// produced a display envelope) or the replacement artifact set for the
// formatter.
func (c *Coordinator) synthesize(ctx context.Context, q models.Query, artifacts []*models.StepArtifact) (*models.FormattedResponse, []*models.StepArtifact, error) {
	result, err := c.Synth.Synthesize(ctx, q, artifacts)
	if err != nil {
		return nil, nil, err
	}

	if result.Kind == "answer" {
		return &models.FormattedResponse{
			DisplayType: models.DisplayMarkdown,
			Content:     result.Answer,
		}, nil, nil
	}

	out, err := c.runScript(ctx, q, "synthesis", result.Script, fullResultsOf(artifacts))
	if err != nil {
		return nil, nil, err
	}
	if out.Response != nil {
		return out.Response, nil, nil
	}
	combined := &models.StepArtifact{
		Slot:        "synthesis",
		Tool:        models.ToolAPI,
		FullData:    out.Rows,
		Sample:      BuildSample(out.Rows, c.Executor.Limits),
		Schema:      InferSchema(out.Rows),
		RecordCount: len(out.Rows),
		Success:     true,
	}
	if err := c.Store.Append(q.ProcessID, combined); err != nil {
		slog.Warn("Artifact persistence failed", "process_id", q.ProcessID, "slot", combined.Slot, "error", err)
	}
	return nil, []*models.StepArtifact{combined}, nil
}

// format runs the formatting stage, executing its script when it emits one.
func (c *Coordinator) format(ctx context.Context, q models.Query, artifacts []*models.StepArtifact) (*models.FormattedResponse, error) {
	outcome, err := c.Formatter.Format(ctx, q, artifacts)
	if err != nil {
		return nil, err
	}
	if outcome.Response != nil {
		return outcome.Response, nil
	}

	out, err := c.runScript(ctx, q, "formatter", outcome.Script, fullResultsOf(artifacts))
	if err != nil {
		return nil, err
	}
	if out.Response == nil {
		return nil, models.NewPipelineError(models.ErrFormatterFailed,
			"formatter script did not produce a display envelope")
	}
	return out.Response, nil
}

// runScript validates and executes a generated script with the given data
// bound to full_results. Validation failure means the script never runs.
func (c *Coordinator) runScript(ctx context.Context, q models.Query, label, script string, fullResults map[string][]map[string]any) (*sandbox.Output, error) {
	if res := c.Policy.ValidateCode(script); !res.OK {
		return nil, models.NewPipelineError(models.ErrUnsafeCode,
			fmt.Sprintf("%s script rejected (%s risk): %s", label, res.Risk, strings.Join(res.Violations, "; ")))
	}
	if err := c.Store.WriteScript(q.ProcessID, label, script); err != nil {
		slog.Warn("Script persistence failed", "process_id", q.ProcessID, "error", err)
	}
	return c.Sandbox.Run(ctx, q.ProcessID, script, fullResults)
}

// finishWithError drives the process to its failure terminal state and emits
// the matching event with a user-safe message.
func (c *Coordinator) finishWithError(proc *Process, err error) {
	id := proc.Query.ProcessID
	code := models.ErrSandboxFailed
	var perr *models.PipelineError
	if errors.As(err, &perr) {
		code = perr.Code
	}
	slog.Error("Query failed", "process_id", id, "code", code, "error", err)

	if code == models.ErrCancelled {
		if terr := proc.Transition(models.StatusCancelled); terr != nil {
			return
		}
		payload := models.PlanCancelledPayload{
			BasePayload: basePayload(models.EventTypePlanCancelled, id),
			Message:     models.UserMessage(code),
		}
		proc.SetTerminal(TerminalEvent{Type: models.EventTypePlanCancelled, Payload: payload})
		c.Sink.Publish(id, models.EventTypePlanCancelled, payload)
		return
	}

	if terr := proc.Transition(models.StatusError); terr != nil {
		return
	}
	payload := models.PlanErrorPayload{
		BasePayload: basePayload(models.EventTypePlanError, id),
		Status:      models.StatusError,
		Message:     models.UserMessage(code),
	}
	proc.SetTerminal(TerminalEvent{Type: models.EventTypePlanError, Payload: payload})
	c.Sink.Publish(id, models.EventTypePlanError, payload)
}

// Cancel requests cancellation of an in-flight process.
func (c *Coordinator) Cancel(processID string) bool {
	proc, ok := c.Registry.Get(processID)
	if !ok || proc.Status().Terminal() {
		return false
	}
	proc.Cancel()
	return true
}

func (c *Coordinator) emitPlanStatus(proc *Process, status models.ProcessStatus, msg string) {
	c.Sink.Publish(proc.Query.ProcessID, models.EventTypePlanStatus, models.PlanStatusPayload{
		BasePayload: basePayload(models.EventTypePlanStatus, proc.Query.ProcessID),
		Status:      status,
		Message:     msg,
	})
}

// fullResultsOf builds the slot → complete-data map for a script run.
func fullResultsOf(artifacts []*models.StepArtifact) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(artifacts))
	for _, a := range artifacts {
		out[a.Slot] = a.FullData
	}
	return out
}

// tableRows extracts row maps from a table response for CSV persistence.
func tableRows(resp *models.FormattedResponse) ([]map[string]any, bool) {
	if resp.DisplayType != models.DisplayTable {
		return nil, false
	}
	switch content := resp.Content.(type) {
	case []map[string]any:
		return content, true
	case []any:
		rows := make([]map[string]any, 0, len(content))
		for _, item := range content {
			if m, ok := item.(map[string]any); ok {
				rows = append(rows, m)
			}
		}
		return rows, len(rows) > 0
	}
	return nil, false
}
