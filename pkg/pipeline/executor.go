package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/agents"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/catalog"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/mirror"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/sandbox"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/security"
)

// Executor runs plan steps in order: generate code for the step, validate it,
// execute it against the mirror or the sandbox, and record the artifact.
// Failed validation is fatal for the step with no retry; whether a failed
// step aborts the plan depends on its critical flag.
type Executor struct {
	SQLGen      *agents.SQLGenerator
	APIGen      *agents.APIGenerator
	Policy      *security.Policy
	Mirror      *mirror.Store
	Sandbox     *sandbox.Runner
	Store       *ArtifactStore
	Sink        EventSink
	Limits      SampleLimits
	StepTimeout time.Duration
}

// Execute runs all plan steps. The returned StepContext holds every artifact,
// failed steps included. A non-nil error means the plan aborted: a critical
// step failed or the run was cancelled.
func (e *Executor) Execute(ctx context.Context, q models.Query, plan models.Plan, narrowed catalog.Narrowed) (*models.StepContext, error) {
	sctx := models.NewStepContext()

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return sctx, models.NewPipelineError(models.ErrCancelled, "execution cancelled")
		}

		e.emitStep(q.ProcessID, step, models.StepRunning, "", "")
		artifact := e.runStep(ctx, q, step, narrowed, sctx)
		sctx.Put(artifact)

		if err := e.Store.Append(q.ProcessID, artifact); err != nil {
			slog.Warn("Artifact persistence failed", "process_id", q.ProcessID, "slot", artifact.Slot, "error", err)
		}

		if artifact.Success {
			e.emitStep(q.ProcessID, step, models.StepCompleted,
				fmt.Sprintf("%d records", artifact.RecordCount), "")
			continue
		}

		e.emitStep(q.ProcessID, step, models.StepErrored, "", artifact.Error)
		if artifact.ErrorCode == models.ErrCancelled {
			return sctx, models.NewPipelineError(models.ErrCancelled, "execution cancelled")
		}
		if step.Critical {
			return sctx, models.NewPipelineError(artifact.ErrorCode,
				fmt.Sprintf("critical step %d failed: %s", step.Position, artifact.Error))
		}
		slog.Info("Non-critical step failed, continuing",
			"process_id", q.ProcessID, "slot", artifact.Slot, "error", artifact.Error)
	}
	return sctx, nil
}

// runStep generates and executes one step, returning its artifact.
func (e *Executor) runStep(ctx context.Context, q models.Query, step models.Step, narrowed catalog.Narrowed, sctx *models.StepContext) *models.StepArtifact {
	artifact := &models.StepArtifact{Slot: step.Slot(), Tool: step.Tool}
	start := time.Now()
	defer func() { artifact.ElapsedMS = time.Since(start).Milliseconds() }()

	stepCtx, cancel := context.WithTimeout(ctx, e.StepTimeout)
	defer cancel()

	enhanced := agents.DescribeArtifacts(sctx.Artifacts())

	var rows []map[string]any
	var schema []models.ColumnSchema
	var err error
	switch step.Tool {
	case models.ToolSQL:
		rows, schema, err = e.runSQLStep(stepCtx, q, step, narrowed, enhanced)
	case models.ToolAPI:
		rows, err = e.runAPIStep(stepCtx, q, step, narrowed, enhanced, sctx)
		if err == nil {
			schema = InferSchema(rows)
		}
	default:
		err = models.NewPipelineError(models.ErrPlanningFailed, "unknown step tool "+string(step.Tool))
	}

	if err != nil {
		artifact.Error = err.Error()
		artifact.ErrorCode = classifyStepError(ctx, stepCtx, err)
		return artifact
	}

	artifact.Success = true
	artifact.FullData = rows
	artifact.Sample = BuildSample(rows, e.Limits)
	artifact.Schema = schema
	artifact.RecordCount = len(rows)
	return artifact
}

func (e *Executor) runSQLStep(ctx context.Context, q models.Query, step models.Step, narrowed catalog.Narrowed, enhanced string) ([]map[string]any, []models.ColumnSchema, error) {
	query, err := e.SQLGen.Generate(ctx, q, step, narrowed, enhanced)
	if err != nil {
		return nil, nil, err
	}
	if err := e.Store.WriteScript(q.ProcessID, fmt.Sprintf("step_%d", step.Position), query); err != nil {
		slog.Warn("Script persistence failed", "process_id", q.ProcessID, "error", err)
	}

	result, err := e.Mirror.Query(ctx, query)
	if err != nil {
		// The read-only guard is this step's validation gate: a statement it
		// rejects was never executed and fails like any other unsafe code.
		if errors.Is(err, mirror.ErrNotReadOnly) {
			return nil, nil, models.NewPipelineError(models.ErrUnsafeCode,
				fmt.Sprintf("step %d SQL rejected: %s", step.Position, err))
		}
		return nil, nil, models.NewPipelineError(models.ErrSQLError, err.Error())
	}
	return result.Rows, result.Schema, nil
}

func (e *Executor) runAPIStep(ctx context.Context, q models.Query, step models.Step, narrowed catalog.Narrowed, enhanced string, sctx *models.StepContext) ([]map[string]any, error) {
	script, err := e.APIGen.Generate(ctx, q, step, narrowed, enhanced)
	if err != nil {
		return nil, err
	}

	// Safety gate: code that fails validation is never executed and the
	// step is not retried.
	if res := e.Policy.ValidateCode(script); !res.OK {
		return nil, models.NewPipelineError(models.ErrUnsafeCode,
			fmt.Sprintf("step %d script rejected (%s risk): %s",
				step.Position, res.Risk, strings.Join(res.Violations, "; ")))
	}
	if err := e.Store.WriteScript(q.ProcessID, fmt.Sprintf("step_%d", step.Position), script); err != nil {
		slog.Warn("Script persistence failed", "process_id", q.ProcessID, "error", err)
	}

	out, err := e.Sandbox.Run(ctx, q.ProcessID, script, sctx.FullResults())
	if err != nil {
		return nil, err
	}
	if out.Response != nil {
		return nil, models.NewPipelineError(models.ErrOutputUnparseable,
			fmt.Sprintf("step %d returned a display envelope; steps must return rows", step.Position))
	}
	return out.Rows, nil
}

// classifyStepError maps a step failure to its error code, distinguishing
// plan cancellation from the per-step timeout.
func classifyStepError(runCtx, stepCtx context.Context, err error) models.ErrorCode {
	var perr *models.PipelineError
	if errors.As(err, &perr) {
		return perr.Code
	}
	if runCtx.Err() == context.Canceled {
		return models.ErrCancelled
	}
	if stepCtx.Err() == context.DeadlineExceeded {
		return models.ErrTimeout
	}
	return models.ErrSandboxFailed
}

func (e *Executor) emitStep(processID string, step models.Step, status models.StepStatus, summary, errMsg string) {
	e.Sink.Publish(processID, models.EventTypeStepStatus, models.StepStatusPayload{
		BasePayload:   basePayload(models.EventTypeStepStatus, processID),
		StepIndex:     step.Position,
		Status:        status,
		ResultSummary: summary,
		ErrorMessage:  errMsg,
	})
}
