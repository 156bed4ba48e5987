// Package sandbox executes validated generated scripts in a separate OS
// process with a restricted environment, captured stdout, a wall-clock
// timeout, and an output size ceiling.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// Markers framing the JSON result block on stdout. Anything outside the
// frame is treated as debug log, not data.
const (
	resultMarker = "QUERY RESULTS"
	endMarker    = "===="
)

// Runner executes generated scripts.
type Runner struct {
	PythonBin string
	Timeout   time.Duration
	MaxOutput int
	// Env holds the preset environment keys exposed to scripts
	// (tenant URL and token; everything else is withheld).
	Env map[string]string
	// WorkDir holds per-run temp files (full-results JSON).
	WorkDir string
}

// NewRunner builds a Runner with the given limits.
func NewRunner(pythonBin string, timeout time.Duration, maxOutput int, env map[string]string) *Runner {
	return &Runner{
		PythonBin: pythonBin,
		Timeout:   timeout,
		MaxOutput: maxOutput,
		Env:       env,
		WorkDir:   os.TempDir(),
	}
}

// Output is the parsed result of a sandbox run. Exactly one of Rows or
// Response is set, depending on the framed JSON shape.
type Output struct {
	Rows     []map[string]any
	Response *models.FormattedResponse
	Debug    string
}

// Run executes script with the full prior-step data bound to `full_results`.
// The data crosses the process boundary through a temp file whose path is the
// only extra environment key the script sees.
func (r *Runner) Run(ctx context.Context, processID, script string, fullResults map[string][]map[string]any) (*Output, error) {
	dataPath, cleanup, err := r.writeFullResults(processID, fullResults)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrSandboxFailed, err.Error())
	}
	defer cleanup()

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.PythonBin, "-I", "-")
	cmd.Stdin = strings.NewReader(prelude + "\n" + script)
	cmd.Env = r.buildEnv(dataPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Kill the whole process group so children die with the script.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout limitedBuffer
	stdout.limit = r.MaxOutput
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if stdout.exceeded {
		return nil, models.NewPipelineError(models.ErrOutputUnparseable,
			fmt.Sprintf("script output exceeded %d bytes", r.MaxOutput))
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, models.NewPipelineError(models.ErrTimeout,
			fmt.Sprintf("script exceeded %v timeout", r.Timeout))
	}
	if ctx.Err() == context.Canceled {
		return nil, models.NewPipelineError(models.ErrCancelled, "script execution cancelled")
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, models.NewPipelineError(models.ErrSandboxFailed, truncate(detail, 2000))
	}

	return parseOutput(stdout.String())
}

// writeFullResults persists the slot → data map for the script to load.
func (r *Runner) writeFullResults(processID string, fullResults map[string][]map[string]any) (string, func(), error) {
	if fullResults == nil {
		fullResults = map[string][]map[string]any{}
	}
	data, err := json.Marshal(fullResults)
	if err != nil {
		return "", nil, fmt.Errorf("marshaling full results: %w", err)
	}
	path := filepath.Join(r.WorkDir, fmt.Sprintf("full_results_%s.json", processID))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", nil, fmt.Errorf("writing full results: %w", err)
	}
	return path, func() { os.Remove(path) }, nil
}

// buildEnv assembles the restricted environment: preset keys plus the data
// file path. The parent process environment is not inherited.
func (r *Runner) buildEnv(dataPath string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"FULL_RESULTS_PATH=" + dataPath,
	}
	for k, v := range r.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// parseOutput extracts the framed JSON block from stdout.
func parseOutput(stdout string) (*Output, error) {
	lines := strings.Split(stdout, "\n")
	var framed []string
	var debug []string
	inFrame := false
	sawFrame := false
	for _, line := range lines {
		switch {
		case !inFrame && strings.TrimSpace(line) == resultMarker:
			inFrame = true
			sawFrame = true
		case inFrame && strings.HasPrefix(strings.TrimSpace(line), endMarker):
			inFrame = false
		case inFrame:
			framed = append(framed, line)
		default:
			debug = append(debug, line)
		}
	}
	if !sawFrame {
		return nil, models.NewPipelineError(models.ErrOutputUnparseable, "no QUERY RESULTS block in script output")
	}

	payload := strings.TrimSpace(strings.Join(framed, "\n"))
	out := &Output{Debug: strings.TrimSpace(strings.Join(debug, "\n"))}

	// Array of row objects, or a formatted response envelope.
	if strings.HasPrefix(payload, "[") {
		if err := json.Unmarshal([]byte(payload), &out.Rows); err != nil {
			return nil, models.NewPipelineError(models.ErrOutputUnparseable,
				fmt.Sprintf("framed block is not a JSON array: %v", err))
		}
		return out, nil
	}
	var resp models.FormattedResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, models.NewPipelineError(models.ErrOutputUnparseable,
			fmt.Sprintf("framed block is not valid JSON: %v", err))
	}
	out.Response = &resp
	return out, nil
}

// limitedBuffer accumulates up to limit bytes and flags overflow.
type limitedBuffer struct {
	buf      bytes.Buffer
	limit    int
	exceeded bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit > 0 && b.buf.Len()+len(p) > b.limit {
		b.exceeded = true
		// Report success so the subprocess is not broken mid-write; the
		// overflow flag fails the run afterwards.
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string { return b.buf.String() }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
