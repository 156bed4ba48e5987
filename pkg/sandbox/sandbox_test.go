package sandbox

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirePython(t *testing.T) string {
	t.Helper()
	bin, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	return bin
}

func testRunner(t *testing.T) *Runner {
	return NewRunner(requirePython(t), 30*time.Second, 1<<20, map[string]string{
		"OKTA_CLIENT_ORGURL": "https://acme.okta.com",
		"OKTA_API_TOKEN":     "test-token",
	})
}

func TestRun_RowArrayOutput(t *testing.T) {
	r := testRunner(t)

	script := `
rows = [{"id": "u1", "email": "alice@example.com"}, {"id": "u2", "email": "bob@example.com"}]
print_query_results(rows)
`
	out, err := r.Run(context.Background(), "p1", script, nil)
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "alice@example.com", out.Rows[0]["email"])
	assert.Nil(t, out.Response)
}

func TestRun_FullResultsBinding(t *testing.T) {
	r := testRunner(t)

	full := map[string][]map[string]any{
		"1_sql": {{"id": "u1", "status": "ACTIVE"}, {"id": "u2", "status": "SUSPENDED"}},
	}
	script := `
active = [row for row in full_results["1_sql"] if row["status"] == "ACTIVE"]
print_query_results(active)
`
	out, err := r.Run(context.Background(), "p2", script, full)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "u1", out.Rows[0]["id"])
}

func TestRun_FormattedResponseOutput(t *testing.T) {
	r := testRunner(t)

	script := `
print_query_results({
    "display_type": "table",
    "content": [{"n": 3}],
    "metadata": {"headers": [{"value": "n", "text": "Count"}], "total_records": 1},
})
`
	out, err := r.Run(context.Background(), "p3", script, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	assert.Equal(t, models.DisplayTable, out.Response.DisplayType)
	assert.Equal(t, 1, out.Response.Metadata.TotalRecords)
}

func TestRun_DebugOutputOutsideFrame(t *testing.T) {
	r := testRunner(t)

	script := `
print("fetching page 1")
print_query_results([])
print("done")
`
	out, err := r.Run(context.Background(), "p4", script, nil)
	require.NoError(t, err)
	assert.Contains(t, out.Debug, "fetching page 1")
	assert.Contains(t, out.Debug, "done")
	assert.Empty(t, out.Rows)
}

func TestRun_MissingFrameIsUnparseable(t *testing.T) {
	r := testRunner(t)

	_, err := r.Run(context.Background(), "p5", `print("no frame here")`, nil)
	var perr *models.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.ErrOutputUnparseable, perr.Code)
}

func TestRun_OutputCeiling(t *testing.T) {
	r := testRunner(t)
	r.MaxOutput = 1024

	script := `
print("x" * 100000)
print_query_results([])
`
	_, err := r.Run(context.Background(), "p6", script, nil)
	var perr *models.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.ErrOutputUnparseable, perr.Code)
}

func TestRun_Timeout(t *testing.T) {
	r := testRunner(t)
	r.Timeout = 500 * time.Millisecond

	start := time.Now()
	_, err := r.Run(context.Background(), "p7", `
while True:
    pass
`, nil)
	var perr *models.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.ErrTimeout, perr.Code)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRun_ScriptErrorSurfacesStderr(t *testing.T) {
	r := testRunner(t)

	_, err := r.Run(context.Background(), "p8", `raise ValueError("boom")`, nil)
	var perr *models.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.ErrSandboxFailed, perr.Code)
	assert.Contains(t, perr.Message, "boom")
}

func TestRun_RestrictedEnvironment(t *testing.T) {
	r := testRunner(t)

	// Only preset keys are visible; the parent environment is withheld.
	script := `
import os
keys = sorted(k for k in os.environ if k not in ("PATH", "LC_CTYPE", "PYTHONIOENCODING"))
print_query_results([{"keys": ",".join(keys)}])
`
	// The prelude itself may import; generated code is blocked earlier by the
	// validator. This script bypasses validation deliberately to probe the env.
	out, err := r.Run(context.Background(), "p9", script, nil)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "FULL_RESULTS_PATH,OKTA_API_TOKEN,OKTA_CLIENT_ORGURL", out.Rows[0]["keys"])
}
