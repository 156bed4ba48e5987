package api

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/agents"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/catalog"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/mirror"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/pipeline"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/sandbox"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func stubAgent(name string, responses ...string) *llm.Agent {
	return llm.NewAgent(name, "test-model", &llm.StubProvider{Responses: responses})
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		[]catalog.Endpoint{{ID: "logs-list", Entity: "logs", Operation: "list", Method: "GET", URLPattern: "/api/v1/logs"}},
		[]catalog.Table{{Name: "users", Columns: []catalog.Column{
			{Name: "id", Type: "text"}, {Name: "email", Type: "text"}, {Name: "status", Type: "text"},
		}}},
	)
	require.NoError(t, err)
	return cat
}

// newTestServer assembles the full stack with stubbed LLM stages and an
// in-memory mirror.
func newTestServer(t *testing.T, stubs map[string][]string) (*Server, *pipeline.Coordinator) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE users (id TEXT, email TEXT, status TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users VALUES ('u1', 'alice@example.com', 'ACTIVE')`)
	require.NoError(t, err)

	store, err := pipeline.NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	policy := security.NewPolicy("acme.okta.com")
	emitter := NewEmitter()
	registry := agents.NewSpecialRegistry()
	cat := testCatalog(t)

	exec := &pipeline.Executor{
		SQLGen:      agents.NewSQLGenerator(stubAgent("sqlgen", stubs["sqlgen"]...)),
		APIGen:      agents.NewAPIGenerator(stubAgent("apigen", stubs["apigen"]...)),
		Policy:      policy,
		Mirror:      mirror.NewWithDB(db),
		Sandbox:     sandbox.NewRunner("python3", 5*time.Second, 1<<20, nil),
		Store:       store,
		Sink:        emitter,
		Limits:      pipeline.SampleLimits{MaxRows: 5, MaxString: 150, MaxList: 3},
		StepTimeout: 10 * time.Second,
	}
	coord := &pipeline.Coordinator{
		Router:         agents.NewRouter(stubAgent("router", stubs["router"]...), registry),
		PrePlanner:     agents.NewPrePlanner(stubAgent("preplanner", stubs["preplanner"]...), cat),
		Planner:        agents.NewPlanner(stubAgent("planner", stubs["planner"]...)),
		Executor:       exec,
		Synth:          agents.NewSynthesizer(stubAgent("synthesis", stubs["synthesis"]...)),
		Formatter:      agents.NewFormatter(stubAgent("formatter", stubs["formatter"]...), "test-model", 1000),
		Special:        agents.NewSpecialRunner(stubAgent("special", stubs["special"]...), registry),
		Policy:         policy,
		Sandbox:        exec.Sandbox,
		Store:          store,
		Registry:       pipeline.NewRegistry(),
		Sink:           emitter,
		MaxQueryLength: 2000,
	}
	return NewServer(coord, emitter, cat, registry), coord
}

func sqlOnlyStubs() map[string][]string {
	return map[string][]string{
		"router":     {`{"flow":"SQL_ONLY","confidence":95}`},
		"preplanner": {`{"endpoints":[],"tables":["users"]}`},
		"planner": {`{"steps":[{"position":1,"tool":"sql","entity":"users","query_context":"active user emails","critical":true}],"confidence":90}`},
		"sqlgen": {`{"sql":"SELECT email FROM users WHERE status = 'ACTIVE'"}`},
	}
}

func TestStartProcess(t *testing.T) {
	srv, _ := newTestServer(t, sqlOnlyStubs())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/start-process", "application/json",
		strings.NewReader(`{"query":"list active users"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ProcessID  string `json:"process_id"`
		Status     string `json:"status"`
		Flow       string `json:"flow"`
		Confidence int    `json:"confidence"`
		Plan       struct {
			Steps []struct {
				Tool   string `json:"tool"`
				Entity string `json:"entity"`
			} `json:"steps"`
		} `json:"plan"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.ProcessID)
	assert.Equal(t, "plan_generated", body.Status)
	assert.Equal(t, "SQL_ONLY", body.Flow)
	assert.Equal(t, 90, body.Confidence)
	require.Len(t, body.Plan.Steps, 1)
	assert.Equal(t, "users", body.Plan.Steps[0].Entity)
}

func TestStartProcess_BadBody(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/start-process", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartProcess_PlanningFailure(t *testing.T) {
	srv, _ := newTestServer(t, map[string][]string{
		"router":     {`{"flow":"SQL_ONLY","confidence":95}`},
		"preplanner": {`{"endpoints":[],"tables":["users"]}`},
		"planner":    {`{"steps":[],"confidence":5}`},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/start-process", "application/json",
		strings.NewReader(`{"query":"unanswerable"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "planning_failed", body["error_code"])
	assert.NotEmpty(t, body["process_id"])
}

func TestStreamUpdates_FullLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, sqlOnlyStubs())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/start-process", "application/json",
		strings.NewReader(`{"query":"list active users"}`))
	require.NoError(t, err)
	var started struct {
		ProcessID string `json:"process_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()

	stream, err := http.Get(ts.URL + "/stream-updates/" + started.ProcessID)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Contains(t, stream.Header.Get("Content-Type"), "text/event-stream")

	var eventNames []string
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			eventNames = append(eventNames, strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		}
	}
	assert.Contains(t, eventNames, "plan_status")
	assert.Contains(t, eventNames, "step_status_update")
	require.NotEmpty(t, eventNames)
	assert.Equal(t, "final_result", eventNames[len(eventNames)-1])
}

func TestStreamUpdates_UnknownProcess(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stream-updates/no-such-id")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancel_UnknownProcess(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/cancel/no-such-id", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancel_AfterCompletionConflicts(t *testing.T) {
	srv, coord := newTestServer(t, sqlOnlyStubs())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/start-process", "application/json",
		strings.NewReader(`{"query":"list active users"}`))
	require.NoError(t, err)
	var started struct {
		ProcessID string `json:"process_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()

	proc, ok := coord.Registry.Get(started.ProcessID)
	require.True(t, ok)
	coord.Run(proc)

	cancelResp, err := http.Post(ts.URL+"/cancel/"+started.ProcessID, "application/json", nil)
	require.NoError(t, err)
	defer cancelResp.Body.Close()
	assert.Equal(t, http.StatusConflict, cancelResp.StatusCode)
}

func TestAvailableTools(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/available-tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
		Endpoints []struct {
			Entity string `json:"entity"`
		} `json:"endpoints"`
		SpecialTools []any `json:"special_tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tables, 1)
	assert.Equal(t, "users", body.Tables[0].Name)
	require.Len(t, body.Endpoints, 1)
	assert.Equal(t, "logs", body.Endpoints[0].Entity)
	assert.NotNil(t, body.SpecialTools)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
