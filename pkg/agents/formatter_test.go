package agents

import (
	"context"
	"testing"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlArtifact(rows []map[string]any, schema []models.ColumnSchema) *models.StepArtifact {
	return &models.StepArtifact{
		Slot:        "1_sql",
		Tool:        models.ToolSQL,
		FullData:    rows,
		Sample:      rows,
		Schema:      schema,
		RecordCount: len(rows),
		Success:     true,
	}
}

func TestFormat_FastPathSkipsModel(t *testing.T) {
	agent, stub := stubAgent("formatter") // no canned responses: a model call would fail
	f := NewFormatter(agent, "test-model", 1000)

	rows := []map[string]any{{"email": "alice@example.com", "status": "ACTIVE"}}
	schema := []models.ColumnSchema{{Name: "email", Type: "text"}, {Name: "status", Type: "text"}}

	out, err := f.Format(context.Background(), testQuery("list active users"), []*models.StepArtifact{sqlArtifact(rows, schema)})
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	assert.Empty(t, stub.Requests)

	assert.Equal(t, models.DisplayTable, out.Response.DisplayType)
	assert.Equal(t, 1, out.Response.Metadata.TotalRecords)
	require.Len(t, out.Response.Metadata.Headers, 2)
	assert.Equal(t, "email", out.Response.Metadata.Headers[0].Value)
	assert.Equal(t, "Email", out.Response.Metadata.Headers[0].Text)
}

func TestFormat_FastPathZeroRows(t *testing.T) {
	agent, _ := stubAgent("formatter")
	f := NewFormatter(agent, "test-model", 1000)

	out, err := f.Format(context.Background(), testQuery("list deprovisioned users"),
		[]*models.StepArtifact{sqlArtifact(nil, []models.ColumnSchema{{Name: "email", Type: "text"}})})
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	assert.Equal(t, 0, out.Response.Metadata.TotalRecords)
	// Content is an empty array, not null.
	assert.NotNil(t, out.Response.Content)
}

func TestFormat_AggregationQueryUsesModel(t *testing.T) {
	agent, stub := stubAgent("formatter",
		`{"display_type":"markdown","content":"There are 3 users.","metadata":{"total_records":3}}`)
	f := NewFormatter(agent, "test-model", 100000)

	rows := []map[string]any{{"n": 3}}
	out, err := f.Format(context.Background(), testQuery("how many users are active"),
		[]*models.StepArtifact{sqlArtifact(rows, []models.ColumnSchema{{Name: "n", Type: "integer"}})})
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	assert.Equal(t, models.DisplayMarkdown, out.Response.DisplayType)
	require.Len(t, stub.Requests, 1)
	// Complete mode: the model saw the whole dataset.
	assert.Contains(t, stub.Requests[0].System, `"n":3`)
}

func TestFormat_SummaryQueryUsesModel(t *testing.T) {
	agent, stub := stubAgent("formatter",
		`{"display_type":"markdown","content":"One active user.","metadata":{"total_records":1}}`)
	f := NewFormatter(agent, "test-model", 100000)

	rows := []map[string]any{{"email": "alice@example.com"}}
	out, err := f.Format(context.Background(), testQuery("give me a summary of users"),
		[]*models.StepArtifact{sqlArtifact(rows, []models.ColumnSchema{{Name: "email", Type: "text"}})})
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	// Summary questions want a computed answer, not the raw rows.
	assert.Equal(t, models.DisplayMarkdown, out.Response.DisplayType)
	require.Len(t, stub.Requests, 1)
}

func TestFormat_LargeResultGetsScript(t *testing.T) {
	agent, _ := stubAgent("formatter", `{"script":"print_query_results({\"display_type\": \"table\", \"content\": [], \"metadata\": {\"total_records\": 0}})"}`)
	// Threshold of zero forces sample+code mode for any data.
	f := NewFormatter(agent, "test-model", 0)

	multi := []*models.StepArtifact{
		sqlArtifact([]map[string]any{{"id": "u1"}}, nil),
		{Slot: "2_api", Tool: models.ToolAPI, Success: true, RecordCount: 1,
			Sample: []map[string]any{{"event": "user.session.start"}}},
	}
	out, err := f.Format(context.Background(), testQuery("sessions per user"), multi)
	require.NoError(t, err)
	assert.Nil(t, out.Response)
	assert.Contains(t, out.Script, "print_query_results")
}

func TestFormat_BadDisplayTypeRejected(t *testing.T) {
	agent, _ := stubAgent("formatter", `{"display_type":"hologram","content":"x","metadata":{"total_records":0}}`)
	f := NewFormatter(agent, "test-model", 100000)

	rows := []map[string]any{{"n": 1}}
	_, err := f.Format(context.Background(), testQuery("how many groups exist"),
		[]*models.StepArtifact{sqlArtifact(rows, nil)})
	var perr *models.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrFormatterFailed, perr.Code)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Last Login", humanize("last_login"))
	assert.Equal(t, "Email", humanize("email"))
	assert.Equal(t, "Profile FirstName", humanize("profile.firstName"))
}
