package agents

import (
	"context"
	"testing"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubAgent(name string, responses ...string) (*llm.Agent, *llm.StubProvider) {
	stub := &llm.StubProvider{Responses: responses}
	return llm.NewAgent(name, "test-model", stub), stub
}

func testQuery(text string) models.Query {
	return models.NewQuery(text, text, nil)
}

type fakeTool struct{ name string }

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "a test tool" }
func (f *fakeTool) Params() []Param     { return nil }
func (f *fakeTool) Run(context.Context, map[string]string) (*models.FormattedResponse, error) {
	return &models.FormattedResponse{DisplayType: models.DisplayMarkdown, Content: "ok"}, nil
}

func TestRoute_SQLOnly(t *testing.T) {
	agent, stub := stubAgent("router", `{"flow":"SQL_ONLY","confidence":90}`)
	r := NewRouter(agent, NewSpecialRegistry())

	d, err := r.Route(context.Background(), testQuery("list all locked out users"))
	require.NoError(t, err)
	assert.Equal(t, FlowSQLOnly, d.Flow)
	require.Len(t, stub.Requests, 1)
	assert.True(t, stub.Requests[0].JSONMode)
}

func TestRoute_SpecialToolMustExist(t *testing.T) {
	agent, _ := stubAgent("router", `{"flow":"SPECIAL","special_tool":"NoSuchTool"}`)
	r := NewRouter(agent, NewSpecialRegistry())

	_, err := r.Route(context.Background(), testQuery("do the thing"))
	var perr *models.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrPlanningFailed, perr.Code)
}

func TestRoute_SpecialToolResolved(t *testing.T) {
	reg := NewSpecialRegistry()
	require.NoError(t, reg.Register(&fakeTool{name: "CanUserAccessApp"}))

	agent, stub := stubAgent("router", `{"flow":"SPECIAL","special_tool":"CanUserAccessApp","confidence":95}`)
	r := NewRouter(agent, reg)

	d, err := r.Route(context.Background(), testQuery("can alice access salesforce"))
	require.NoError(t, err)
	assert.Equal(t, "CanUserAccessApp", d.SpecialTool)
	// The registry's tools are offered to the model by name.
	assert.Contains(t, stub.Requests[0].System, "CanUserAccessApp")
}

func TestRoute_UnknownFlowRejected(t *testing.T) {
	agent, _ := stubAgent("router", `{"flow":"GRAPHQL_ONLY"}`)
	r := NewRouter(agent, NewSpecialRegistry())

	_, err := r.Route(context.Background(), testQuery("anything"))
	var perr *models.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrPlanningFailed, perr.Code)
}

func TestRoute_DeterministicUnderFixedProvider(t *testing.T) {
	// Same canned response, same decision, both times.
	for i := 0; i < 2; i++ {
		agent, _ := stubAgent("router", `{"flow":"SQL_PLUS_API","confidence":80}`)
		r := NewRouter(agent, NewSpecialRegistry())
		d, err := r.Route(context.Background(), testQuery("who logged in during the last hour"))
		require.NoError(t, err)
		assert.Equal(t, FlowSQLPlusAPI, d.Flow)
	}
}
