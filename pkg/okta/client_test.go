package okta

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport serves canned responses keyed by full URL, recording requests.
type fakeTransport struct {
	responses map[string]fakeResponse
	requests  []string
}

type fakeResponse struct {
	status int
	body   string
	header http.Header
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req.URL.String())
	fr, ok := f.responses[req.URL.String()]
	if !ok {
		fr = fakeResponse{status: http.StatusNotFound, body: `{"errorSummary":"not found"}`}
	}
	h := fr.header
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode: fr.status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(fr.body)),
		Request:    req,
	}, nil
}

func testClient(ft *fakeTransport) *Client {
	policy := security.NewPolicy("acme.okta.com")
	return NewClient("https://acme.okta.com", "tok", policy, ft)
}

func TestGet_DecodesResource(t *testing.T) {
	ft := &fakeTransport{responses: map[string]fakeResponse{
		"https://acme.okta.com/api/v1/users/u1": {status: 200, body: `{"id":"u1","profile":{"email":"alice@example.com"}}`},
	}}
	c := testClient(ft)

	var user struct {
		ID      string `json:"id"`
		Profile struct {
			Email string `json:"email"`
		} `json:"profile"`
	}
	err := c.Get(context.Background(), "/api/v1/users/u1", nil, &user)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Profile.Email)
}

func TestGetPaginated_FollowsNextLinks(t *testing.T) {
	page2 := "https://acme.okta.com/api/v1/users?after=u2"
	ft := &fakeTransport{responses: map[string]fakeResponse{
		"https://acme.okta.com/api/v1/users?limit=2": {
			status: 200,
			body:   `[{"id":"u1"},{"id":"u2"}]`,
			header: http.Header{"Link": []string{`<` + page2 + `>; rel="next"`}},
		},
		page2: {status: 200, body: `[{"id":"u3"}]`},
	}}
	c := testClient(ft)

	items, err := c.GetPaginated(context.Background(), "/api/v1/users", url.Values{"limit": []string{"2"}})
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Len(t, ft.requests, 2)
}

func TestGet_PolicyRejectsForeignHost(t *testing.T) {
	ft := &fakeTransport{}
	policy := security.NewPolicy("acme.okta.com")
	c := NewClient("https://evil.example.com", "tok", policy, ft)

	var out any
	err := c.Get(context.Background(), "/api/v1/users", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected by policy")
	// No outbound request to a host other than the configured tenant.
	assert.Empty(t, ft.requests)
}

func TestGet_NonOKStatus(t *testing.T) {
	ft := &fakeTransport{responses: map[string]fakeResponse{
		"https://acme.okta.com/api/v1/users/missing": {status: 404, body: `{"errorSummary":"not found"}`},
	}}
	c := testClient(ft)

	var out any
	err := c.Get(context.Background(), "/api/v1/users/missing", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestNextLink(t *testing.T) {
	h := http.Header{"Link": []string{
		`<https://acme.okta.com/api/v1/users?limit=2>; rel="self"`,
		`<https://acme.okta.com/api/v1/users?after=x>; rel="next"`,
	}}
	assert.Equal(t, "https://acme.okta.com/api/v1/users?after=x", nextLink(h))
	assert.Equal(t, "", nextLink(http.Header{}))
}
