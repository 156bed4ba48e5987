package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() *Policy {
	return NewPolicy("acme.okta.com")
}

func TestValidateCode_CleanScript(t *testing.T) {
	src := `
results = []
for user in full_results["1_sql"]:
    if user["status"] == "ACTIVE":
        results.append({"id": user["id"], "email": user["email"]})
print_query_results(results)
`
	res := testPolicy().ValidateCode(src)
	assert.True(t, res.OK)
	assert.Equal(t, RiskNone, res.Risk)
	assert.Empty(t, res.Violations)
}

func TestValidateCode_ForbiddenConstructs(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
		risk Risk
	}{
		{"file open", `data = open("/etc/passwd").read()`, "file open", RiskCritical},
		{"import", "import os\nprint(os.getcwd())", "module import", RiskHigh},
		{"eval", `eval("1+1")`, "eval call", RiskCritical},
		{"exec", `exec(code)`, "exec call", RiskCritical},
		{"subprocess", `subprocess.run(["ls"])`, "subprocess launch", RiskCritical},
		{"os environ", `token = os.environ["SECRET"]`, "raw environment access", RiskHigh},
		{"dunder", `x.__class__.__bases__`, "dunder identifier", RiskHigh},
		{"def", "def helper():\n    pass", "function or class definition", RiskHigh},
		{"raw network", `requests.post(url)`, "raw network access", RiskCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := testPolicy().ValidateCode(tt.src)
			require.False(t, res.OK)
			assert.Contains(t, res.Violations, tt.want)
			assert.Equal(t, tt.risk, res.Risk)
		})
	}
}

func TestValidateCode_EnvAllowlist(t *testing.T) {
	res := testPolicy().ValidateCode(`url = okta_env("OKTA_CLIENT_ORGURL")`)
	assert.True(t, res.OK)

	res = testPolicy().ValidateCode(`secret = okta_env("AWS_SECRET_KEY")`)
	require.False(t, res.OK)
	assert.Contains(t, res.Violations[0], "AWS_SECRET_KEY")
}

func TestValidateURL(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"tenant api path", "https://acme.okta.com/api/v1/users", true},
		{"oauth path", "https://acme.okta.com/oauth2/v1/keys", true},
		{"well-known", "https://acme.okta.com/.well-known/openid-configuration", true},
		{"http scheme", "http://acme.okta.com/api/v1/users", false},
		{"wrong host", "https://evil.example.com/api/v1/users", false},
		{"localhost", "https://localhost/api/v1/users", false},
		{"shortener", "https://bit.ly/3xyz", false},
		{"path traversal", "https://acme.okta.com/api/v1/../../admin", false},
		{"disallowed prefix", "https://acme.okta.com/admin/users", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.ValidateURL(tt.url)
			assert.Equal(t, tt.ok, res.OK, "violations: %v", res.Violations)
		})
	}
}

func TestValidateHTTPMethod(t *testing.T) {
	p := testPolicy()
	assert.True(t, p.ValidateHTTPMethod("GET").OK)
	assert.True(t, p.ValidateHTTPMethod("get").OK)
	assert.False(t, p.ValidateHTTPMethod("POST").OK)
	assert.False(t, p.ValidateHTTPMethod("DELETE").OK)

	p.AllowWriteMethods = true
	assert.True(t, p.ValidateHTTPMethod("POST").OK)
}

func TestValidateDataOp(t *testing.T) {
	p := testPolicy()
	for _, op := range []string{"filter", "group_by", "aggregate", "select", "sort", "join"} {
		assert.True(t, p.ValidateDataOp(op).OK, op)
	}
	for _, op := range []string{"open", "exec", "spawn", "request"} {
		res := p.ValidateDataOp(op)
		assert.False(t, res.OK, op)
		assert.Equal(t, RiskCritical, res.Risk, op)
	}
	res := p.ValidateDataOp("frobnicate")
	assert.False(t, res.OK)
	assert.Equal(t, RiskLow, res.Risk)
}
