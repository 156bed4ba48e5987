// Package security statically validates LLM-emitted code and candidate URLs
// before anything is executed or contacted. Validators return a Result record
// and never fail with a Go error; the executor treats OK=false as a fatal
// step outcome with no retry.
package security

import (
	"net/url"
	"regexp"
	"strings"
)

// Risk grades how severe the worst violation is.
type Risk string

// Risk levels.
const (
	RiskNone     Risk = "none"
	RiskLow      Risk = "low"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// Result is the outcome of any validation call.
type Result struct {
	OK         bool     `json:"ok"`
	Violations []string `json:"violations,omitempty"`
	Risk       Risk     `json:"risk"`
}

func ok() Result {
	return Result{OK: true, Risk: RiskNone}
}

// Policy is the process-wide read-only validation configuration, loaded at
// startup. Changing it requires a restart.
type Policy struct {
	// TenantHost is the only host outbound requests may target.
	TenantHost string
	// AllowedPathPrefixes restricts URL paths.
	AllowedPathPrefixes []string
	// AllowedEnvKeys are the only process-environment keys generated code may read.
	AllowedEnvKeys []string
	// AllowWriteMethods permits non-GET verbs when explicitly enabled.
	AllowWriteMethods bool
}

// NewPolicy builds the default policy for a tenant host.
func NewPolicy(tenantHost string) *Policy {
	return &Policy{
		TenantHost: tenantHost,
		AllowedPathPrefixes: []string{
			"/api/v1/", "/oauth2/", "/.well-known/", "/login/",
		},
		AllowedEnvKeys: []string{
			"OKTA_CLIENT_ORGURL", "OKTA_API_TOKEN", "FULL_RESULTS_PATH",
		},
	}
}

// forbiddenConstruct pairs a compiled pattern with its violation message.
type forbiddenConstruct struct {
	Regex   *regexp.Regexp
	Message string
	Risk    Risk
}

// Forbidden constructs for generated scripts: module imports beyond the
// injected runtime, function/class definitions, dynamic evaluation, file and
// process access, and the sandbox's reflection sigil (dunder identifiers).
var forbiddenConstructs = []forbiddenConstruct{
	{regexp.MustCompile(`(?m)^\s*(import|from)\s+\w`), "module import", RiskHigh},
	{regexp.MustCompile(`(?m)^\s*(def|class)\s+\w`), "function or class definition", RiskHigh},
	{regexp.MustCompile(`\beval\s*\(`), "eval call", RiskCritical},
	{regexp.MustCompile(`\bexec\s*\(`), "exec call", RiskCritical},
	{regexp.MustCompile(`\bcompile\s*\(`), "compile call", RiskCritical},
	{regexp.MustCompile(`\bopen\s*\(`), "file open", RiskCritical},
	{regexp.MustCompile(`\b(subprocess|os\.system|os\.popen|os\.exec)\b`), "subprocess launch", RiskCritical},
	{regexp.MustCompile(`\bos\.environ\b`), "raw environment access", RiskHigh},
	{regexp.MustCompile(`\b(globals|locals|vars|getattr|setattr|delattr)\s*\(`), "reflection call", RiskHigh},
	{regexp.MustCompile(`__\w+__`), "dunder identifier", RiskHigh},
	{regexp.MustCompile(`\b(socket|urllib|requests\.(post|put|patch|delete))\b`), "raw network access", RiskCritical},
	{regexp.MustCompile(`\b(input|breakpoint|help)\s*\(`), "interactive call", RiskLow},
}

// allowedEnvCall matches okta_env("KEY") reads; only preset keys pass.
var allowedEnvCall = regexp.MustCompile(`okta_env\(\s*["']([A-Z_]+)["']\s*\)`)

// ValidateCode scans generated script text for forbidden constructs.
func (p *Policy) ValidateCode(src string) Result {
	var violations []string
	risk := RiskNone

	for _, fc := range forbiddenConstructs {
		if fc.Regex.MatchString(src) {
			violations = append(violations, fc.Message)
			risk = maxRisk(risk, fc.Risk)
		}
	}

	for _, m := range allowedEnvCall.FindAllStringSubmatch(src, -1) {
		if !contains(p.AllowedEnvKeys, m[1]) {
			violations = append(violations, "environment key not in allowlist: "+m[1])
			risk = maxRisk(risk, RiskHigh)
		}
	}

	if len(violations) > 0 {
		return Result{OK: false, Violations: violations, Risk: risk}
	}
	return ok()
}

// blockedHosts reject localhost, shorteners, and raw addresses regardless of
// the tenant host configuration.
var blockedHosts = []string{
	"localhost", "127.0.0.1", "0.0.0.0", "::1",
	"bit.ly", "tinyurl.com", "t.co", "goo.gl",
}

// ValidateURL enforces scheme, host, and path policy for a candidate URL.
func (p *Policy) ValidateURL(raw string) Result {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Result{OK: false, Violations: []string{"unparseable URL"}, Risk: RiskHigh}
	}
	if u.Scheme != "https" {
		return Result{OK: false, Violations: []string{"scheme must be https"}, Risk: RiskHigh}
	}
	host := strings.ToLower(u.Hostname())
	for _, blocked := range blockedHosts {
		if host == blocked {
			return Result{OK: false, Violations: []string{"blocked host: " + blocked}, Risk: RiskCritical}
		}
	}
	if !strings.EqualFold(u.Host, p.TenantHost) {
		return Result{OK: false, Violations: []string{"host does not match configured tenant"}, Risk: RiskCritical}
	}
	if strings.Contains(u.Path, "..") {
		return Result{OK: false, Violations: []string{"path traversal"}, Risk: RiskCritical}
	}
	for _, prefix := range p.AllowedPathPrefixes {
		if strings.HasPrefix(u.Path, prefix) {
			return ok()
		}
	}
	return Result{OK: false, Violations: []string{"path prefix not allowed: " + u.Path}, Risk: RiskHigh}
}

// ValidateHTTPMethod permits GET only, unless write methods were explicitly
// enabled at startup.
func (p *Policy) ValidateHTTPMethod(method string) Result {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "GET" {
		return ok()
	}
	if p.AllowWriteMethods && (m == "POST" || m == "PUT" || m == "DELETE") {
		return ok()
	}
	return Result{OK: false, Violations: []string{"method not allowed: " + m}, Risk: RiskCritical}
}

// Whitelisted tabular-processing primitives generated code may invoke.
var allowedDataOps = map[string]bool{
	"filter": true, "group_by": true, "aggregate": true, "select": true,
	"sort": true, "join": true, "map": true, "distinct": true,
	"count": true, "limit": true, "flatten": true, "rename": true,
}

// Explicitly blocked operation names: file I/O, network, sub-process,
// reflection, and arbitrary eval.
var blockedDataOps = map[string]bool{
	"open": true, "read": true, "write": true, "request": true,
	"fetch": true, "spawn": true, "system": true, "eval": true,
	"exec": true, "reflect": true, "import": true,
}

// ValidateDataOp checks a tabular-processing primitive name against the
// whitelist and blocklist.
func (p *Policy) ValidateDataOp(name string) Result {
	n := strings.ToLower(strings.TrimSpace(name))
	if blockedDataOps[n] {
		return Result{OK: false, Violations: []string{"blocked data operation: " + n}, Risk: RiskCritical}
	}
	if allowedDataOps[n] {
		return ok()
	}
	return Result{OK: false, Violations: []string{"unknown data operation: " + n}, Risk: RiskLow}
}

var riskOrder = map[Risk]int{RiskNone: 0, RiskLow: 1, RiskHigh: 2, RiskCritical: 3}

func maxRisk(a, b Risk) Risk {
	if riskOrder[b] > riskOrder[a] {
		return b
	}
	return a
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
