// Package sanitize is the ingress pre-step for every query: it strips control
// characters, caps length, and flags suspicious patterns as warnings.
// Warnings never block execution; they are logged under the correlation id.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// suspiciousPattern pairs a pre-compiled regex with the warning it produces.
type suspiciousPattern struct {
	Name  string
	Regex *regexp.Regexp
}

var suspiciousPatterns = []suspiciousPattern{
	{"script_tag", regexp.MustCompile(`(?i)<\s*script`)},
	{"template_interpolation", regexp.MustCompile(`\{\{.*\}\}|\$\{.*\}`)},
	{"command_substitution", regexp.MustCompile("`[^`]*`|\\$\\([^)]*\\)")},
	{"sql_verb", regexp.MustCompile(`(?i)\b(drop|delete|insert|update|alter|truncate)\s+(table|from|into|database)\b`)},
	{"path_traversal", regexp.MustCompile(`\.\./`)},
}

// Result carries the sanitized text plus any warnings raised.
type Result struct {
	Text     string
	Warnings []string
}

// ErrEmptyQuery is returned when the query is empty after sanitization.
var ErrEmptyQuery = fmt.Errorf("query is empty")

// Sanitize cleans a raw query. maxLength caps the query size; longer input is
// truncated with a warning. An empty (or all-control-character) query is an
// error and no process is created for it.
func Sanitize(raw string, maxLength int) (Result, error) {
	var b strings.Builder
	for _, r := range raw {
		// Drop control characters but keep ordinary whitespace.
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	text := strings.TrimSpace(b.String())

	var warnings []string
	if text == "" {
		return Result{}, ErrEmptyQuery
	}
	if maxLength > 0 && len(text) > maxLength {
		// Back off to a rune boundary so the cut never produces invalid UTF-8.
		cut := maxLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = strings.TrimSpace(text[:cut])
		warnings = append(warnings, fmt.Sprintf("query truncated to %d characters", maxLength))
	}
	for _, p := range suspiciousPatterns {
		if p.Regex.MatchString(text) {
			warnings = append(warnings, "suspicious pattern detected: "+p.Name)
		}
	}
	return Result{Text: text, Warnings: warnings}, nil
}
