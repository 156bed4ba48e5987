// Package okta is a minimal read-only client for the tenant REST API, used by
// the built-in special tools. Every request passes the URL policy before it
// leaves the process, and rate limits are handled by the shared retry
// transport underneath.
package okta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/security"
)

// Client issues GET requests against one tenant.
type Client struct {
	baseURL string
	token   string
	policy  *security.Policy
	http    *http.Client
}

// NewClient builds a tenant client. transport should be the shared
// Retry-After-aware transport; pass nil for the default.
func NewClient(baseURL, token string, policy *security.Policy, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		policy:  policy,
		http:    &http.Client{Transport: transport, Timeout: 120 * time.Second},
	}
}

// Get fetches a single resource and decodes it into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	body, _, err := c.get(ctx, c.buildURL(path, params))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// GetPaginated fetches a collection, following Link rel="next" headers. Each
// page must decode as a JSON array; elements are returned concatenated.
func (c *Client) GetPaginated(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	next := c.buildURL(path, params)
	var all []json.RawMessage
	const maxPages = 100
	for page := 0; next != "" && page < maxPages; page++ {
		body, headers, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("page is not a JSON array: %w", err)
		}
		all = append(all, items...)
		next = nextLink(headers)
	}
	return all, nil
}

func (c *Client) buildURL(path string, params url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	if res := c.policy.ValidateURL(rawURL); !res.OK {
		return nil, nil, fmt.Errorf("URL rejected by policy: %s", strings.Join(res.Violations, "; "))
	}
	if res := c.policy.ValidateHTTPMethod(http.MethodGet); !res.OK {
		return nil, nil, fmt.Errorf("method rejected by policy")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "SSWS "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("tenant API returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 300))
	}
	return body, resp.Header, nil
}

// nextLink extracts the rel="next" URL from a Link header, if present.
func nextLink(headers http.Header) string {
	for _, link := range headers.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			if !strings.Contains(part, `rel="next"`) {
				continue
			}
			start := strings.Index(part, "<")
			end := strings.Index(part, ">")
			if start >= 0 && end > start {
				return part[start+1 : end]
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
