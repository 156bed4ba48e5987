package llm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/config"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// Usage is the token accounting reported for every agent call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// CompletionRequest is the single call shape every provider implements.
type CompletionRequest struct {
	Model      string
	System     string
	User       string
	JSONMode   bool
	AgentLabel string
}

// Provider is the abstract LLM capability. Concrete providers are
// constructor-injected, keeping the hot path stateless and testable with
// in-memory stubs.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, Usage, error)
}

// OpenAIProvider implements Provider on an OpenAI-compatible API, with all
// calls going through the shared RetryTransport.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds a provider from settings. The retry transport sits
// below the SDK so the agent layer only ever sees terminal outcomes.
func NewOpenAIProvider(settings *config.Settings, notify NoticeFunc) (*OpenAIProvider, error) {
	transport, err := buildBaseTransport(settings)
	if err != nil {
		return nil, err
	}

	cfg := openai.DefaultConfig(settings.LLMAPIKey)
	if settings.LLMBaseURL != "" {
		cfg.BaseURL = settings.LLMBaseURL
	}
	cfg.HTTPClient = &http.Client{
		Transport: &RetryTransport{Base: transport, Retry: settings.Retry, Notify: notify},
		Timeout:   settings.HTTPTimeout * time.Duration(settings.Retry.MaxAttempts),
	}

	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}, nil
}

// buildBaseTransport applies the custom CA bundle and verify_ssl settings.
func buildBaseTransport(settings *config.Settings) (http.RoundTripper, error) {
	tlsConfig := &tls.Config{}
	if !settings.VerifySSL {
		tlsConfig.InsecureSkipVerify = true
	}
	if settings.CABundle != "" {
		pem, err := os.ReadFile(settings.CABundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle %s: %w", settings.CABundle, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s contains no valid certificates", settings.CABundle)
		}
		tlsConfig.RootCAs = pool
	}
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsConfig
	return base, nil
}

// Complete runs a single chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, Usage, error) {
	ctx = WithAgentLabel(ctx, req.AgentLabel)

	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", Usage{}, mapProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, models.NewPipelineError(models.ErrSchemaViolation, "provider returned no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", Usage{}, models.NewPipelineError(models.ErrContentRefused, "provider content filter triggered")
	}

	usage := Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return choice.Message.Content, usage, nil
}

// mapProviderError translates SDK errors into the pipeline taxonomy.
func mapProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return models.NewPipelineError(models.ErrRateLimitedExhausted,
				fmt.Sprintf("rate limit retries exhausted: %v", apiErr.Message))
		}
		return models.NewPipelineError(models.ErrTransport,
			fmt.Sprintf("provider error (HTTP %d): %v", apiErr.HTTPStatusCode, apiErr.Message))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return models.NewPipelineError(models.ErrTransport, err.Error())
}

// StubProvider is an in-memory Provider for tests: it returns canned
// responses in order and records every request it receives.
type StubProvider struct {
	Responses []string
	Err       error
	Requests  []CompletionRequest
	next      int
}

// Complete pops the next canned response.
func (s *StubProvider) Complete(_ context.Context, req CompletionRequest) (string, Usage, error) {
	s.Requests = append(s.Requests, req)
	if s.Err != nil {
		return "", Usage{}, s.Err
	}
	if s.next >= len(s.Responses) {
		return "", Usage{}, models.NewPipelineError(models.ErrTransport, "stub provider exhausted")
	}
	resp := s.Responses[s.next]
	s.next++
	return resp, Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}, nil
}
