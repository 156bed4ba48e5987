// Package config loads process-wide settings from the environment. Values are
// read once at startup and treated as immutable afterwards.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Settings is the umbrella configuration object returned by Load and used
// throughout the application.
type Settings struct {
	// Server
	ListenAddr string
	LogLevel   string

	// Tenant connection (passed to the injected HTTP client and the sandbox)
	TenantURL   string
	APIToken    string
	VerifySSL   bool
	CABundle    string // optional custom CA bundle path for corporate proxies
	HTTPTimeout time.Duration

	// LLM provider selection and per-role models
	LLMProvider    string // "openai" (any OpenAI-compatible API via LLM_BASE_URL)
	LLMBaseURL     string // optional OpenAI-compatible base URL
	LLMAPIKey      string
	ReasoningModel string // router / planner / synthesis / formatter
	CodingModel    string // SQL and API code generation

	// Retry bounds for the LLM transport
	Retry RetryConfig

	// Sandbox limits
	SandboxTimeout   time.Duration
	SandboxMaxOutput int // bytes of stdout accepted from a generated script
	PythonBin        string

	// Sampling and formatter budgets
	MaxSampleRows   int
	MaxSampleString int
	MaxSampleList   int
	FormatterTokens int // below this, the formatter sees the whole dataset
	MaxQueryLength  int
	StepTimeout     time.Duration

	// Relational mirror
	MirrorDriver string // "postgres" or "sqlite3"
	MirrorDSN    string

	// Catalog and artifact locations
	CatalogDir string
	LogDir     string
}

// RetryConfig bounds the Retry-After-aware transport.
type RetryConfig struct {
	MaxAttempts int
	MaxWait     time.Duration
	BackoffBase time.Duration
}

// Load reads settings from the environment, applying defaults and validating
// required values.
func Load() (*Settings, error) {
	s := &Settings{
		ListenAddr:       envString("LISTEN_ADDR", ":8080"),
		LogLevel:         envString("LOG_LEVEL", "info"),
		TenantURL:        os.Getenv("OKTA_CLIENT_ORGURL"),
		APIToken:         os.Getenv("OKTA_API_TOKEN"),
		VerifySSL:        envBool("VERIFY_SSL", true),
		CABundle:         os.Getenv("CA_BUNDLE_PATH"),
		HTTPTimeout:      envDuration("HTTP_TIMEOUT", 60*time.Second),
		LLMProvider:      envString("LLM_PROVIDER", "openai"),
		LLMBaseURL:       os.Getenv("LLM_BASE_URL"),
		LLMAPIKey:        os.Getenv("OPENAI_API_KEY"),
		ReasoningModel:   envString("REASONING_MODEL", "gpt-4o"),
		CodingModel:      envString("CODING_MODEL", "gpt-4o-mini"),
		SandboxTimeout:   envDuration("SANDBOX_TIMEOUT", 180*time.Second),
		SandboxMaxOutput: envInt("SANDBOX_MAX_OUTPUT_BYTES", 10*1024*1024),
		PythonBin:        envString("SANDBOX_PYTHON", "python3"),
		MaxSampleRows:    envInt("MAX_SAMPLE_ROWS", 5),
		MaxSampleString:  envInt("MAX_SAMPLE_STRING", 150),
		MaxSampleList:    envInt("MAX_SAMPLE_LIST", 3),
		FormatterTokens:  envInt("FORMATTER_TOKEN_THRESHOLD", 1000),
		MaxQueryLength:   envInt("MAX_QUERY_LENGTH", 2000),
		StepTimeout:      envDuration("STEP_TIMEOUT", 180*time.Second),
		MirrorDriver:     envString("MIRROR_DRIVER", "sqlite3"),
		MirrorDSN:        envString("MIRROR_DSN", "file:sqlite_db/okta_sync.db?mode=ro"),
		CatalogDir:       envString("CATALOG_DIR", "./catalog"),
		LogDir:           envString("LOG_DIR", "./logs"),
		Retry: RetryConfig{
			MaxAttempts: envInt("LLM_MAX_ATTEMPTS", 3),
			MaxWait:     envDuration("LLM_MAX_WAIT", 600*time.Second),
			BackoffBase: envDuration("LLM_BACKOFF_BASE", 15*time.Second),
		},
	}

	if s.TenantURL == "" {
		return nil, fmt.Errorf("OKTA_CLIENT_ORGURL is required")
	}
	u, err := url.Parse(s.TenantURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("OKTA_CLIENT_ORGURL must be an https URL, got %q", s.TenantURL)
	}
	if s.LLMProvider == "openai" && s.LLMAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
	}
	if s.MirrorDriver != "sqlite3" && s.MirrorDriver != "postgres" {
		return nil, fmt.Errorf("MIRROR_DRIVER must be sqlite3 or postgres, got %q", s.MirrorDriver)
	}
	if s.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("LLM_MAX_ATTEMPTS must be >= 1")
	}
	return s, nil
}

// TenantHost returns the host of the configured tenant URL.
func (s *Settings) TenantHost() string {
	u, err := url.Parse(s.TenantURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers are treated as seconds.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
