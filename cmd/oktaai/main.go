// The oktaai server answers natural-language questions about an Okta tenant
// over HTTP with SSE progress streaming.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/agents"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/api"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/catalog"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/config"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/mirror"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/okta"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/pipeline"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/sandbox"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/security"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	setupLogging(settings.LogLevel)

	cat, err := catalog.Load(settings.CatalogDir)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	slog.Info("Catalog loaded",
		"endpoints", len(cat.Endpoints()), "tables", len(cat.Tables()), "dir", settings.CatalogDir)

	policy := security.NewPolicy(settings.TenantHost())

	notify := func(n llm.RetryNotice) {
		slog.Warn("Rate limited, waiting",
			"agent", n.AgentLabel, "attempt", n.Attempt, "wait_seconds", n.WaitSeconds, "reason", n.Reason)
	}
	provider, err := buildProvider(settings, notify)
	if err != nil {
		return err
	}

	store, err := pipeline.NewArtifactStore(settings.LogDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirrorStore, err := mirror.Open(ctx, settings.MirrorDriver, settings.MirrorDSN)
	if err != nil {
		return fmt.Errorf("opening mirror: %w", err)
	}
	defer mirrorStore.Close()

	tenantTransport, err := buildTenantTransport(settings, notify)
	if err != nil {
		return err
	}
	registry := agents.NewSpecialRegistry()
	tenantClient := okta.NewClient(settings.TenantURL, settings.APIToken, policy, tenantTransport)
	if err := registry.Register(agents.NewAppAccessTool(tenantClient)); err != nil {
		return err
	}

	runner := sandbox.NewRunner(settings.PythonBin, settings.SandboxTimeout, settings.SandboxMaxOutput, map[string]string{
		"OKTA_CLIENT_ORGURL": settings.TenantURL,
		"OKTA_API_TOKEN":     settings.APIToken,
	})

	emitter := api.NewEmitter()
	reasoning := func(name string) *llm.Agent { return llm.NewAgent(name, settings.ReasoningModel, provider) }
	coding := func(name string) *llm.Agent { return llm.NewAgent(name, settings.CodingModel, provider) }

	executor := &pipeline.Executor{
		SQLGen:  agents.NewSQLGenerator(coding("sql-generator")),
		APIGen:  agents.NewAPIGenerator(coding("api-generator")),
		Policy:  policy,
		Mirror:  mirrorStore,
		Sandbox: runner,
		Store:   store,
		Sink:    emitter,
		Limits: pipeline.SampleLimits{
			MaxRows:   settings.MaxSampleRows,
			MaxString: settings.MaxSampleString,
			MaxList:   settings.MaxSampleList,
		},
		StepTimeout: settings.StepTimeout,
	}
	coordinator := &pipeline.Coordinator{
		Router:         agents.NewRouter(reasoning("router"), registry),
		PrePlanner:     agents.NewPrePlanner(reasoning("pre-planner"), cat),
		Planner:        agents.NewPlanner(reasoning("planner")),
		Executor:       executor,
		Synth:          agents.NewSynthesizer(reasoning("synthesis")),
		Formatter:      agents.NewFormatter(reasoning("formatter"), settings.ReasoningModel, settings.FormatterTokens),
		Special:        agents.NewSpecialRunner(reasoning("special-tools"), registry),
		Policy:         policy,
		Sandbox:        runner,
		Store:          store,
		Registry:       pipeline.NewRegistry(),
		Sink:           emitter,
		MaxQueryLength: settings.MaxQueryLength,
	}
	server := api.NewServer(coordinator, emitter, cat, registry)

	httpServer := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", settings.ListenAddr, "tenant", settings.TenantHost())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildProvider(settings *config.Settings, notify llm.NoticeFunc) (llm.Provider, error) {
	switch settings.LLMProvider {
	case "openai":
		return llm.NewOpenAIProvider(settings, notify)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", settings.LLMProvider)
	}
}

// buildTenantTransport builds the Retry-After-aware transport for tenant API
// calls, honoring the SSL verification settings.
func buildTenantTransport(settings *config.Settings, notify llm.NoticeFunc) (http.RoundTripper, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	tlsConfig := &tls.Config{}
	if !settings.VerifySSL {
		tlsConfig.InsecureSkipVerify = true
	}
	if settings.CABundle != "" {
		pem, err := os.ReadFile(settings.CABundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s contains no certificates", settings.CABundle)
		}
		tlsConfig.RootCAs = pool
	}
	base.TLSClientConfig = tlsConfig
	return &llm.RetryTransport{Base: base, Retry: settings.Retry, Notify: notify}, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
