// The oktaai-cli binary runs single natural-language queries against an Okta
// tenant from the terminal, without the HTTP server.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/agents"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/catalog"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/config"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/llm"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/mirror"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/okta"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/pipeline"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/sandbox"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/security"
)

// Exit codes: 0 success, 1 query failed, 2 usage or configuration error.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	os.Exit(cliMain())
}

func cliMain() int {
	interactive := flag.Bool("interactive", false, "read queries from stdin in a loop")
	scriptOnly := flag.Bool("script-only", false, "print the generated SQL/scripts instead of the result")
	flag.Parse()

	_ = godotenv.Load()

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitUsage
	}
	// Keep progress logs out of the result output.
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(settings.LogLevel)); err != nil {
		lvl = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := buildApp(ctx, settings, *scriptOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		return exitUsage
	}
	defer cleanup()

	if *interactive {
		return runInteractive(ctx, app, settings, *scriptOnly)
	}

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: oktaai-cli [--interactive] [--script-only] \"your question\"")
		return exitUsage
	}
	return runOne(ctx, app, settings, query, *scriptOnly)
}

// app bundles the wired pipeline for the CLI.
type app struct {
	coordinator *pipeline.Coordinator
}

// cliSink prints step progress to stderr as it happens.
type cliSink struct{}

func (cliSink) Publish(_ string, event models.EventType, payload any) {
	switch p := payload.(type) {
	case models.PlanStatusPayload:
		fmt.Fprintf(os.Stderr, "· %s\n", p.Message)
	case models.StepStatusPayload:
		switch p.Status {
		case models.StepRunning:
			fmt.Fprintf(os.Stderr, "· step %d running\n", p.StepIndex)
		case models.StepCompleted:
			fmt.Fprintf(os.Stderr, "· step %d done (%s)\n", p.StepIndex, p.ResultSummary)
		case models.StepErrored:
			fmt.Fprintf(os.Stderr, "· step %d failed: %s\n", p.StepIndex, p.ErrorMessage)
		}
	}
}

func buildApp(ctx context.Context, settings *config.Settings, scriptOnly bool) (*app, func(), error) {
	cat, err := catalog.Load(settings.CatalogDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading catalog: %w", err)
	}
	policy := security.NewPolicy(settings.TenantHost())

	notify := func(n llm.RetryNotice) {
		fmt.Fprintf(os.Stderr, "· rate limited (%s), waiting %.0fs\n", n.AgentLabel, n.WaitSeconds)
	}
	provider, err := llm.NewOpenAIProvider(settings, notify)
	if err != nil {
		return nil, nil, err
	}

	store, err := pipeline.NewArtifactStore(settings.LogDir)
	if err != nil {
		return nil, nil, err
	}
	mirrorStore, err := mirror.Open(ctx, settings.MirrorDriver, settings.MirrorDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening mirror: %w", err)
	}

	registry := agents.NewSpecialRegistry()
	tenantClient := okta.NewClient(settings.TenantURL, settings.APIToken, policy,
		llm.NewRetryTransport(settings.Retry, notify))
	if err := registry.Register(agents.NewAppAccessTool(tenantClient)); err != nil {
		mirrorStore.Close()
		return nil, nil, err
	}

	runner := sandbox.NewRunner(settings.PythonBin, settings.SandboxTimeout, settings.SandboxMaxOutput, map[string]string{
		"OKTA_CLIENT_ORGURL": settings.TenantURL,
		"OKTA_API_TOKEN":     settings.APIToken,
	})

	sink := cliSink{}
	reasoning := func(name string) *llm.Agent { return llm.NewAgent(name, settings.ReasoningModel, provider) }
	coding := func(name string) *llm.Agent { return llm.NewAgent(name, settings.CodingModel, provider) }

	executor := &pipeline.Executor{
		SQLGen:  agents.NewSQLGenerator(coding("sql-generator")),
		APIGen:  agents.NewAPIGenerator(coding("api-generator")),
		Policy:  policy,
		Mirror:  mirrorStore,
		Sandbox: runner,
		Store:   store,
		Sink:    sink,
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
		Sink:           sink,
		MaxQueryLength: settings.MaxQueryLength,
		ScriptOnly:     scriptOnly,
	}
	return &app{coordinator: coordinator}, func() { mirrorStore.Close() }, nil
}

func runInteractive(ctx context.Context, a *app, settings *config.Settings, scriptOnly bool) int {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(os.Stderr, "Ask about your Okta tenant (empty line or \"exit\" to quit).")
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return exitOK
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" || query == "exit" || query == "quit" {
			return exitOK
		}
		runOne(ctx, a, settings, query, scriptOnly)
		if ctx.Err() != nil {
			return exitOK
		}
	}
}

func runOne(ctx context.Context, a *app, settings *config.Settings, query string, scriptOnly bool) int {
	proc, err := a.coordinator.Prepare(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFailed
	}

	// Cancel the run if the user interrupts.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			proc.Cancel()
		case <-done:
		}
	}()
	a.coordinator.Run(proc)
	close(done)

	if scriptOnly {
		return printScripts(settings.LogDir, proc.Query.ProcessID)
	}

	ev := proc.Terminal()
	if ev == nil || ev.Type != models.EventTypeFinalResult {
		return exitFailed
	}
	payload := ev.Payload.(models.FinalResultPayload)
	printResponse(&models.FormattedResponse{
		DisplayType: payload.DisplayType,
		Content:     payload.ResultContent,
		Metadata:    payload.Metadata,
	})
	if payload.Status == models.StatusCompletedWithErrors {
		fmt.Fprintln(os.Stderr, "note: some non-critical steps failed; the result may be partial")
	}
	return exitOK
}

// printScripts dumps the generated SQL and scripts saved for the query.
func printScripts(logDir, processID string) int {
	matches, err := filepath.Glob(filepath.Join(logDir, "scripts", processID+"_*.py"))
	if err != nil || len(matches) == 0 {
		fmt.Fprintln(os.Stderr, "no generated scripts recorded")
		return exitFailed
	}
	sort.Strings(matches)
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		fmt.Printf("--- %s ---\n%s\n", filepath.Base(path), strings.TrimSpace(string(data)))
	}
	return exitOK
}

func printResponse(resp *models.FormattedResponse) {
	switch resp.DisplayType {
	case models.DisplayMarkdown:
		fmt.Println(resp.Content)
	case models.DisplayTable:
		printTable(resp)
	default:
		fmt.Printf("%v\n", resp.Content)
	}
}

// printTable renders a plain aligned table.
func printTable(resp *models.FormattedResponse) {
	rows := rowMaps(resp.Content)
	headers := resp.Metadata.Headers
	if len(headers) == 0 && len(rows) > 0 {
		keys := make([]string, 0, len(rows[0]))
		for k := range rows[0] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			headers = append(headers, models.TableHeader{Value: k, Text: k})
		}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h.Text)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(headers))
		for i, h := range headers {
			cell := fmt.Sprintf("%v", row[h.Value])
			if row[h.Value] == nil {
				cell = ""
			}
			cells[r][i] = cell
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Printf("%-*s  ", widths[i], h.Text)
	}
	fmt.Println()
	for i := range headers {
		fmt.Print(strings.Repeat("-", widths[i]) + "  ")
	}
	fmt.Println()
	for _, row := range cells {
		for i, cell := range row {
			fmt.Printf("%-*s  ", widths[i], cell)
		}
		fmt.Println()
	}
	fmt.Printf("(%d records)\n", resp.Metadata.TotalRecords)
}

func rowMaps(content any) []map[string]any {
	switch rows := content.(type) {
	case []map[string]any:
		return rows
	case []any:
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			if m, ok := r.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
