package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/fieldnote-ai/warden/internal/agent"
	"github.com/fieldnote-ai/warden/internal/bus"
	"github.com/fieldnote-ai/warden/internal/channels"
	"github.com/fieldnote-ai/warden/internal/channels/cli"
	"github.com/fieldnote-ai/warden/internal/channels/discord"
	"github.com/fieldnote-ai/warden/internal/channels/telegram"
	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/fingerprint"
	"github.com/fieldnote-ai/warden/internal/gateway"
	"github.com/fieldnote-ai/warden/internal/goalrunner"
	"github.com/fieldnote-ai/warden/internal/llmrouter"
	"github.com/fieldnote-ai/warden/internal/logsafe"
	"github.com/fieldnote-ai/warden/internal/mind"
	"github.com/fieldnote-ai/warden/internal/permissions"
	"github.com/fieldnote-ai/warden/internal/providers"
	"github.com/fieldnote-ai/warden/internal/sandbox"
	"github.com/fieldnote-ai/warden/internal/schedule"
	"github.com/fieldnote-ai/warden/internal/store"
	"github.com/fieldnote-ai/warden/internal/store/pg"
	"github.com/fieldnote-ai/warden/internal/store/sqlite"
	"github.com/fieldnote-ai/warden/internal/tools"
	"github.com/fieldnote-ai/warden/internal/tracing"
	"github.com/fieldnote-ai/warden/internal/vault"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the warden gateway: agent loop, mind, goals, and channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(logsafe.NewHandler(base)))
}

func runGateway() error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var saltHash []byte
	if cfg.Vault.Password != "" {
		vaultDir := cfg.Vault.Dir
		if vaultDir == "" {
			vaultDir = config.ExpandHome("~/.warden")
		}
		v := vault.New(vaultDir)
		if err := v.Unlock(cfg.Vault.Password); err != nil {
			return fmt.Errorf("unlock vault: %w", err)
		}
		saltHash, err = v.SaltHash()
		if err != nil {
			return fmt.Errorf("vault salt: %w", err)
		}
		applyVaultSecrets(v, cfg)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}

	fp, err := fingerprint.Compute(config.ExpandHome(cfg.Agents.Defaults.Workspace), fingerprint.StableFields{
		Workspace:       cfg.Agents.Defaults.Workspace,
		DefaultProvider: cfg.Agents.Defaults.Provider,
		DefaultModel:    cfg.Agents.Defaults.Model,
		GatewayHost:     cfg.Gateway.Host,
	}, saltHash)
	if err != nil {
		return fmt.Errorf("compute fingerprint: %w", err)
	}
	slog.Info("fingerprint.computed", "status", fp.Status, "hex", fp.Hex[:12])

	providerReg := buildProviderRegistry(cfg)
	if providerReg.Len() == 0 {
		slog.Warn("no LLM providers configured — the agent loop will fail every turn")
	}
	ensureRouterTasks(cfg, providerReg)
	router := llmrouter.NewRouter(providerReg, cfg.Router, stores.Usage)

	tracer, shutdownTracing, err := setupTracing(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())
	_ = tracing.NewCollector(tracer, verbose)

	registry := buildToolRegistry(cfg, stores)

	permMode := permissions.Mode(cfg.Permissions.Mode)
	if permMode == "" {
		permMode = permissions.ModeAskAlways
	}
	authority := permissions.AuthorityOwner
	if cfg.Permissions.DefaultAuthority != "" {
		authority = permissions.AuthorityTier(cfg.Permissions.DefaultAuthority)
	}
	safeAllow := cfg.Permissions.SafeAllowList
	if len(safeAllow) == 0 {
		safeAllow = permissions.DefaultSafeAllowList
	}
	permEngine := permissions.NewEngine(safeAllow)
	approvalQueue := permissions.NewQueue(permissions.DefaultApprovalTimeout)

	agentID := cfg.ResolveDefaultAgentID()
	loop := agent.NewLoop(agentID, cfg.Agents.Defaults, permEngine, permMode, authority, registry, router, stores.Sessions, fp.Hex)

	msgBus := bus.New()

	var mindInstance *mind.Mind
	if cfg.Mind.Enabled {
		mindInstance = mind.New(cfg.Mind, stores.Mind, loop, msgBus)
	}

	var goalRunner *goalrunner.Runner
	if cfg.Goals.Enabled {
		goalRunner = goalrunner.New(cfg.Goals, stores.Goals, router, loop, msgBus)
	}

	var gwMind gateway.MindController
	if mindInstance != nil {
		gwMind = mindInstance
	}
	var gwGoals gateway.GoalLookup
	if goalRunner != nil {
		gwGoals = goalRunner
	}

	server := gateway.NewServer(cfg.Gateway, msgBus, approvalQueue, loop, gwMind, gwGoals)

	dispatcher := newChannelDispatcher(msgBus, loop, approvalQueue, cfg.Sessions, agentID)
	prevOnTimeout := approvalQueue.OnTimeout
	approvalQueue.OnTimeout = func(req *permissions.ApprovalRequest) {
		if prevOnTimeout != nil {
			prevOnTimeout(req)
		}
		dispatcher.clearPending(req.SessionKey, req.ID)
	}

	mgr := channels.NewManager(msgBus)
	registerChannels(mgr, cfg, msgBus)

	scheduler := schedule.New(stores.Schedule, cfg.Cron.ToRetryConfig(), scheduledTaskAction(loop, stores))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mindInstance != nil {
		mindInstance.Start()
	}
	if goalRunner != nil {
		go goalRunner.Run(ctx)
	}
	go scheduler.Run(ctx)
	go dispatcher.Run(ctx)
	if err := mgr.StartAll(ctx); err != nil {
		slog.Error("channels.start_failed", "error", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.ServeHTTP)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok clients=%d\n", server.ClientCount())
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler: mux,
	}

	go func() {
		slog.Info("gateway.listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gateway.listen_failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("gateway.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if mindInstance != nil {
		mindInstance.Stop()
	}
	if goalRunner != nil {
		goalRunner.Stop()
	}
	_ = mgr.StopAll(shutdownCtx)

	return nil
}

// applyVaultSecrets overlays provider/channel credentials stored in the
// encrypted vault onto cfg, for deployments that keep secrets out of both
// the config file and the process environment.
func applyVaultSecrets(v *vault.Vault, cfg *config.Config) {
	get := func(key string, dst *string) {
		if val, ok, err := v.Get(key); err == nil && ok {
			*dst = val
		}
	}
	get("anthropic_api_key", &cfg.Providers.Anthropic.APIKey)
	get("openai_api_key", &cfg.Providers.OpenAI.APIKey)
	get("openrouter_api_key", &cfg.Providers.OpenRouter.APIKey)
	get("groq_api_key", &cfg.Providers.Groq.APIKey)
	get("gemini_api_key", &cfg.Providers.Gemini.APIKey)
	get("deepseek_api_key", &cfg.Providers.DeepSeek.APIKey)
	get("mistral_api_key", &cfg.Providers.Mistral.APIKey)
	get("xai_api_key", &cfg.Providers.XAI.APIKey)
	get("minimax_api_key", &cfg.Providers.MiniMax.APIKey)
	get("cohere_api_key", &cfg.Providers.Cohere.APIKey)
	get("perplexity_api_key", &cfg.Providers.Perplexity.APIKey)
	get("telegram_token", &cfg.Channels.Telegram.Token)
	get("discord_token", &cfg.Channels.Discord.Token)
	get("postgres_dsn", &cfg.Database.PostgresDSN)
}

func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.IsManagedMode() {
		slog.Info("store.backend", "mode", "postgres")
		return pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
	}
	slog.Info("store.backend", "mode", "sqlite")
	dir := config.ExpandHome(cfg.Sessions.Storage)
	if dir == "" {
		dir = config.ExpandHome("~/.warden")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return sqlite.NewStores(store.StoreConfig{SQLitePath: dir + "/warden.db"})
}

// openAICompatBase maps a provider name to its OpenAI-compatible base URL
// default, used when the config supplies an API key but no explicit base.
var openAICompatBase = map[string]string{
	"groq":       "https://api.groq.com/openai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"mistral":    "https://api.mistral.ai/v1",
	"xai":        "https://api.x.ai/v1",
	"minimax":    "https://api.minimax.chat/v1",
	"cohere":     "https://api.cohere.ai/compatibility/v1",
	"perplexity": "https://api.perplexity.ai",
	"gemini":     "https://generativelanguage.googleapis.com/v1beta/openai",
}

var openAICompatDefaultModel = map[string]string{
	"openai":     "gpt-4o",
	"groq":       "llama-3.3-70b-versatile",
	"openrouter": "anthropic/claude-sonnet-4.5",
	"deepseek":   "deepseek-chat",
	"mistral":    "mistral-large-latest",
	"xai":        "grok-2",
	"minimax":    "abab6.5s-chat",
	"cohere":     "command-r-plus",
	"perplexity": "sonar",
	"gemini":     "gemini-2.0-flash",
}

func buildProviderRegistry(cfg *config.Config) *providers.Registry {
	reg := providers.NewRegistry()
	if cfg.Providers.Anthropic.APIKey != "" {
		var opts []providers.AnthropicOption
		if cfg.Providers.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.APIBase))
		}
		reg.Register(providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, opts...))
	}

	register := func(name string, pc config.ProviderConfig) {
		if pc.APIKey == "" {
			return
		}
		base := pc.APIBase
		if base == "" {
			base = openAICompatBase[name]
		}
		reg.Register(providers.NewOpenAIProvider(name, pc.APIKey, base, openAICompatDefaultModel[name]))
	}
	register("openai", cfg.Providers.OpenAI)
	register("openrouter", cfg.Providers.OpenRouter)
	register("groq", cfg.Providers.Groq)
	register("gemini", cfg.Providers.Gemini)
	register("deepseek", cfg.Providers.DeepSeek)
	register("mistral", cfg.Providers.Mistral)
	register("xai", cfg.Providers.XAI)
	register("minimax", cfg.Providers.MiniMax)
	register("cohere", cfg.Providers.Cohere)
	register("perplexity", cfg.Providers.Perplexity)
	return reg
}

// ensureRouterTasks fills in "planning", "coding", and "default" task-type
// routes from the agent's default provider/model when the config doesn't
// already define them, so a fresh config.json still routes every call the
// agent loop makes (see internal/agent.Loop.runTurn's taskType sequence).
func ensureRouterTasks(cfg *config.Config, reg *providers.Registry) {
	if cfg.Router.Tasks == nil {
		cfg.Router.Tasks = make(map[string][]config.RouterCandidate)
	}
	defaultProvider := cfg.Agents.Defaults.Provider
	if defaultProvider == "" {
		names := reg.Names()
		if len(names) > 0 {
			defaultProvider = names[0]
		}
	}
	fallback := []config.RouterCandidate{{Provider: defaultProvider, Model: cfg.Agents.Defaults.Model}}
	for _, taskType := range []string{"planning", "coding", "default"} {
		if _, ok := cfg.Router.Tasks[taskType]; !ok {
			cfg.Router.Tasks[taskType] = fallback
		}
	}
}

func setupTracing(cfg config.TelemetryConfig) (oteltrace.Tracer, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled || cfg.Endpoint == "" {
		return oteltrace.NewNoopTracerProvider().Tracer("warden"), noop, nil
	}

	var exp sdktrace.SpanExporter
	var err error
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exp, err = otlptracehttp.New(context.Background(), opts...)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exp, err = otlptracegrpc.New(context.Background(), opts...)
	}
	if err != nil {
		return nil, noop, fmt.Errorf("otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	return tp.Tracer("warden"), tp.Shutdown, nil
}

func buildToolRegistry(cfg *config.Config, stores *store.Stores) *tools.Registry {
	reg := tools.NewRegistry()
	ws := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	restrict := cfg.Agents.Defaults.RestrictToWorkspace

	sbCfg := cfg.Agents.Defaults.Sandbox.ToSandboxConfig()
	if sbCfg.Mode != "off" {
		sandboxMgr := sandbox.NewManager(sbCfg, ws)
		reg.Register(tools.NewSandboxedReadFileTool(ws, restrict, sandboxMgr), permissions.SAFE)
		reg.Register(tools.NewSandboxedExecTool(ws, restrict, sandboxMgr), permissions.MODERATE)
	} else {
		reg.Register(tools.NewReadFileTool(ws, restrict), permissions.SAFE)
		reg.Register(tools.NewExecTool(ws, restrict), permissions.MODERATE)
	}
	reg.Register(tools.NewWriteFileTool(ws, restrict), permissions.MODERATE)
	reg.Register(tools.NewListFilesTool(ws, restrict), permissions.SAFE)

	reg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}), permissions.SAFE)
	reg.Register(tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveAPIKey:     cfg.Tools.Web.Brave.APIKey,
		BraveEnabled:    cfg.Tools.Web.Brave.Enabled,
		BraveMaxResults: cfg.Tools.Web.Brave.MaxResults,
		DDGEnabled:      cfg.Tools.Web.DuckDuckGo.Enabled,
		DDGMaxResults:   cfg.Tools.Web.DuckDuckGo.MaxResults,
	}), permissions.SAFE)

	reg.Register(tools.NewMindScratchpadReadTool(stores.Mind), permissions.SAFE)
	reg.Register(tools.NewMindScratchpadWriteTool(stores.Mind), permissions.MODERATE)
	reg.Register(tools.NewGoalCreateTool(stores.Goals), permissions.MODERATE)

	return reg
}

func registerChannels(mgr *channels.Manager, cfg *config.Config, msgBus *bus.MessageBus) {
	mgr.RegisterChannel("cli", cli.New(msgBus))

	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("telegram.init_failed", "error", err)
		} else {
			mgr.RegisterChannel("telegram", ch)
		}
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("discord.init_failed", "error", err)
		} else {
			mgr.RegisterChannel("discord", ch)
		}
	}
}

// scheduledTaskAction dispatches a fired scheduled task (§6 scheduled_tasks)
// to either a headless wake turn or a new checkpointed goal, per
// store.ScheduledTaskData.Kind.
func scheduledTaskAction(loop *agent.Loop, stores *store.Stores) schedule.Action {
	return func(ctx context.Context, task *store.ScheduledTaskData) error {
		switch task.Kind {
		case "goal":
			now := time.Now().UTC()
			goal := &store.GoalData{
				ID:          store.GenNewID(),
				Title:       task.GoalTitle,
				Description: task.GoalPrompt,
				Status:      store.GoalStatusPending,
				CreatedBy:   "schedule",
				CreatedAt:   now,
				UpdatedAt:   now,
				ScheduleID:  &task.ID,
			}
			return stores.Goals.CreateGoal(goal)
		default: // "wake"
			prompt := task.GoalPrompt
			if prompt == "" {
				prompt = fmt.Sprintf("Scheduled task %q fired. Review and act if warranted.", task.Name)
			}
			sessionKey := "agent:" + task.ID.String() + ":schedule:wake"
			_, err := loop.RunHeadless(ctx, sessionKey, "schedule", permissions.ModeSmartAuto, prompt, nil, nil, nil)
			return err
		}
	}
}
