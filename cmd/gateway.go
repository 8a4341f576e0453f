package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/quantumclaw/quantumclaw/internal/agent"
	"github.com/quantumclaw/quantumclaw/internal/agentregistry"
	"github.com/quantumclaw/quantumclaw/internal/approvals"
	"github.com/quantumclaw/quantumclaw/internal/audit"
	"github.com/quantumclaw/quantumclaw/internal/bootstrap"
	"github.com/quantumclaw/quantumclaw/internal/bus"
	"github.com/quantumclaw/quantumclaw/internal/cache"
	"github.com/quantumclaw/quantumclaw/internal/channels"
	"github.com/quantumclaw/quantumclaw/internal/channels/discord"
	"github.com/quantumclaw/quantumclaw/internal/channels/telegram"
	"github.com/quantumclaw/quantumclaw/internal/channels/whatsapp"
	"github.com/quantumclaw/quantumclaw/internal/config"
	"github.com/quantumclaw/quantumclaw/internal/cron"
	"github.com/quantumclaw/quantumclaw/internal/gateway"
	"github.com/quantumclaw/quantumclaw/internal/heartbeat"
	mcpbridge "github.com/quantumclaw/quantumclaw/internal/mcp"
	"github.com/quantumclaw/quantumclaw/internal/permissions"
	"github.com/quantumclaw/quantumclaw/internal/providers"
	"github.com/quantumclaw/quantumclaw/internal/queue"
	"github.com/quantumclaw/quantumclaw/internal/sandbox"
	"github.com/quantumclaw/quantumclaw/internal/secrets"
	"github.com/quantumclaw/quantumclaw/internal/sessions"
	"github.com/quantumclaw/quantumclaw/internal/skills"
	"github.com/quantumclaw/quantumclaw/internal/store"
	"github.com/quantumclaw/quantumclaw/internal/store/file"
	"github.com/quantumclaw/quantumclaw/internal/tools"
	"github.com/quantumclaw/quantumclaw/internal/trust"
)

// runGateway boots the standalone gateway: loads config, wires the tool
// registry, agents, and channel adapters, then serves the dashboard/SDK
// WebSocket until interrupted. Every subsystem is registered as a bootstrap
// stage so a failure in an optional piece (MCP, sandbox, a channel token)
// degrades rather than aborting the whole process.
func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	_, cfgStatErr := os.Stat(cfgPath)
	configMissing := os.IsNotExist(cfgStatErr)
	if !cfg.HasAnyProvider() || configMissing {
		if canAutoOnboard() {
			if runAutoOnboard(cfgPath) {
				cfg, _ = config.Load(cfgPath)
			} else {
				os.Exit(1)
			}
		} else if _, statErr := os.Stat(cfgPath); statErr == nil {
			envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
			fmt.Println("No AI provider API key found. Did you forget to load your secrets?")
			fmt.Println()
			fmt.Printf("  source %s && ./goclaw\n", envPath)
			fmt.Println()
			fmt.Println("Or re-run the setup wizard:  ./goclaw onboard")
			os.Exit(1)
		} else {
			fmt.Println("No configuration found. Starting setup wizard...")
			fmt.Println()
			if err := runOnboard(cfgPath, false); err != nil {
				slog.Error("onboarding failed", "error", err)
				os.Exit(1)
			}
			return
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot := bootstrap.NewController()

	msgBus := bus.New()
	providerRegistry := providers.NewRegistry()

	workspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	os.MkdirAll(workspace, 0755)

	dataDir := os.Getenv("GOCLAW_DATA_DIR")
	if dataDir == "" {
		dataDir = config.ExpandHome("~/.goclaw/data")
	}
	os.MkdirAll(dataDir, 0755)

	toolsReg := tools.NewRegistry()
	agentCfg := cfg.ResolveAgent("default")

	var sandboxMgr sandbox.Manager
	var secretsStore *secrets.Store
	var auditLog *audit.Log
	var trustKernel *trust.Kernel
	var approvalsStore *approvals.Store
	var pageCache *cache.LRU
	var mcpMgr *mcpbridge.Manager
	agentReg := agentregistry.New(workspace)
	deliveryQueue, qErr := queue.Open(filepath.Join(dataDir, "delivery.db"))
	if qErr != nil {
		slog.Warn("delivery queue unavailable", "error", qErr)
	}

	boot.AddStage("providers", true, func(context.Context) error {
		registerProviders(providerRegistry, cfg)
		if providerRegistry.Len() == 0 {
			return fmt.Errorf("no providers registered")
		}
		return nil
	})

	boot.AddStage("workspace", true, func(context.Context) error {
		seeded, err := bootstrap.EnsureWorkspaceFiles(workspace)
		if err != nil {
			return err
		}
		if len(seeded) > 0 {
			slog.Info("seeded workspace templates", "files", seeded)
		}
		return nil
	})

	boot.AddStage("sandbox", false, func(ctx context.Context) error {
		sbCfg := cfg.Agents.Defaults.Sandbox
		if sbCfg == nil || sbCfg.Mode == "" || sbCfg.Mode == "off" {
			return nil
		}
		if err := sandbox.CheckDockerAvailable(ctx); err != nil {
			return fmt.Errorf("docker unavailable: %w", err)
		}
		resolved := sbCfg.ToSandboxConfig()
		sandboxMgr = sandbox.NewDockerManager(resolved)
		slog.Info("sandbox enabled", "mode", string(resolved.Mode), "scope", string(resolved.Scope))
		boot.RegisterShutdown("sandbox", func(ctx context.Context) error { return sandboxMgr.ReleaseAll(ctx) })
		return nil
	})

	boot.AddStage("secrets", false, func(context.Context) error {
		s, err := secrets.Open(filepath.Join(dataDir, "secrets.db"))
		if err != nil {
			return err
		}
		secretsStore = s
		boot.RegisterShutdown("secrets", func(context.Context) error { return secretsStore.Close() })
		return nil
	})

	boot.AddStage("trust", false, func(context.Context) error {
		path := filepath.Join(workspace, "TRUST.md")
		k, err := trust.Load(path)
		if err != nil {
			return err
		}
		trustKernel = k
		slog.Info("trust kernel loaded", "hard_rules", k.HardRuleCount(), "soft_rules", k.SoftRuleCount())
		return nil
	})

	boot.AddStage("audit", false, func(context.Context) error {
		backend, err := audit.NewFileBackend(filepath.Join(dataDir, "audit.jsonl"))
		if err != nil {
			return err
		}
		auditLog = audit.New(backend, slog.Default())
		go auditLog.Run(ctx, 5*time.Second)
		return nil
	})

	boot.AddStage("approvals", false, func(context.Context) error {
		st, err := approvals.Open(filepath.Join(dataDir, "approvals.db"), auditLog)
		if err != nil {
			return err
		}
		approvalsStore = st
		go st.Run(ctx, time.Minute)
		boot.RegisterShutdown("approvals", func(context.Context) error { return nil })
		return nil
	})

	boot.AddStage("cache", false, func(context.Context) error {
		c, err := cache.NewLRU(filepath.Join(dataDir, "cache.db"), time.Hour)
		if err != nil {
			return err
		}
		pageCache = c
		return nil
	})

	boot.AddStage("tools", true, func(context.Context) error {
		if sandboxMgr != nil {
			toolsReg.Register(tools.NewSandboxedReadFileTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
			toolsReg.Register(tools.NewSandboxedExecTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
		} else {
			toolsReg.Register(tools.NewReadFileTool(workspace, agentCfg.RestrictToWorkspace))
			toolsReg.Register(tools.NewExecTool(workspace, agentCfg.RestrictToWorkspace))
		}

		if webSearchTool := tools.NewWebSearchTool(tools.WebSearchConfig{
			BraveEnabled: cfg.Tools.Web.Brave.Enabled,
			BraveAPIKey:  cfg.Tools.Web.Brave.APIKey,
			DDGEnabled:   cfg.Tools.Web.DuckDuckGo.Enabled,
		}); webSearchTool != nil {
			toolsReg.Register(webSearchTool)
		}
		toolsReg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))
		toolsReg.Register(tools.NewReadImageTool(providerRegistry))
		toolsReg.Register(tools.NewCreateImageTool(providerRegistry))
		toolsReg.Register(tools.NewSessionsListTool())
		toolsReg.Register(tools.NewSessionStatusTool())
		toolsReg.Register(tools.NewSessionsHistoryTool())
		toolsReg.Register(tools.NewSessionsSendTool())

		if cfg.Tools.RateLimitPerHour > 0 {
			toolsReg.SetRateLimiter(tools.NewToolRateLimiter(cfg.Tools.RateLimitPerHour))
		}
		if cfg.Tools.ScrubCredentials != nil && !*cfg.Tools.ScrubCredentials {
			toolsReg.SetScrubbing(false)
		}
		if trustKernel != nil {
			toolsReg.SetTrustKernel(trustKernel)
		}
		if approvalsStore != nil && auditLog != nil {
			toolsReg.SetApprovals(approvalsStore, auditLog)
		}
		return nil
	})

	boot.AddStage("mcp", false, func(ctx context.Context) error {
		if len(cfg.Tools.McpServers) == 0 {
			return nil
		}
		mcpMgr = mcpbridge.NewManager(toolsReg, mcpbridge.WithConfigs(cfg.Tools.McpServers))
		if err := mcpMgr.Start(ctx); err != nil {
			return err
		}
		slog.Info("MCP servers initialized", "configured", len(cfg.Tools.McpServers), "tools", len(mcpMgr.ToolNames()))
		boot.RegisterShutdown("mcp", func(context.Context) error { mcpMgr.Stop(); return nil })
		return nil
	})

	var sessStore store.SessionStore
	var pairingStore store.PairingStore
	var skillsLoader *skills.Loader
	var agentRouter *agent.Router
	toolPE := tools.NewPolicyEngine(&cfg.Tools)
	permPE := permissions.NewPolicyEngine(cfg.Gateway.OwnerIDs)

	boot.AddStage("memory", true, func(context.Context) error {
		sessStore = file.NewFileSessionStore(sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage)))
		pairingStore, err = file.NewPairingStore(filepath.Join(dataDir, "pairing.json"))
		return err
	})

	boot.AddStage("skills", false, func(context.Context) error {
		globalSkillsDir := os.Getenv("GOCLAW_SKILLS_DIR")
		if globalSkillsDir == "" {
			globalSkillsDir = filepath.Join(config.ExpandHome("~/.goclaw"), "skills")
		}
		skillsLoader = skills.New(globalSkillsDir)
		if _, err := skillsLoader.LoadAll(); err != nil {
			return err
		}
		if pa, ok := toolsReg.Get("read_file"); ok {
			if rf, ok := pa.(*tools.ReadFileTool); ok {
				rf.AllowPaths(globalSkillsDir)
			}
		}
		return nil
	})

	boot.AddStage("agents", true, func(context.Context) error {
		agentRouter = agent.NewRouter()
		if err := createAgentLoop("default", cfg, agentRouter, providerRegistry, msgBus, sessStore, toolsReg, toolPE, skillsLoader, workspace, sandboxMgr); err != nil {
			return err
		}
		for agentID := range cfg.Agents.List {
			if agentID == "default" {
				continue
			}
			if err := createAgentLoop(agentID, cfg, agentRouter, providerRegistry, msgBus, sessStore, toolsReg, toolPE, skillsLoader, workspace, sandboxMgr); err != nil {
				slog.Error("failed to create agent", "agent", agentID, "error", err)
			}
		}
		return nil
	})

	var server *gateway.Server
	boot.AddStage("gateway", true, func(context.Context) error {
		server = gateway.NewServer(cfg, msgBus, agentRouter, sessStore, toolsReg)
		server.SetPolicyEngine(permPE)
		server.SetPairingService(pairingStore)
		if approvalsStore != nil {
			server.SetApprovals(approvalsStore)
		}
		if trustKernel != nil {
			server.SetTrustKernel(trustKernel)
		}
		return nil
	})

	var channelMgr *channels.Manager
	boot.AddStage("channels", false, func(context.Context) error {
		channelMgr = channels.NewManager(msgBus)
		if cfg.Channels.Discord.Enabled {
			ch, err := discord.New(cfg.Channels.Discord, msgBus, pairingStore)
			if err != nil {
				slog.Warn("discord channel disabled", "error", err)
			} else {
				channelMgr.RegisterChannel("discord", ch)
			}
		}
		if cfg.Channels.Telegram.Enabled {
			ch, err := telegram.New(cfg.Channels.Telegram, msgBus, pairingStore)
			if err != nil {
				slog.Warn("telegram channel disabled", "error", err)
			} else {
				channelMgr.RegisterChannel("telegram", ch)
			}
		}
		if cfg.Channels.WhatsApp.Enabled {
			ch, err := whatsapp.New(cfg.Channels.WhatsApp, msgBus, pairingStore)
			if err != nil {
				slog.Warn("whatsapp channel disabled", "error", err)
			} else {
				channelMgr.RegisterChannel("whatsapp", ch)
			}
		}
		if err := channelMgr.StartAll(ctx); err != nil {
			return err
		}
		boot.RegisterShutdown("channels", func(ctx context.Context) error { return channelMgr.StopAll(ctx) })
		return nil
	})

	var cronStore *cron.Store
	boot.AddStage("cron", false, func(context.Context) error {
		st, err := cron.Open(filepath.Join(dataDir, "cron.json"))
		if err != nil {
			return fmt.Errorf("open cron store: %w", err)
		}
		cronStore = st
		return nil
	})

	if err := boot.Boot(ctx); err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	go runInboundLoop(ctx, msgBus, agentRouter)

	if cronStore != nil {
		sched := cron.NewScheduler(cronStore, makeCronHandler(agentRouter, msgBus), cfg.Cron.ToRetryConfig())
		go sched.Run(ctx, time.Minute)
	}

	hb := heartbeat.New(func(ctx context.Context, channel, chatID, content string) error {
		msgBus.PublishOutbound(bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content})
		return nil
	})
	// No static schedule entries yet; RunScheduled still ticks so a future
	// config-driven schedule (AGENTS.md heartbeat directives) can be added
	// without touching the boot sequence.
	go hb.RunScheduled(ctx, nil)

	_ = pageCache
	_ = agentReg
	_ = deliveryQueue
	_ = secretsStore

	slog.Info("gateway listening", "host", cfg.Gateway.Host, "port", cfg.Gateway.Port)
	if err := server.Start(ctx); err != nil {
		slog.Error("gateway server error", "error", err)
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	boot.Shutdown(shutdownCtx, 5*time.Second)
}

// runInboundLoop pulls inbound channel messages off the bus and feeds them
// through the target agent's loop, publishing the reply back outbound.
func runInboundLoop(ctx context.Context, msgBus *bus.MessageBus, agentRouter *agent.Router) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go func(msg bus.InboundMessage) {
			agentID := msg.AgentID
			loop, ok := agentRouter.Get(agentID)
			if !ok {
				agentID = "default"
				loop = agentRouter.Default()
			}
			if loop == nil {
				slog.Error("no agent available for inbound message", "channel", msg.Channel)
				return
			}

			peerKind := sessions.PeerDirect
			if msg.PeerKind == string(sessions.PeerGroup) {
				peerKind = sessions.PeerGroup
			}
			sessionKey := sessions.BuildSessionKey(agentID, msg.Channel, peerKind, msg.ChatID)

			result, err := loop.Run(ctx, agent.RunRequest{
				SessionKey: sessionKey,
				Message:    msg.Content,
				Media:      msg.Media,
				Channel:    msg.Channel,
				ChatID:     msg.ChatID,
				PeerKind:   string(peerKind),
				UserID:     msg.UserID,
				SenderID:   msg.SenderID,
				RunID:      uuid.NewString(),
			})
			if err != nil {
				slog.Error("agent run failed", "channel", msg.Channel, "error", err)
				msgBus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: "Sorry, something went wrong."})
				return
			}
			msgBus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: result.Content})
		}(msg)
	}
}

// createAgentLoop builds one agent's Loop from config and registers it.
func createAgentLoop(
	agentID string,
	cfg *config.Config,
	router *agent.Router,
	providerRegistry *providers.Registry,
	msgBus *bus.MessageBus,
	sessStore store.SessionStore,
	toolsReg *tools.Registry,
	toolPE *tools.PolicyEngine,
	skillsLoader *skills.Loader,
	defaultWorkspace string,
	sandboxMgr sandbox.Manager,
) error {
	agentCfg := cfg.ResolveAgent(agentID)

	provider, err := providerRegistry.Get(agentCfg.Provider)
	if err != nil {
		names := providerRegistry.List()
		if len(names) == 0 {
			return fmt.Errorf("no providers configured")
		}
		provider, _ = providerRegistry.Get(names[0])
		slog.Warn("configured provider not found, using fallback", "agent", agentID, "wanted", agentCfg.Provider, "using", names[0])
	}

	workspace := defaultWorkspace
	if spec, ok := cfg.Agents.List[agentID]; ok && spec.Workspace != "" {
		workspace = config.ExpandHome(spec.Workspace)
		if !filepath.IsAbs(workspace) {
			workspace, _ = filepath.Abs(workspace)
		}
		os.MkdirAll(workspace, 0755)
	}

	rawFiles := bootstrap.LoadWorkspaceFiles(workspace)
	truncCfg := bootstrap.TruncateConfig{
		MaxCharsPerFile: agentCfg.BootstrapMaxChars,
		TotalMaxChars:   agentCfg.BootstrapTotalMaxChars,
	}
	if truncCfg.MaxCharsPerFile <= 0 {
		truncCfg.MaxCharsPerFile = bootstrap.DefaultMaxCharsPerFile
	}
	if truncCfg.TotalMaxChars <= 0 {
		truncCfg.TotalMaxChars = bootstrap.DefaultTotalMaxChars
	}
	contextFiles := bootstrap.BuildContextFiles(rawFiles, truncCfg)

	var skillAllowList []string
	var agentToolPolicy *config.ToolPolicySpec
	if spec, ok := cfg.Agents.List[agentID]; ok {
		skillAllowList = spec.Skills
		agentToolPolicy = spec.Tools
	}

	sandboxEnabled := false
	workspaceAccess := "rw"
	if sbCfg := agentCfg.Sandbox; sbCfg != nil && sandboxMgr != nil && sbCfg.Mode != "" && sbCfg.Mode != "off" {
		sandboxEnabled = true
		if sbCfg.WorkspaceAccess != "" {
			workspaceAccess = sbCfg.WorkspaceAccess
		}
	}

	loop := agent.NewLoop(agent.LoopConfig{
		ID:                    agentID,
		Provider:              provider,
		Model:                 agentCfg.Model,
		ContextWindow:         agentCfg.ContextWindow,
		MaxIterations:         agentCfg.MaxToolIterations,
		Workspace:             workspace,
		Bus:                   msgBus,
		Sessions:              sessStore,
		Tools:                 toolsReg,
		ToolPolicy:            toolPE,
		AgentToolPolicy:       agentToolPolicy,
		OwnerIDs:              cfg.Gateway.OwnerIDs,
		SkillsLoader:          skillsLoader,
		SkillAllowList:        skillAllowList,
		HasMemory:             false,
		ContextFiles:          contextFiles,
		CompactionCfg:         agentCfg.Compaction,
		ContextPruningCfg:     agentCfg.ContextPruning,
		SandboxEnabled:        sandboxEnabled,
		SandboxWorkspaceAccess: workspaceAccess,
		InjectionAction:       cfg.Gateway.InjectionAction,
		MaxMessageChars:       cfg.Gateway.MaxMessageChars,
	})

	router.Register(agentID, loop)
	slog.Info("agent created", "id", agentID, "provider", agentCfg.Provider, "model", agentCfg.Model)
	return nil
}

// makeCronHandler adapts a cron.Job into an agent run against the job's
// target agent (or the default agent), delivering the result outbound when
// the job asks for delivery.
func makeCronHandler(agentRouter *agent.Router, msgBus *bus.MessageBus) cron.Handler {
	return func(ctx context.Context, job *cron.Job) (*cron.Result, error) {
		agentID := job.AgentID
		loop, ok := agentRouter.Get(agentID)
		if !ok {
			agentID = "default"
			loop = agentRouter.Default()
		}
		if loop == nil {
			return nil, fmt.Errorf("no agent available to run cron job %s", job.Name)
		}

		// One running session per job so each trigger sees the prior run's
		// context rather than starting cold every time.
		sessionKey := sessions.BuildCronSessionKey(agentID, job.ID, job.ID)
		channel := job.Payload.Channel
		if channel == "" {
			channel = "cron"
		}

		result, err := loop.Run(ctx, agent.RunRequest{
			SessionKey: sessionKey,
			Message:    job.Payload.Message,
			Channel:    channel,
			ChatID:     job.Payload.To,
			RunID:      fmt.Sprintf("cron:%s", job.ID),
			TraceName:  fmt.Sprintf("Cron [%s] - %s", job.Name, agentID),
			TraceTags:  []string{"cron"},
		})
		if err != nil {
			return nil, err
		}

		if job.Payload.Deliver && job.Payload.Channel != "" && job.Payload.To != "" {
			msgBus.PublishOutbound(bus.OutboundMessage{Channel: job.Payload.Channel, ChatID: job.Payload.To, Content: result.Content})
		}

		cronResult := &cron.Result{Content: result.Content}
		if result.Usage != nil {
			cronResult.InputTokens = result.Usage.PromptTokens
			cronResult.OutputTokens = result.Usage.CompletionTokens
		}
		return cronResult, nil
	}
}
