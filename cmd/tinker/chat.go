package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/tinker/internal/agent"
	"github.com/haasonsaas/tinker/internal/cache"
	"github.com/haasonsaas/tinker/internal/config"
	"github.com/haasonsaas/tinker/internal/observability"
	"github.com/haasonsaas/tinker/internal/providers"
	"github.com/haasonsaas/tinker/internal/ratelimit"
	"github.com/haasonsaas/tinker/internal/sessions"
	"github.com/haasonsaas/tinker/internal/workspace"
	"github.com/haasonsaas/tinker/pkg/models"
)

const defaultSystemPrompt = `You are Tinker, a coding agent working in the user's project directory.
Use the available tools to inspect and modify the workspace. Prefer small,
verifiable steps. When you are done, summarize what changed.`

func buildChatCmd() *cobra.Command {
	var (
		sessionID   string
		workdir     string
		model       string
		prompt      string
		inline      bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive agent session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if workdir != "" {
				cfg.Tools.Workspace = workdir
			}
			if model != "" {
				cfg.LLM.Model = model
			}
			return runChat(cmd.Context(), cfg, chatOptions{
				sessionID:   sessionID,
				prompt:      prompt,
				inline:      inline,
				metricsAddr: metricsAddr,
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume a stored session by id")
	cmd.Flags().StringVarP(&workdir, "workspace", "w", "", "Workspace directory (overrides config)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model name (overrides config)")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Run a single turn with this input and exit")
	cmd.Flags().BoolVar(&inline, "inline-approvals", false, "Prompt for tool approval inline instead of suspending the turn")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	return cmd
}

type chatOptions struct {
	sessionID   string
	prompt      string
	inline      bool
	metricsAddr string
}

func runChat(ctx context.Context, cfg *config.Config, opts chatOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	if opts.metricsAddr != "" {
		go serveMetrics(opts.metricsAddr, registry, logger)
	}

	tracker, err := workspace.NewTracker(cfg.Tools.Workspace, logger)
	if err != nil {
		return err
	}
	defer tracker.Close()

	tools, err := buildToolRegistry(cfg)
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	session, history, err := resumeOrCreateSession(ctx, store, opts.sessionID, tracker.Root())
	if err != nil {
		return err
	}

	schedOpts := []agent.SchedulerOption{
		agent.WithCache(cache.New(cache.Options{MaxEntries: cfg.Cache.MaxEntries}), tracker.Token),
		agent.WithSchedulerLogger(logger),
		agent.WithSchedulerMetrics(metrics),
	}
	if opts.inline {
		schedOpts = append(schedOpts, agent.WithConfirmer(stdinConfirmer{}))
	}

	grants := agent.NewGrants()
	scheduler := agent.NewScheduler(tools, grants, agent.SchedulerConfig{
		Parallelism:    cfg.Tools.Parallelism,
		CallTimeout:    cfg.Tools.Timeout,
		MaxResultBytes: cfg.Tools.MaxResultBytes,
		CacheTTL:       cfg.Cache.TTL,
		Policy:         gatePolicy(cfg),
	}, schedOpts...)

	loopOpts := []agent.LoopOption{
		agent.WithLogger(logger),
		agent.WithMetrics(metrics),
		agent.WithProviderClassifier(providers.Classify),
		agent.WithSessionID(session.ID),
		agent.WithHistorySink(sessions.NewSink(store, session.ID)),
	}
	if len(history) > 0 {
		loopOpts = append(loopOpts, agent.WithHistory(history))
	}
	loop := agent.NewLoop(provider, tools, scheduler, grants, agent.LoopConfig{
		MaxRounds:     cfg.Loop.MaxRounds,
		MaxTurnTokens: cfg.Loop.MaxTurnTokens,
		Model:         cfg.LLM.Model,
		System:        defaultSystemPrompt,
		MaxTokens:     cfg.LLM.MaxTokens,
	}, loopOpts...)

	if opts.prompt != "" {
		return oneShot(ctx, loop, opts.prompt)
	}

	fmt.Printf("tinker %s | provider=%s session=%s workspace=%s\n",
		version, provider.Name(), session.ID, tracker.Root())
	fmt.Println(`type a request, or "exit" to quit`)

	return repl(ctx, loop)
}

// oneShot runs a single turn and exits, still prompting on stdin when
// the turn suspends on a gated tool call.
func oneShot(ctx context.Context, loop *agent.Loop, prompt string) error {
	in := bufio.NewScanner(os.Stdin)
	result, err := loop.Advance(ctx, prompt)
	for err == nil && result.Outcome == agent.OutcomeAwaitingApproval {
		approved, remember := promptApproval(in, result.Pending)
		result, err = loop.Resume(ctx, approved, remember)
	}
	if err != nil {
		return err
	}
	fmt.Println(result.Text)
	return nil
}

// repl reads user turns from stdin and drives the loop, prompting for
// approval whenever a turn suspends on a gated tool call.
func repl(ctx context.Context, loop *agent.Loop) error {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Print("> ")
		if !in.Scan() {
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		result, err := loop.Advance(ctx, line)
		for err == nil && result.Outcome == agent.OutcomeAwaitingApproval {
			approved, remember := promptApproval(in, result.Pending)
			result, err = loop.Resume(ctx, approved, remember)
		}
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\ninterrupted")
				return nil
			}
			fmt.Fprintln(os.Stderr, "turn failed:", err)
			continue
		}

		fmt.Println(result.Text)
		fmt.Printf("(%d rounds, %d tokens)\n", result.Rounds, result.Usage.Total())
	}
}

// stdinConfirmer answers scheduler approval requests inline from
// standard input, so turns never suspend.
type stdinConfirmer struct{}

func (stdinConfirmer) Confirm(ctx context.Context, req agent.ApprovalRequest) (bool, bool, error) {
	if ctx.Err() != nil {
		return false, false, ctx.Err()
	}
	in := bufio.NewScanner(os.Stdin)
	approved, remember := promptApproval(in, &req)
	return approved, remember, nil
}

func promptApproval(in *bufio.Scanner, req *agent.ApprovalRequest) (approved, remember bool) {
	if req == nil {
		return false, false
	}
	fmt.Printf("\ntool %s wants to run (risk: %s)\n", req.ToolName, req.Risk)
	if len(req.Input) > 0 {
		fmt.Printf("  input: %s\n", req.Input)
	}
	for {
		fmt.Print("approve? [y]es / [n]o / [a]lways this session: ")
		if !in.Scan() {
			return false, false
		}
		switch strings.ToLower(strings.TrimSpace(in.Text())) {
		case "y", "yes":
			return true, false
		case "a", "always":
			return true, true
		case "n", "no", "":
			return false, false
		}
	}
}

func resumeOrCreateSession(ctx context.Context, store sessions.Store, id, root string) (*models.Session, []models.Message, error) {
	if id == "" {
		session := &models.Session{Workspace: root}
		if err := store.Create(ctx, session); err != nil {
			return nil, nil, fmt.Errorf("create session: %w", err)
		}
		return session, nil, nil
	}
	session, err := store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return nil, nil, fmt.Errorf("session %s not found", id)
		}
		return nil, nil, err
	}
	history, err := store.History(ctx, id, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	return session, history, nil
}

func newProvider(cfg *config.Config) (agent.Provider, error) {
	var (
		provider agent.Provider
		err      error
	)
	switch cfg.LLM.Provider {
	case "openai":
		provider, err = providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
	default:
		provider, err = providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
	}
	if err != nil {
		return nil, err
	}
	if bucket := ratelimit.New(cfg.LLM.RateLimit); bucket != nil {
		provider = providers.NewRateLimited(provider, bucket)
	}
	return provider, nil
}

func openStore(cfg *config.Config) (sessions.Store, error) {
	if cfg.Session.Store == "sqlite" {
		return sessions.NewSQLiteStore(cfg.Session.Path)
	}
	return sessions.NewMemoryStore(), nil
}

func gatePolicy(cfg *config.Config) agent.GatePolicy {
	blocked := make(map[string]bool, len(cfg.Permissions.Blocked))
	for _, name := range cfg.Permissions.Blocked {
		blocked[name] = true
	}
	return agent.GatePolicy{
		AutoApproveBelow:   models.ParseRiskLevel(cfg.Permissions.AutoApproveBelow),
		Blocked:            blocked,
		AllowSessionGrants: cfg.Permissions.AllowSessionGrants,
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
