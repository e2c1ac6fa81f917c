// Package app wires every subsystem into one facade the CLI talks to.
package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/bolt/internal/agent"
	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/identity"
	"github.com/nextlevelbuilder/bolt/internal/pipeline"
	"github.com/nextlevelbuilder/bolt/internal/providers"
	"github.com/nextlevelbuilder/bolt/internal/store"
	"github.com/nextlevelbuilder/bolt/internal/tools"
	"github.com/nextlevelbuilder/bolt/internal/workers"
)

const (
	ModeCompanion = "companion"
	ModeCode      = "code"
	ModeBuild     = "build"
)

const summarizerPoll = 15 * time.Second

// App owns the store, providers, workers, and the session. One App per
// process; the CLI calls it from a single goroutine, workers run behind it.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	home   string

	store    *store.Store
	local    *providers.Ollama
	cloud    *providers.Cloud
	registry *tools.Registry
	plugins  *tools.PluginLoader
	identity *identity.Builder
	executor *agent.Executor
	pipeline *pipeline.Runner

	summarizer *workers.Summarizer
	tracker    *workers.TaskTracker
	learner    *workers.ProfileLearner
	heartbeat  *workers.Heartbeat

	sessionID string

	modeMu sync.RWMutex
	mode   string

	// turnMu single-flights ProcessMessage so background callers (web,
	// future schedulers) can't interleave turns on one session.
	turnMu sync.Mutex
}

// New opens the store, wires providers, tools, workers, and the pipeline,
// and resumes (or creates) the session. Call Start afterwards to launch
// the background workers.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	local := providers.NewOllama(cfg.OllamaURL, logger)
	cloud := providers.NewCloud(providers.CloudSettings{
		APIKey: cfg.Cloud.APIKey,
		Model:  cfg.Cloud.Model,
		URL:    cfg.Cloud.URL,
	}, logger)

	sandbox := tools.NewSandbox(home)
	registry := tools.NewRegistry(logger)
	tools.RegisterBuiltins(registry, sandbox, cfg.ToolTimeout())
	plugins := tools.NewPluginLoader(cfg.PluginDir(), registry, sandbox, cfg.ToolTimeout(), logger)
	if err := plugins.Load(); err != nil {
		logger.Warn("plugin load failed", "error", err)
	}

	id := identity.NewBuilder(cfg, st, local, home, logger)
	router := agent.NewRouter(cfg, local, cloud.Available, logger)
	assembler := agent.NewAssembler(cfg, st, id, logger)
	executor := agent.NewExecutor(cfg, st, router, assembler, registry, local, cloud, logger)
	runner := pipeline.NewRunner(cfg, local, id, home, logger)

	sessionID, err := st.KVGet("last_session", "")
	if err != nil {
		logger.Warn("session lookup failed", "error", err)
	}
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	st.KVSet("last_session", sessionID)
	st.LogEvent("session_start", sessionID)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		home:     home,
		store:    st,
		local:    local,
		cloud:    cloud,
		registry: registry,
		plugins:  plugins,
		identity: id,
		executor: executor,
		pipeline: runner,
		tracker:  workers.NewTaskTracker(cfg, st, local, logger),
		learner:  workers.NewProfileLearner(cfg, id, logger),
		heartbeat: workers.NewHeartbeat(
			cfg, local, workers.HeartbeatInterval, logger),
		sessionID: sessionID,
		mode:      ModeCompanion,
	}
	a.summarizer = workers.NewSummarizer(cfg, st, local, sessionID, summarizerPoll, logger)
	return a, nil
}

// NewSessionID returns a fresh 12-hex-char session id.
func NewSessionID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:6])
}

// Start launches the background workers and the plugin watcher, then
// warms the chat models so the first turn doesn't stall on a cold load.
func (a *App) Start(ctx context.Context) {
	a.summarizer.Start()
	a.heartbeat.Start()
	if err := a.plugins.Watch(); err != nil {
		a.logger.Warn("plugin watcher failed", "error", err)
	}
	go a.preload(ctx)
}

// preload warms the companion-mode models. Failures are logged, never fatal —
// BOLT still answers, just slower on the first turn.
func (a *App) preload(ctx context.Context) {
	for _, key := range a.cfg.CompanionModels() {
		if err := a.local.Warm(ctx, a.cfg.Model(key)); err != nil {
			a.store.LogEvent("preload_fail", "could not load "+string(key))
			continue
		}
		a.store.LogEvent("preload", "loaded "+string(key))
	}
}

// SessionID returns the current session id.
func (a *App) SessionID() string { return a.sessionID }

// Mode returns the current session mode.
func (a *App) Mode() string {
	a.modeMu.RLock()
	defer a.modeMu.RUnlock()
	return a.mode
}

// SetMode switches the session mode. A real switch leaves a handoff so the
// next brain region picks up where this one stopped.
func (a *App) SetMode(mode string) {
	a.modeMu.Lock()
	prev := a.mode
	a.mode = mode
	a.modeMu.Unlock()
	if prev == mode {
		return
	}
	a.store.LogEvent("mode_switch", prev+" -> "+mode)

	from := a.modeModel(prev)
	to := a.modeModel(mode)
	convo := a.recentTranscript(10)
	if strings.TrimSpace(convo) == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.identity.GenerateHandoff(ctx, a.sessionID, from, to, convo); err != nil {
			a.logger.Debug("handoff failed", "error", err)
		}
	}()
}

func (a *App) modeModel(mode string) string {
	switch mode {
	case ModeCode:
		return a.cfg.Model(config.ModelFastCode)
	case ModeBuild:
		return a.cfg.Model(config.ModelBeast)
	default:
		return a.cfg.Model(config.ModelCompanion)
	}
}

// ProcessMessage runs one full turn and the post-turn learners. Streaming
// output reaches sink as it is generated.
func (a *App) ProcessMessage(ctx context.Context, userMessage string, sink agent.Sink) (string, error) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	response, err := a.executor.ProcessMessage(ctx, a.sessionID, userMessage, a.Mode(), sink)
	if err != nil {
		return "", err
	}

	a.tracker.Check(ctx, userMessage, response)
	a.learner.Tick(userMessage, response)
	return response, nil
}

// recentTranscript renders the last n messages as "role: content" lines.
func (a *App) recentTranscript(n int) string {
	msgs, err := a.store.RecentMessages(a.sessionID, n)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// RunPipeline kicks off a build from the recent conversation. It returns
// an error when no build can start; progress goes to reporter and the
// outcome lands in the conversation via the callback.
func (a *App) RunPipeline(ctx context.Context, reporter pipeline.Reporter) error {
	if a.pipeline.Running() {
		return fmt.Errorf("a build is already running")
	}
	convo := a.recentTranscript(30)
	if strings.TrimSpace(convo) == "" {
		return fmt.Errorf("no conversation yet — chat about what you want to build first")
	}

	a.SetMode(ModeBuild)
	a.store.LogEvent("build_started", "")
	launched := a.pipeline.Run(ctx, convo, reporter, func(res pipeline.Result) {
		if res.Success {
			a.store.SaveMessage(a.sessionID, store.RoleAssistant, "Build complete. "+res.Summary)
			a.store.LogEvent("build_done", res.OutputDir)
		} else {
			a.store.LogEvent("build_failed", res.Summary)
		}
		a.SetMode(ModeCompanion)
	})
	if !launched {
		a.SetMode(ModeCompanion)
		return fmt.Errorf("a build is already running")
	}
	return nil
}

// PipelineRunning reports whether a build is in flight.
func (a *App) PipelineRunning() bool { return a.pipeline.Running() }

// ListTools returns the registered tools, builtins first.
func (a *App) ListTools() []tools.Info { return a.registry.List() }

// ProfileDisplay renders the learned user profile for /profile.
func (a *App) ProfileDisplay() string { return a.identity.ProfileDisplay() }

// ClearProfile wipes everything learned about the user.
func (a *App) ClearProfile() error { return a.store.ClearProfile() }

// ForgetFact removes one learned fact. Returns false when it didn't exist.
func (a *App) ForgetFact(category, key string) (bool, error) {
	return a.store.ForgetFact(category, key)
}

// CloudName describes the configured cloud brain, or "" when local-only.
func (a *App) CloudName() string {
	if !a.cloud.Configured() {
		return ""
	}
	return a.cloud.DisplayName()
}

// SaveSnapshot persists a compact snapshot of the current session.
func (a *App) SaveSnapshot() error {
	return a.store.SaveSessionSnapshot(a.sessionID)
}

// NewSession snapshots and closes the current session, then opens a fresh
// one. The profile and long-term memory persist across sessions.
func (a *App) NewSession(ctx context.Context) string {
	a.summarizer.Stop()
	if err := a.summarizer.Summarize(ctx); err != nil {
		a.logger.Debug("final summary failed", "error", err)
	}
	if err := a.store.SaveSessionSnapshot(a.sessionID); err != nil {
		a.logger.Warn("snapshot failed", "error", err)
	}

	a.sessionID = NewSessionID()
	a.store.KVSet("last_session", a.sessionID)
	a.store.LogEvent("session_start", a.sessionID+" (cleared)")

	a.summarizer = workers.NewSummarizer(a.cfg, a.store, a.local, a.sessionID, summarizerPoll, a.logger)
	a.summarizer.Start()
	return a.sessionID
}

// Shutdown stops the workers, forces a final summary, snapshots the
// session, and closes the store.
func (a *App) Shutdown(ctx context.Context) {
	a.summarizer.Stop()
	a.heartbeat.Stop()
	a.plugins.Close()

	if err := a.summarizer.Summarize(ctx); err != nil {
		a.logger.Debug("final summary failed", "error", err)
	}
	if err := a.store.SaveSessionSnapshot(a.sessionID); err != nil {
		a.logger.Warn("snapshot failed", "error", err)
	}
	a.store.LogEvent("session_end", a.sessionID)

	a.learner.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
}

// PingLocal checks that the inference server is reachable.
func (a *App) PingLocal(ctx context.Context) error { return a.local.Ping(ctx) }

// CloudAvailable checks cloud reachability (cached for a minute).
func (a *App) CloudAvailable(ctx context.Context) bool { return a.cloud.Available(ctx) }
