package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/agentdeck/internal/bus"
	"github.com/basket/agentdeck/internal/command"
	"github.com/basket/agentdeck/internal/config"
	"github.com/basket/agentdeck/internal/notify"
	otelPkg "github.com/basket/agentdeck/internal/otel"
	"github.com/basket/agentdeck/internal/remote"
	"github.com/basket/agentdeck/internal/storage"
	"github.com/basket/agentdeck/internal/store"
	"github.com/basket/agentdeck/internal/syncer"
	"github.com/basket/agentdeck/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

// viewState is the opaque presentation snapshot captured on shutdown and
// restored on the next start.
type viewState struct {
	LastCommand string    `json:"lastCommand,omitempty"`
	SavedAt     time.Time `json:"savedAt"`
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                 Start the interactive console
  %s -daemon         Run headless (periodic sync only, logs to stdout)

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  AGENTDECK_HOME                  Data directory (default: ~/.agentdeck)
  AGENTDECK_LOG_LEVEL             Log level override
  AGENTDECK_SYNC_INTERVAL_SECONDS Sync interval override
`)
}

func main() {
	daemon := flag.Bool("daemon", false, "run headless (no console)")
	memory := flag.Bool("memory", false, "keep state in memory only (no sqlite)")
	homeFlag := flag.String("home", "", "data directory (overrides AGENTDECK_HOME)")
	flag.Usage = printUsage
	flag.Parse()

	interactive := !*daemon && isatty.IsTerminal(os.Stdin.Fd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	home := *homeFlag
	if home == "" {
		home = config.HomeDir()
	}
	cfg, err := config.LoadFrom(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Quiet logs (file-only) in interactive mode so the console stays clean.
	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("agentdeck starting", "version", Version, "home", cfg.HomeDir)

	if code := run(ctx, cfg, logger, interactive, *memory); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, interactive, memoryOnly bool) int {
	provider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.OTel.Enabled,
		Exporter:    cfg.OTel.Exporter,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
		SampleRate:  cfg.OTel.SampleRate,
	})
	if err != nil {
		logger.Error("otel init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		logger.Error("otel metrics", "error", err)
		return 1
	}

	var ns storage.Namespace
	if memoryOnly {
		ns = storage.NewMemory()
	} else {
		db, err := storage.OpenSQLite(filepath.Join(cfg.HomeDir, cfg.Storage.Path))
		if err != nil {
			logger.Error("open storage", "error", err)
			return 1
		}
		defer db.Close()
		ns = db
	}

	b := bus.New()
	st := store.New(ns, b, logger)
	seedAgents(ctx, st, logger)
	seedTierSettings(ctx, st, cfg.Notifications)

	rmt := remote.NewSimulated()
	processor := command.New(st, rmt, logger, metrics)

	deliverer := notify.New(notify.Config{
		Store:      st,
		Bus:        b,
		Logger:     logger,
		Metrics:    metrics,
		Channels:   defaultChannels(logger),
		DrainDelay: time.Duration(cfg.Notifications.DrainDelayMs) * time.Millisecond,
	})

	manager, err := syncer.NewManager(syncer.Config{
		Store:         st,
		Namespace:     ns,
		Bus:           b,
		Remote:        rmt,
		Logger:        logger,
		Metrics:       metrics,
		Notifier:      deliverer,
		Interval:      time.Duration(cfg.Sync.IntervalSeconds) * time.Second,
		CronExpr:      cfg.Sync.Cron,
		RetryInterval: time.Duration(cfg.Sync.RetryIntervalSeconds) * time.Second,
		MaxRetries:    cfg.Sync.MaxRetries,
	})
	if err != nil {
		logger.Error("sync manager", "error", err)
		return 1
	}
	processor.SyncNow = func() { manager.SyncNow(context.Background()) }

	signalPath := filepath.Join(cfg.HomeDir, "view_state.signal")
	watcher := syncer.NewSignalWatcher(signalPath, b, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("view-state watcher unavailable", "error", err)
	}

	var restored viewState
	if blob, ok, err := manager.LoadViewState(ctx); err != nil {
		logger.Warn("view state unreadable", "error", err)
	} else if ok {
		if err := json.Unmarshal(blob, &restored); err == nil {
			logger.Info("view state restored", "saved_at", restored.SavedAt)
		}
	}

	manager.Start(ctx)

	var lastCommand string
	if interactive {
		console := &Console{
			Processor: processor,
			Manager:   manager,
			Deliverer: deliverer,
			Store:     st,
			Logger:    logger,
		}
		lastCommand = console.Run(ctx)
	} else {
		logger.Info("running headless, ctrl-c to stop")
		<-ctx.Done()
	}

	// Shutdown ordering: capture the view snapshot first, then stop the sync
	// loop, then let the deferred closers run.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	blob, _ := json.Marshal(viewState{LastCommand: lastCommand, SavedAt: time.Now().UTC()})
	if err := manager.SaveViewState(shutdownCtx, blob, signalPath); err != nil {
		logger.Warn("save view state", "error", err)
	}
	manager.Stop()
	logger.Info("agentdeck stopped")
	return 0
}

// defaultChannels gives every tier a log-backed renderer so the process is
// usable without a UI attached.
func defaultChannels(logger *slog.Logger) map[notify.Tier]notify.Channel {
	return map[notify.Tier]notify.Channel{
		notify.TierPanel:  notify.NewLogChannel("panel", logger),
		notify.TierBanner: notify.NewLogChannel("banner", logger),
		notify.TierNative: notify.NewLogChannel("native", logger),
	}
}

// seedAgents registers the demo agents on first run so the command surface
// is exercisable out of the box.
func seedAgents(ctx context.Context, st *store.Store, logger *slog.Logger) {
	if len(st.Agents()) > 0 {
		return
	}
	seeds := []store.AgentRecord{
		{ID: "research_1", Name: "Research Agent", Type: store.AgentTypeResearch, Status: store.AgentActive,
			Capabilities: []string{"search", "summarize", "cite"}},
		{ID: "assistant_1", Name: "Personal Assistant", Type: store.AgentTypeAssistant, Status: store.AgentIdle,
			Capabilities: []string{"ask", "remind", "schedule"}},
		{ID: "analysis_1", Name: "Data Analyst", Type: store.AgentTypeAnalysis, Status: store.AgentActive,
			Capabilities: []string{"analyze", "chart", "forecast"}},
		{ID: "creative_1", Name: "Creative Writer", Type: store.AgentTypeCreative, Status: store.AgentIdle,
			Capabilities: []string{"draft", "brainstorm", "rewrite"}},
		{ID: "code_1", Name: "Code Assistant", Type: store.AgentTypeCode, Status: store.AgentBusy,
			Capabilities: []string{"review", "generate", "refactor"}},
	}
	for _, rec := range seeds {
		st.SaveAgent(ctx, rec)
	}
	logger.Info("seeded demo agents", "count", len(seeds))
}

// seedTierSettings writes the configured notification tier defaults into the
// settings record once. Runtime changes then own the record.
func seedTierSettings(ctx context.Context, st *store.Store, nc config.NotificationsConfig) {
	if _, ok := st.SettingsSnapshot()["notifications"]; ok {
		return
	}
	section := map[string]interface{}{}
	for tier, tc := range nc.Tiers {
		section[tier] = map[string]interface{}{
			"enabled":          tc.Enabled,
			"sound":            tc.Sound,
			"durationMs":       tc.DurationMs,
			"useNativeChannel": tc.UseNativeChannel,
		}
	}
	if len(section) > 0 {
		st.UpdateSettings(ctx, store.Settings{"notifications": section})
	}
}
