package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/podcaster/internal/agent"
	"github.com/kalambet/podcaster/internal/config"
	"github.com/kalambet/podcaster/internal/dedup"
	"github.com/kalambet/podcaster/internal/notify"
	"github.com/kalambet/podcaster/internal/pipeline"
	"github.com/kalambet/podcaster/internal/storage"
)

// app holds what the orchestrator-side commands share.
type app struct {
	cfg      config.Config
	store    *storage.Store
	dedup    *dedup.Store
	registry *agent.Registry
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

// setupLogging installs a text handler on stderr. stdout stays free for
// command output and, in agent mode, the protocol.
func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch {
	case verbose || strings.EqualFold(level, "debug"):
		logLevel = slog.LevelDebug
	case strings.EqualFold(level, "warn"):
		logLevel = slog.LevelWarn
	case strings.EqualFold(level, "error"):
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	reg, err := buildRegistry(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{
		cfg:      cfg,
		store:    store,
		dedup:    dedup.NewStore(cfg.StateDir()),
		registry: reg,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// buildRegistry starts every agent as a subcommand of this binary unless the
// agents file overrides it.
func buildRegistry(cfg config.Config) (*agent.Registry, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	specs := defaultAgentSpecs(exe)
	if cfg.Agents.File != "" {
		overrides, err := agent.LoadSpecs(cfg.Agents.File)
		if err != nil {
			return nil, err
		}
		specs = agent.MergeSpecs(specs, overrides)
	}
	return agent.FromSpecs(specs, cfg.AgentTimeout()), nil
}

func defaultAgentSpecs(exe string) []agent.Spec {
	names := []string{agent.FeedMonitor, agent.Transcription, agent.Translation, agent.TTS}
	specs := make([]agent.Spec, 0, len(names))
	for _, name := range names {
		specs = append(specs, agent.Spec{Name: name, Command: exe, Args: []string{"agent", name}})
	}
	return specs
}

// runOptions overlay flag values on the configured pipeline settings.
type runOptions struct {
	batchSize int
	pageSize  int
	language  string
	voice     string
}

func (a *app) orchestrator(ro runOptions, withNotifier bool) (*pipeline.Orchestrator, error) {
	opts := pipeline.Options{
		BatchSize:      a.cfg.Pipeline.BatchSize,
		PageSize:       a.cfg.Pipeline.PageSize,
		TargetLanguage: a.cfg.Pipeline.TargetLanguage,
		Voice:          a.cfg.Pipeline.Voice,
		Lock:           pipeline.NewLock(a.cfg.LockPath()),
	}
	if ro.batchSize > 0 {
		opts.BatchSize = ro.batchSize
	}
	if ro.pageSize > 0 {
		opts.PageSize = ro.pageSize
	}
	if ro.language != "" {
		opts.TargetLanguage = ro.language
	}
	if ro.voice != "" {
		opts.Voice = ro.voice
	}
	if withNotifier {
		n, err := notify.New(a.cfg.Secrets.TelegramToken, int64(a.cfg.Notify.TelegramChatID))
		if err != nil {
			return nil, err
		}
		opts.Notifier = n
	}
	return pipeline.New(a.registry, opts), nil
}
