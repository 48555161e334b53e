package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/podcaster/internal/agent"
	"github.com/kalambet/podcaster/internal/config"
	"github.com/kalambet/podcaster/internal/dedup"
	"github.com/kalambet/podcaster/internal/mcpagent"
	"github.com/kalambet/podcaster/internal/provider"
	"github.com/kalambet/podcaster/internal/storage"
)

var agentCmd = &cobra.Command{
	Use:       "agent <" + agent.FeedMonitor + "|" + agent.Transcription + "|" + agent.Translation + "|" + agent.TTS + ">",
	Short:     "Serve one agent as an MCP server on stdio",
	Long:      "Serve one agent on stdin/stdout. The orchestrator starts these itself; run by hand only to debug an agent.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{agent.FeedMonitor, agent.Transcription, agent.Translation, agent.TTS},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := slog.Default().With("agent", args[0])
		slog.SetDefault(logger)

		s, cleanup, err := buildAgentServer(args[0], cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signalContext()
		defer stop()

		logger.Debug("agent serving on stdio")
		return mcpagent.ServeStdio(ctx, s, os.Stdin, os.Stdout)
	},
}

// buildAgentServer wires the named agent to its provider. Missing keys leave
// the provider unconfigured and the agent answers with simulated output.
func buildAgentServer(name string, cfg config.Config) (*server.MCPServer, func(), error) {
	noop := func() {}
	switch name {
	case agent.FeedMonitor:
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening storage: %w", err)
		}
		m := mcpagent.NewFeedMonitor(mcpagent.FeedMonitorConfig{
			Store:     dedup.NewStore(cfg.StateDir()),
			Registry:  store,
			FeedsFile: cfg.Feeds.File,
		})
		return m.Server(), func() { store.Close() }, nil
	case agent.Transcription:
		return mcpagent.TranscriptionServer(provider.NewDeepgram(cfg.Secrets.DeepgramAPIKey)), noop, nil
	case agent.Translation:
		t := provider.NewTranslator(cfg.Secrets.MistralAPIKey, cfg.Translation.BaseURL, cfg.Translation.Model)
		return mcpagent.TranslationServer(t), noop, nil
	case agent.TTS:
		return mcpagent.TTSServer(mcpagent.TTSConfig{
			Synth:        provider.NewElevenLabs(cfg.Secrets.ElevenLabsAPIKey),
			DefaultVoice: cfg.TTS.VoiceID,
			MediaDir:     cfg.Media.Dir,
			BaseURL:      cfg.Media.BaseURL,
		}), noop, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", agent.ErrUnknownAgent, name)
}
