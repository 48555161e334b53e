package mcpagent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/podcaster/internal/provider"
	"github.com/kalambet/podcaster/internal/tools"
)

const recentMediaFiles = 10

// Synthesizer turns text into MP3 audio.
type Synthesizer interface {
	Configured() bool
	Synthesize(ctx context.Context, text, voiceID, model string, settings *provider.VoiceSettings) ([]byte, error)
}

// TTSConfig wires the speech agent. DefaultVoice replaces the "default"
// voice alias; MediaDir receives generated audio, served under BaseURL.
type TTSConfig struct {
	Synth        Synthesizer
	DefaultVoice string
	MediaDir     string
	BaseURL      string
}

// TTSServer returns the speech synthesis agent. Without a configured
// provider or voice, or when the provider fails, it answers with a simulated
// audio reference.
func TTSServer(cfg TTSConfig) *server.MCPServer {
	s := newServer("tts-agent", "Generates speech audio from translated text.")

	s.AddTool(
		mcp.NewTool(tools.GenerateSpeech,
			mcp.WithDescription("Generate speech audio for text."),
			mcp.WithString("text", mcp.Description("Text to speak"), mcp.Required()),
			mcp.WithString("voice_id", mcp.Description("Voice id, or default")),
			mcp.WithString("model", mcp.Description("Synthesis model (default "+provider.DefaultElevenLabsModel+")")),
			mcp.WithNumber("stability", mcp.Description("Voice stability between 0 and 1")),
			mcp.WithNumber("similarity_boost", mcp.Description("Voice similarity boost between 0 and 1")),
		),
		speechHandler(cfg),
	)
	s.AddTool(
		mcp.NewTool(tools.GetStorageInfo,
			mcp.WithDescription("Describe the generated audio files."),
		),
		storageInfoHandler(cfg),
	)
	return s
}

func speechHandler(cfg TTSConfig) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcpError("text is required"), nil
		}
		requested := req.GetString("voice_id", "")
		if requested == "" {
			requested = "default"
		}
		voice := requested
		if voice == "default" {
			voice = cfg.DefaultVoice
		}
		model := req.GetString("model", provider.DefaultElevenLabsModel)
		settings := provider.DefaultVoiceSettings
		settings.Stability = req.GetFloat("stability", settings.Stability)
		settings.SimilarityBoost = req.GetFloat("similarity_boost", settings.SimilarityBoost)

		if cfg.Synth == nil || !cfg.Synth.Configured() || voice == "" {
			slog.Debug("speech provider not configured, simulating", "voice", requested)
			return jsonResult(tools.SimulatedSpeech(text, requested))
		}
		audio, err := cfg.Synth.Synthesize(ctx, text, voice, model, &settings)
		if err != nil {
			if ctx.Err() != nil {
				return mcpError(ctx.Err().Error()), nil
			}
			slog.Warn("speech synthesis failed, simulating", "voice", voice, "error", err)
			return jsonResult(tools.SimulatedSpeech(text, requested))
		}

		path, err := writeMedia(cfg.MediaDir, audio)
		if err != nil {
			return jsonResult(tools.Speech{Status: tools.Failure(err.Error()), VoiceID: voice, Model: model})
		}
		slog.Info("speech generated", "file", path, "bytes", len(audio), "voice", voice)
		return jsonResult(tools.Speech{
			Status:    tools.Success(false),
			AudioFile: path,
			AudioURL:  mediaURL(cfg.BaseURL, path),
			VoiceID:   voice,
			Model:     model,
		})
	}
}

// writeMedia stores audio as tts_<uuid>.mp3 in dir via a temp file and
// rename.
func writeMedia(dir string, audio []byte) (string, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "podcaster-media")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating media dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tts-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp audio file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing audio file: %w", err)
	}
	path := filepath.Join(dir, "tts_"+uuid.NewString()+".mp3")
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("renaming audio file: %w", err)
	}
	return path, nil
}

func mediaURL(baseURL, path string) string {
	if baseURL == "" {
		return "file://" + path
	}
	return strings.TrimRight(baseURL, "/") + "/" + filepath.Base(path)
}

func storageInfoHandler(cfg TTSConfig) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := os.ReadDir(cfg.MediaDir)
		if errors.Is(err, fs.ErrNotExist) || cfg.MediaDir == "" {
			return jsonResult(tools.StorageInfo{Status: tools.Failure(fmt.Sprintf("storage directory %q does not exist", cfg.MediaDir))})
		}
		if err != nil {
			return jsonResult(tools.StorageInfo{Status: tools.Failure(err.Error())})
		}

		res := tools.StorageInfo{
			Status:     tools.Success(false),
			StorageDir: cfg.MediaDir,
			BaseURL:    cfg.BaseURL,
			Files:      []tools.MediaFile{},
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.IsDir() || (ext != ".mp3" && ext != ".wav" && ext != ".ogg") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			res.TotalFiles++
			res.TotalSize += info.Size()
			res.Files = append(res.Files, tools.MediaFile{
				Filename:     e.Name(),
				Size:         info.Size(),
				URL:          mediaURL(cfg.BaseURL, filepath.Join(cfg.MediaDir, e.Name())),
				ModifiedTime: float64(info.ModTime().UnixNano()) / 1e9,
			})
		}
		sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].ModifiedTime < res.Files[j].ModifiedTime })
		if len(res.Files) > recentMediaFiles {
			res.Files = res.Files[len(res.Files)-recentMediaFiles:]
		}
		return jsonResult(res)
	}
}
