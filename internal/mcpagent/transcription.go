package mcpagent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/podcaster/internal/provider"
	"github.com/kalambet/podcaster/internal/tools"
)

// Transcriber turns remote audio into text.
type Transcriber interface {
	Configured() bool
	Transcribe(ctx context.Context, audioURL, language, model string) (provider.Transcription, error)
}

var transcriptionLanguages = []tools.Language{
	{Code: "en", Name: "English"},
	{Code: "es", Name: "Spanish"},
	{Code: "fr", Name: "French"},
	{Code: "de", Name: "German"},
	{Code: "it", Name: "Italian"},
	{Code: "pt", Name: "Portuguese"},
	{Code: "nl", Name: "Dutch"},
	{Code: "pl", Name: "Polish"},
	{Code: "ru", Name: "Russian"},
	{Code: "ja", Name: "Japanese"},
	{Code: "ko", Name: "Korean"},
	{Code: "zh", Name: "Chinese"},
	{Code: "hi", Name: "Hindi"},
	{Code: "ar", Name: "Arabic"},
	{Code: "tr", Name: "Turkish"},
}

var transcriptionModels = []tools.Model{
	{Name: "nova-2", Description: "Latest and most accurate general-purpose model"},
	{Name: "nova", Description: "High accuracy general-purpose model"},
	{Name: "enhanced", Description: "Enhanced model for improved accuracy"},
	{Name: "base", Description: "Fastest model with good accuracy"},
}

// TranscriptionServer returns the transcription agent. Without a configured
// provider, or when the provider fails, it answers with a simulated
// transcript.
func TranscriptionServer(t Transcriber) *server.MCPServer {
	s := newServer("transcription-agent", "Transcribes podcast audio from a URL.")

	s.AddTool(
		mcp.NewTool(tools.TranscribeAudio,
			mcp.WithDescription("Transcribe the audio at a URL."),
			mcp.WithString("audio_url", mcp.Description("URL of the audio file"), mcp.Required()),
			mcp.WithString("language", mcp.Description("Language code; empty or auto detects it")),
			mcp.WithString("model", mcp.Description("Recognition model (default "+provider.DefaultDeepgramModel+")")),
		),
		transcribeHandler(t),
	)
	s.AddTool(
		mcp.NewTool(tools.GetSupportedLanguages,
			mcp.WithDescription("List languages the transcriber accepts."),
		),
		staticHandler(tools.LanguagesResult{Status: tools.Success(false), Languages: transcriptionLanguages}),
	)
	s.AddTool(
		mcp.NewTool(tools.GetAvailableModels,
			mcp.WithDescription("List recognition models."),
		),
		staticHandler(tools.ModelsResult{Status: tools.Success(false), Models: transcriptionModels}),
	)
	return s
}

func transcribeHandler(t Transcriber) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		audioURL, err := req.RequireString("audio_url")
		if err != nil || strings.TrimSpace(audioURL) == "" {
			return mcpError("audio_url is required"), nil
		}
		language := req.GetString("language", "")
		model := req.GetString("model", "")

		if !t.Configured() {
			slog.Debug("transcription provider not configured, simulating", "audio_url", audioURL)
			return jsonResult(tools.SimulatedTranscript(audioURL))
		}
		tr, err := t.Transcribe(ctx, audioURL, language, model)
		if err != nil {
			if ctx.Err() != nil {
				return mcpError(ctx.Err().Error()), nil
			}
			slog.Warn("transcription failed, simulating", "audio_url", audioURL, "error", err)
			return jsonResult(tools.SimulatedTranscript(audioURL))
		}

		lang := tr.Language
		if lang == "" {
			lang = language
		}
		if lang == "" {
			lang = "auto"
		}
		return jsonResult(tools.Transcript{
			Status:     tools.Success(false),
			Transcript: tr.Text,
			Language:   lang,
			Confidence: tr.Confidence,
		})
	}
}

func staticHandler(v any) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(v)
	}
}
