package mcpagent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/podcaster/internal/tools"
)

// TextTranslator translates text between languages.
type TextTranslator interface {
	Configured() bool
	Translate(ctx context.Context, text, source, target string) (string, error)
}

var translationLanguages = []tools.Language{
	{Code: "en", Name: "English"},
	{Code: "es", Name: "Spanish"},
	{Code: "fr", Name: "French"},
	{Code: "de", Name: "German"},
	{Code: "it", Name: "Italian"},
	{Code: "pt", Name: "Portuguese"},
	{Code: "nl", Name: "Dutch"},
	{Code: "ru", Name: "Russian"},
	{Code: "ja", Name: "Japanese"},
	{Code: "ko", Name: "Korean"},
	{Code: "zh", Name: "Chinese (Simplified)"},
	{Code: "ar", Name: "Arabic"},
	{Code: "hi", Name: "Hindi"},
	{Code: "tr", Name: "Turkish"},
	{Code: "pl", Name: "Polish"},
	{Code: "sv", Name: "Swedish"},
	{Code: "da", Name: "Danish"},
	{Code: "no", Name: "Norwegian"},
}

var translationModels = []tools.Model{
	{Name: "mistral-tiny", Description: "Fast and efficient model for basic translations"},
	{Name: "mistral-small", Description: "Balanced model with good accuracy and speed"},
	{Name: "mistral-medium", Description: "High accuracy model for complex translations"},
}

// TranslationServer returns the translation agent. Without a configured
// provider, or when the provider fails, it answers with a simulated
// translation.
func TranslationServer(t TextTranslator) *server.MCPServer {
	s := newServer("translation-agent", "Translates transcripts between languages.")

	s.AddTool(
		mcp.NewTool(tools.TranslateText,
			mcp.WithDescription("Translate text into a target language."),
			mcp.WithString("text", mcp.Description("Text to translate"), mcp.Required()),
			mcp.WithString("target_language", mcp.Description("Target language code"), mcp.Required()),
			mcp.WithString("source_language", mcp.Description("Source language code (default auto)")),
		),
		translateHandler(t),
	)
	s.AddTool(
		mcp.NewTool(tools.BatchTranslate,
			mcp.WithDescription("Translate several texts into one target language."),
			mcp.WithArray("texts", mcp.Description("Texts to translate"), mcp.Required(), mcp.WithStringItems()),
			mcp.WithString("target_language", mcp.Description("Target language code"), mcp.Required()),
			mcp.WithString("source_language", mcp.Description("Source language code (default auto)")),
		),
		batchTranslateHandler(t),
	)
	s.AddTool(
		mcp.NewTool(tools.GetSupportedLanguages,
			mcp.WithDescription("List languages the translator accepts."),
		),
		staticHandler(tools.LanguagesResult{Status: tools.Success(false), Languages: translationLanguages}),
	)
	s.AddTool(
		mcp.NewTool(tools.GetAvailableModels,
			mcp.WithDescription("List translation models."),
		),
		staticHandler(tools.ModelsResult{Status: tools.Success(false), Models: translationModels}),
	)
	return s
}

func translateHandler(t TextTranslator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcpError("text is required"), nil
		}
		target, err := req.RequireString("target_language")
		if err != nil || strings.TrimSpace(target) == "" {
			return mcpError("target_language is required"), nil
		}
		source := req.GetString("source_language", "auto")

		out, err := translateOne(ctx, t, text, source, target)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return jsonResult(out)
	}
}

func batchTranslateHandler(t TextTranslator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		texts := req.GetStringSlice("texts", nil)
		if len(texts) == 0 {
			return mcpError("texts is required"), nil
		}
		target, err := req.RequireString("target_language")
		if err != nil || strings.TrimSpace(target) == "" {
			return mcpError("target_language is required"), nil
		}
		source := req.GetString("source_language", "auto")

		res := tools.BatchTranslation{
			Status:         tools.Success(false),
			TotalTexts:     len(texts),
			TargetLanguage: target,
			Translations:   make([]tools.Translation, 0, len(texts)),
		}
		for i, text := range texts {
			out, err := translateOne(ctx, t, text, source, target)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			slog.Debug("batch translation progress", "done", i+1, "total", len(texts))
			res.Simulated = res.Simulated || out.Simulated
			res.Translations = append(res.Translations, out)
		}
		return jsonResult(res)
	}
}

// translateOne returns a real or simulated translation. Only cancellation of
// ctx is an error.
func translateOne(ctx context.Context, t TextTranslator, text, source, target string) (tools.Translation, error) {
	if !t.Configured() {
		slog.Debug("translation provider not configured, simulating")
		return tools.SimulatedTranslation(target), nil
	}
	out, err := t.Translate(ctx, text, source, target)
	if err != nil {
		if ctx.Err() != nil {
			return tools.Translation{}, ctx.Err()
		}
		slog.Warn("translation failed, simulating", "target_language", target, "error", err)
		return tools.SimulatedTranslation(target), nil
	}
	return tools.Translation{
		Status:         tools.Success(false),
		TranslatedText: out,
		SourceLanguage: source,
		TargetLanguage: target,
	}, nil
}
