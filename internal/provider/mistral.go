package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const (
	DefaultMistralBaseURL = "https://api.mistral.ai/v1"
	DefaultMistralModel   = "mistral-tiny"
	maxTranslationTokens  = 4000
)

// Translator translates text through an OpenAI-compatible chat completions
// endpoint (Mistral by default).
type Translator struct {
	client     openai.Client
	model      string
	configured bool
}

// NewTranslator returns a translator for apiKey. Empty baseURL and model use
// the Mistral defaults.
func NewTranslator(apiKey, baseURL, model string) *Translator {
	if baseURL == "" {
		baseURL = DefaultMistralBaseURL
	}
	if model == "" {
		model = DefaultMistralModel
	}
	return &Translator{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"),
			option.WithMaxRetries(maxRetries-1),
		),
		model:      model,
		configured: apiKey != "",
	}
}

// Configured reports whether an API key is set.
func (t *Translator) Configured() bool { return t.configured }

// Model returns the chat model used for translation.
func (t *Translator) Model() string { return t.model }

// Translate returns text translated into target. An empty or "auto" source
// lets the model detect the language.
func (t *Translator) Translate(ctx context.Context, text, source, target string) (string, error) {
	if !t.configured {
		return "", ErrNotConfigured
	}

	resp, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(translationPrompt(text, source, target)),
					},
				},
			},
		},
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(int64(min(len(text)*2, maxTranslationTokens))),
	})
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no translation choices returned")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("empty translation returned")
	}
	return out, nil
}

func translationPrompt(text, source, target string) string {
	if source == "" || source == "auto" {
		return fmt.Sprintf("Translate the following text to %s. Only provide the translation, no explanations:\n\n%s", target, text)
	}
	return fmt.Sprintf("Translate the following text from %s to %s. Only provide the translation, no explanations:\n\n%s", source, target, text)
}
