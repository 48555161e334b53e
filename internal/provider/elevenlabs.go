package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io/v1"
	DefaultElevenLabsModel = "eleven_multilingual_v2"
)

// VoiceSettings tunes ElevenLabs synthesis.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// DefaultVoiceSettings are used when the caller passes none.
var DefaultVoiceSettings = VoiceSettings{Stability: 0.5, SimilarityBoost: 0.5}

// ElevenLabs synthesizes speech with the text-to-speech API.
type ElevenLabs struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewElevenLabs returns a client for apiKey.
func NewElevenLabs(apiKey string) *ElevenLabs {
	return &ElevenLabs{apiKey: apiKey, baseURL: elevenLabsBaseURL, httpClient: newHTTPClient()}
}

// NewElevenLabsWithBaseURL points the client at a custom base URL (for testing).
func NewElevenLabsWithBaseURL(apiKey, baseURL string) *ElevenLabs {
	e := NewElevenLabs(apiKey)
	e.baseURL = strings.TrimRight(baseURL, "/")
	return e
}

// Configured reports whether an API key is set.
func (e *ElevenLabs) Configured() bool { return e.apiKey != "" }

// Synthesize returns MP3 audio for text spoken by voiceID.
func (e *ElevenLabs) Synthesize(ctx context.Context, text, voiceID, model string, settings *VoiceSettings) ([]byte, error) {
	if !e.Configured() {
		return nil, ErrNotConfigured
	}
	if voiceID == "" {
		return nil, fmt.Errorf("elevenlabs: voice id is required")
	}
	if model == "" {
		model = DefaultElevenLabsModel
	}
	if settings == nil {
		s := DefaultVoiceSettings
		settings = &s
	}

	body, err := json.Marshal(map[string]any{
		"text":           text,
		"model_id":       model,
		"voice_settings": settings,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	audio, err := do(ctx, e.httpClient, request{
		method: http.MethodPost,
		url:    e.baseURL + "/text-to-speech/" + url.PathEscape(voiceID),
		headers: map[string]string{
			"xi-api-key":   e.apiKey,
			"Content-Type": "application/json",
			"Accept":       "audio/mpeg",
		},
		body: body,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("elevenlabs: empty audio response")
	}
	return audio, nil
}
