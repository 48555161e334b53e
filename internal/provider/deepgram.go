package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	deepgramBaseURL      = "https://api.deepgram.com/v1"
	DefaultDeepgramModel = "nova-2"
)

// Transcription is the text Deepgram recognized in a recording.
type Transcription struct {
	Text       string
	Language   string
	Confidence float64
	Model      string
}

// Deepgram transcribes remote audio with the prerecorded listen API.
type Deepgram struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewDeepgram returns a client for apiKey. An empty key yields a client whose
// calls fail with ErrNotConfigured.
func NewDeepgram(apiKey string) *Deepgram {
	return &Deepgram{apiKey: apiKey, baseURL: deepgramBaseURL, httpClient: newHTTPClient()}
}

// NewDeepgramWithBaseURL points the client at a custom base URL (for testing).
func NewDeepgramWithBaseURL(apiKey, baseURL string) *Deepgram {
	d := NewDeepgram(apiKey)
	d.baseURL = strings.TrimRight(baseURL, "/")
	return d
}

// Configured reports whether an API key is set.
func (d *Deepgram) Configured() bool { return d.apiKey != "" }

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe asks Deepgram to fetch and transcribe audioURL. An empty or
// "auto" language enables language detection.
func (d *Deepgram) Transcribe(ctx context.Context, audioURL, language, model string) (Transcription, error) {
	if !d.Configured() {
		return Transcription{}, ErrNotConfigured
	}
	if model == "" {
		model = DefaultDeepgramModel
	}

	q := url.Values{}
	q.Set("model", model)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if language == "" || language == "auto" {
		q.Set("detect_language", "true")
	} else {
		q.Set("language", language)
	}

	body, err := json.Marshal(map[string]string{"url": audioURL})
	if err != nil {
		return Transcription{}, fmt.Errorf("marshaling request: %w", err)
	}
	resp, err := do(ctx, d.httpClient, request{
		method: http.MethodPost,
		url:    d.baseURL + "/listen?" + q.Encode(),
		headers: map[string]string{
			"Authorization": "Token " + d.apiKey,
			"Content-Type":  "application/json",
		},
		body: body,
	})
	if err != nil {
		return Transcription{}, fmt.Errorf("deepgram: %w", err)
	}

	var dr deepgramResponse
	if err := json.Unmarshal(resp, &dr); err != nil {
		return Transcription{}, fmt.Errorf("deepgram: decoding response: %w", err)
	}
	if len(dr.Results.Channels) == 0 || len(dr.Results.Channels[0].Alternatives) == 0 {
		return Transcription{}, errors.New("deepgram: no transcription results")
	}
	ch := dr.Results.Channels[0]
	t := Transcription{
		Text:       ch.Alternatives[0].Transcript,
		Confidence: ch.Alternatives[0].Confidence,
		Language:   language,
		Model:      model,
	}
	if ch.DetectedLanguage != "" {
		t.Language = ch.DetectedLanguage
	}
	if t.Language == "" {
		t.Language = "auto"
	}
	return t, nil
}
