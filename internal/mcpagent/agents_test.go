package mcpagent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/podcaster/internal/provider"
	"github.com/kalambet/podcaster/internal/tools"
)

type fakeTranscriber struct {
	configured bool
	out        provider.Transcription
	err        error
	gotLang    string
}

func (f *fakeTranscriber) Configured() bool { return f.configured }

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioURL, language, model string) (provider.Transcription, error) {
	f.gotLang = language
	return f.out, f.err
}

func TestTranscribe(t *testing.T) {
	const audio = "https://cdn.example/show/episode-7.mp3"
	tests := []struct {
		name          string
		tr            *fakeTranscriber
		args          map[string]any
		wantSimulated bool
		wantText      string
		wantLang      string
	}{
		{
			name:     "real",
			tr:       &fakeTranscriber{configured: true, out: provider.Transcription{Text: "hola", Language: "es", Confidence: 0.97}},
			args:     map[string]any{"audio_url": audio},
			wantText: "hola",
			wantLang: "es",
		},
		{
			name:     "requested language kept when none detected",
			tr:       &fakeTranscriber{configured: true, out: provider.Transcription{Text: "bonjour"}},
			args:     map[string]any{"audio_url": audio, "language": "fr"},
			wantText: "bonjour",
			wantLang: "fr",
		},
		{
			name:          "not configured",
			tr:            &fakeTranscriber{},
			args:          map[string]any{"audio_url": audio},
			wantSimulated: true,
			wantText:      tools.SimulatedTranscript(audio).Transcript,
			wantLang:      "auto",
		},
		{
			name:          "provider failure",
			tr:            &fakeTranscriber{configured: true, err: errors.New("502")},
			args:          map[string]any{"audio_url": audio},
			wantSimulated: true,
			wantText:      tools.SimulatedTranscript(audio).Transcript,
			wantLang:      "auto",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := transcribeHandler(tt.tr)(context.Background(), makeCallToolRequest(tools.TranscribeAudio, tt.args))
			if err != nil {
				t.Fatal(err)
			}
			var out tools.Transcript
			decodeResult(t, res, &out)
			if !out.OK() || out.Simulated != tt.wantSimulated || out.Transcript != tt.wantText || out.Language != tt.wantLang {
				t.Errorf("transcript = %+v", out)
			}
		})
	}
}

func TestTranscribe_MissingURL(t *testing.T) {
	res, err := transcribeHandler(&fakeTranscriber{})(context.Background(), makeCallToolRequest(tools.TranscribeAudio, map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(toolText(t, res), "audio_url") {
		t.Errorf("result = %+v", res)
	}
}

type fakeTranslator struct {
	configured bool
	err        error
	calls      int
}

func (f *fakeTranslator) Configured() bool { return f.configured }

func (f *fakeTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "[" + target + "] " + text, nil
}

func TestTranslate(t *testing.T) {
	tr := &fakeTranslator{configured: true}
	res, err := translateHandler(tr)(context.Background(), makeCallToolRequest(tools.TranslateText, map[string]any{
		"text": "hello", "target_language": "de",
	}))
	if err != nil {
		t.Fatal(err)
	}
	var out tools.Translation
	decodeResult(t, res, &out)
	if out.Simulated || out.TranslatedText != "[de] hello" || out.SourceLanguage != "auto" || out.TargetLanguage != "de" {
		t.Errorf("translation = %+v", out)
	}

	res, err = translateHandler(&fakeTranslator{configured: true, err: errors.New("429")})(context.Background(),
		makeCallToolRequest(tools.TranslateText, map[string]any{"text": "hello", "target_language": "de"}))
	if err != nil {
		t.Fatal(err)
	}
	decodeResult(t, res, &out)
	if !out.Simulated || out.TranslatedText != tools.SimulatedTranslation("de").TranslatedText {
		t.Errorf("fallback = %+v", out)
	}
}

func TestTranslate_Validation(t *testing.T) {
	h := translateHandler(&fakeTranslator{configured: true})
	for _, args := range []map[string]any{
		{"target_language": "de"},
		{"text": "  ", "target_language": "de"},
		{"text": "hello"},
	} {
		res, err := h(context.Background(), makeCallToolRequest(tools.TranslateText, args))
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError {
			t.Errorf("args %v: expected tool error", args)
		}
	}
}

func TestTranslate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := translateHandler(&fakeTranslator{configured: true, err: context.Canceled})(ctx,
		makeCallToolRequest(tools.TranslateText, map[string]any{"text": "hello", "target_language": "de"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("cancelled translation must not be simulated")
	}
}

func TestBatchTranslate(t *testing.T) {
	tr := &fakeTranslator{configured: true}
	res, err := batchTranslateHandler(tr)(context.Background(), makeCallToolRequest(tools.BatchTranslate, map[string]any{
		"texts": []any{"one", "two", "three"}, "target_language": "it",
	}))
	if err != nil {
		t.Fatal(err)
	}
	var out tools.BatchTranslation
	decodeResult(t, res, &out)
	if out.TotalTexts != 3 || len(out.Translations) != 3 || out.Simulated || tr.calls != 3 {
		t.Fatalf("batch = %+v", out)
	}
	if out.Translations[1].TranslatedText != "[it] two" {
		t.Errorf("second = %+v", out.Translations[1])
	}

	res, err = batchTranslateHandler(tr)(context.Background(), makeCallToolRequest(tools.BatchTranslate, map[string]any{"target_language": "it"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected tool error without texts")
	}
}

type fakeSynth struct {
	configured bool
	audio      []byte
	err        error
	gotVoice   string
	gotSet     provider.VoiceSettings
}

func (f *fakeSynth) Configured() bool { return f.configured }

func (f *fakeSynth) Synthesize(ctx context.Context, text, voiceID, model string, settings *provider.VoiceSettings) ([]byte, error) {
	f.gotVoice = voiceID
	if settings != nil {
		f.gotSet = *settings
	}
	return f.audio, f.err
}

func TestGenerateSpeech(t *testing.T) {
	dir := t.TempDir()
	synth := &fakeSynth{configured: true, audio: []byte("ID3audio")}
	cfg := TTSConfig{Synth: synth, DefaultVoice: "voice-123", MediaDir: dir, BaseURL: "https://media.example/audio/"}

	res, err := speechHandler(cfg)(context.Background(), makeCallToolRequest(tools.GenerateSpeech, map[string]any{
		"text": "hola", "voice_id": "default", "stability": 0.8,
	}))
	if err != nil {
		t.Fatal(err)
	}
	var out tools.Speech
	decodeResult(t, res, &out)
	if out.Simulated || out.VoiceID != "voice-123" || synth.gotVoice != "voice-123" {
		t.Errorf("speech = %+v", out)
	}
	if synth.gotSet.Stability != 0.8 || synth.gotSet.SimilarityBoost != provider.DefaultVoiceSettings.SimilarityBoost {
		t.Errorf("settings = %+v", synth.gotSet)
	}
	name := filepath.Base(out.AudioFile)
	if !strings.HasPrefix(name, "tts_") || filepath.Ext(name) != ".mp3" || filepath.Dir(out.AudioFile) != dir {
		t.Errorf("AudioFile = %q", out.AudioFile)
	}
	if out.AudioURL != "https://media.example/audio/"+name {
		t.Errorf("AudioURL = %q", out.AudioURL)
	}
	data, err := os.ReadFile(out.AudioFile)
	if err != nil || string(data) != "ID3audio" {
		t.Errorf("audio file = %q, %v", data, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("media dir has %d entries, want 1 (no temp files left)", len(entries))
	}
}

func TestGenerateSpeech_Fallbacks(t *testing.T) {
	tests := []struct {
		name  string
		cfg   TTSConfig
		voice string
	}{
		{"not configured", TTSConfig{Synth: &fakeSynth{}, DefaultVoice: "v"}, "narrator"},
		{"default voice unset", TTSConfig{Synth: &fakeSynth{configured: true}}, "default"},
		{"provider failure", TTSConfig{Synth: &fakeSynth{configured: true, err: errors.New("quota")}, MediaDir: t.TempDir()}, "narrator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := speechHandler(tt.cfg)(context.Background(), makeCallToolRequest(tools.GenerateSpeech, map[string]any{
				"text": "hello", "voice_id": tt.voice,
			}))
			if err != nil {
				t.Fatal(err)
			}
			var out tools.Speech
			decodeResult(t, res, &out)
			want := tools.SimulatedSpeech("hello", tt.voice)
			if !out.Simulated || out.AudioURL != want.AudioURL || out.AudioFile != want.AudioFile {
				t.Errorf("speech = %+v, want %+v", out, want)
			}
		})
	}
}

func TestStorageInfo(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.mp3", "b.wav", "notes.txt"} {
		writeFile(t, filepath.Join(dir, name), "12345")
	}
	res, err := storageInfoHandler(TTSConfig{MediaDir: dir, BaseURL: "https://m.example"})(context.Background(),
		makeCallToolRequest(tools.GetStorageInfo, nil))
	if err != nil {
		t.Fatal(err)
	}
	var out tools.StorageInfo
	decodeResult(t, res, &out)
	if out.TotalFiles != 2 || out.TotalSize != 10 || len(out.Files) != 2 {
		t.Errorf("storage = %+v", out)
	}

	res, err = storageInfoHandler(TTSConfig{MediaDir: filepath.Join(dir, "missing")})(context.Background(),
		makeCallToolRequest(tools.GetStorageInfo, nil))
	if err != nil {
		t.Fatal(err)
	}
	decodeResult(t, res, &out)
	if out.OK() {
		t.Errorf("missing dir reported %+v", out)
	}
}
