package tools

import (
	"strings"
	"testing"
)

func TestSimulatedPlaceholders(t *testing.T) {
	tr := SimulatedTranscript("https://example.org/audio/episode-42.mp3")
	if tr.Transcript != "[SIMULATED] Transcribed audio for episode: sample content audio/episode-42.mp3" {
		t.Errorf("Transcript = %q", tr.Transcript)
	}
	if !tr.Simulated || !tr.OK() || tr.Confidence != 0.85 || tr.Language != "auto" {
		t.Errorf("transcript = %+v", tr)
	}

	tl := SimulatedTranslation("fr")
	if tl.TranslatedText != "[SIMULATED] Translated text: sample content translated to fr" || tl.TargetLanguage != "fr" {
		t.Errorf("translation = %+v", tl)
	}

	sp := SimulatedSpeech("hello", "narrator")
	if sp.AudioURL != "https://example.com/simulated/narrator_output.mp3" {
		t.Errorf("AudioURL = %q", sp.AudioURL)
	}
	if !strings.HasSuffix(sp.AudioFile, "simulated_audio_narrator_5.mp3") {
		t.Errorf("AudioFile = %q", sp.AudioFile)
	}
}

func TestSimulatedTranscript_ShortURL(t *testing.T) {
	tr := SimulatedTranscript("a.mp3")
	if !strings.HasSuffix(tr.Transcript, "sample content a.mp3") {
		t.Errorf("Transcript = %q", tr.Transcript)
	}
}

func TestPageCount(t *testing.T) {
	tests := []struct{ total, per, want int }{
		{0, 20, 0},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{45, 20, 3},
		{10, 0, 0},
	}
	for _, tt := range tests {
		if got := PageCount(tt.total, tt.per); got != tt.want {
			t.Errorf("PageCount(%d, %d) = %d, want %d", tt.total, tt.per, got, tt.want)
		}
	}
}

func TestClampPerPage(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultPerPage},
		{-3, DefaultPerPage},
		{10, 10},
		{MaxPerPage, MaxPerPage},
		{500, MaxPerPage},
	}
	for _, tt := range tests {
		if got := ClampPerPage(tt.in); got != tt.want {
			t.Errorf("ClampPerPage(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStatus(t *testing.T) {
	if !Success(false).OK() || Failure("x").OK() {
		t.Error("OK mismatch")
	}
	p := Speech{Status: Failure("boom")}
	if r := p.Reported(); r.Status != StatusError || r.Error != "boom" {
		t.Errorf("Reported = %+v", r)
	}
}
