package tools

import (
	"fmt"
	"os"
	"path/filepath"
)

// SimulatedTranscript is the placeholder returned when transcription is
// unavailable.
func SimulatedTranscript(audioURL string) Transcript {
	return Transcript{
		Status:     Success(true),
		Transcript: "[SIMULATED] Transcribed audio for episode: sample content " + lastRunes(audioURL, 20),
		Language:   "auto",
		Confidence: 0.85,
	}
}

// SimulatedTranslation is the placeholder returned when translation is
// unavailable.
func SimulatedTranslation(target string) Translation {
	return Translation{
		Status:         Success(true),
		TranslatedText: "[SIMULATED] Translated text: sample content translated to " + target,
		SourceLanguage: "auto",
		TargetLanguage: target,
	}
}

// SimulatedSpeech is the placeholder returned when speech synthesis is
// unavailable. No file is written.
func SimulatedSpeech(text, voice string) Speech {
	name := fmt.Sprintf("simulated_audio_%s_%d.mp3", voice, len([]rune(text)))
	return Speech{
		Status:    Success(true),
		AudioFile: filepath.Join(os.TempDir(), name),
		AudioURL:  fmt.Sprintf("https://example.com/simulated/%s_output.mp3", voice),
		VoiceID:   voice,
	}
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
