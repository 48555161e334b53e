//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podcaster", "config.yaml")
	b := newFileBackend(path)

	if err := b.SetInt("server.port", 4200); err != nil {
		t.Fatal(err)
	}
	if err := b.SetString("schedule.cron", "@daily"); err != nil {
		t.Fatal(err)
	}

	reread := newFileBackend(path)
	if port, ok, err := reread.GetInt("server.port"); err != nil || !ok || port != 4200 {
		t.Errorf("GetInt = %d, %v, %v", port, ok, err)
	}
	if v, ok, _ := reread.GetString("schedule.cron"); !ok || v != "@daily" {
		t.Errorf("GetString = %q, %v", v, ok)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestFileBackend_BadInt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server.port: 4000.5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := newFileBackend(path).GetInt("server.port"); err == nil {
		t.Error("expected error for fractional integer")
	}
}

func TestFileBackend_HandEdited(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := "server.port: 4300\npipeline.target_language: es\nschedule.cron: \"0 6 * * *\"\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadWith(newFileBackend(path), mockKeychain{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 4300 || cfg.Pipeline.TargetLanguage != "es" || cfg.Schedule.Cron != "0 6 * * *" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestSecretsFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := keychainGet("podcaster", "mistral_api_key"); err == nil {
		t.Fatal("expected error before any secret is stored")
	}
	if err := keychainSet("podcaster", "mistral_api_key", "sk-123"); err != nil {
		t.Fatal(err)
	}
	got, err := keychainReader{}.Get("podcaster", "mistral_api_key")
	if err != nil || got != "sk-123" {
		t.Errorf("Get = %q, %v", got, err)
	}

	info, err := os.Stat(secretsFilePath())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}
