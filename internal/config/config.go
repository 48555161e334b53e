package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/podcaster/internal/storage"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Feeds       FeedsConfig
	Pipeline    PipelineConfig
	Agents      AgentsConfig
	Schedule    ScheduleConfig
	Log         LogConfig
	Media       MediaConfig
	Translation TranslationConfig
	TTS         TTSConfig
	Notify      NotifyConfig
	Secrets     Secrets
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type FeedsConfig struct {
	File string
}

type PipelineConfig struct {
	BatchSize      int
	PageSize       int
	TargetLanguage string
	Voice          string
}

type AgentsConfig struct {
	Timeout string
	File    string
}

type ScheduleConfig struct {
	Cron string
}

type LogConfig struct {
	Level string
}

type MediaConfig struct {
	Dir     string
	BaseURL string
}

type TranslationConfig struct {
	BaseURL string
	Model   string
}

// TTSConfig.VoiceID is the ElevenLabs voice used for the "default" voice.
type TTSConfig struct {
	VoiceID string
}

type NotifyConfig struct {
	TelegramChatID int
}

// Secrets are read from the environment or the platform secret store, never
// from the config backend.
type Secrets struct {
	DeepgramAPIKey   string
	MistralAPIKey    string
	ElevenLabsAPIKey string
	TelegramToken    string
}

const defaultAgentTimeout = 30 * time.Second

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Feeds: FeedsConfig{
			File: filepath.Join(dataDir, "feeds.txt"),
		},
		Pipeline: PipelineConfig{
			BatchSize:      5,
			PageSize:       20,
			TargetLanguage: "en",
			Voice:          "default",
		},
		Agents: AgentsConfig{
			Timeout: defaultAgentTimeout.String(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Media: MediaConfig{
			Dir: filepath.Join(dataDir, "media"),
		},
		Translation: TranslationConfig{
			BaseURL: "https://api.mistral.ai/v1",
			Model:   "mistral-tiny",
		},
	}
}

// StateDir is where dedup records live.
func (c Config) StateDir() string { return filepath.Join(c.Storage.DataDir, "state") }

// DBPath is the feed registry and job queue database.
func (c Config) DBPath() string { return filepath.Join(c.Storage.DataDir, storage.DBFile) }

// LockPath is the run lock file.
func (c Config) LockPath() string { return filepath.Join(c.Storage.DataDir, "run.lock") }

// AgentTimeout parses agents.timeout, falling back to 30s.
func (c Config) AgentTimeout() time.Duration {
	d, err := time.ParseDuration(c.Agents.Timeout)
	if err != nil || d <= 0 {
		return defaultAgentTimeout
	}
	return d
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.podcaster.app) and secrets
// fall back to macOS Keychain (service: podcaster).
// On Linux the backend is a YAML file at $XDG_CONFIG_HOME/podcaster/config.yaml
// and secrets fall back to $XDG_DATA_HOME/podcaster/secrets.yaml.
//
// Environment variables (PODCASTER_*) override backend values on all
// platforms. No key is required: a missing provider key leaves that agent in
// simulated mode.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "podcaster"

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account()); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
