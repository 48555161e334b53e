package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// account is the secret store entry name: the key without its "secrets." prefix.
func (s keySpec) account() string {
	return strings.TrimPrefix(s.key, "secrets.")
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PODCASTER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PODCASTER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "feeds.file", typ: kString, env: "PODCASTER_FEEDS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Feeds.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Feeds.File },
	},
	{
		key: "pipeline.batch_size", typ: kInt, env: "PODCASTER_PIPELINE_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.BatchSize },
	},
	{
		key: "pipeline.page_size", typ: kInt, env: "PODCASTER_PIPELINE_PAGE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.PageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.PageSize },
	},
	{
		key: "pipeline.target_language", typ: kString, env: "PODCASTER_PIPELINE_TARGET_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.TargetLanguage = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.TargetLanguage },
	},
	{
		key: "pipeline.voice", typ: kString, env: "PODCASTER_PIPELINE_VOICE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Voice = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.Voice },
	},
	{
		key: "agents.timeout", typ: kString, env: "PODCASTER_AGENTS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agents.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Agents.Timeout },
	},
	{
		key: "agents.file", typ: kString, env: "PODCASTER_AGENTS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Agents.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Agents.File },
	},
	{
		key: "schedule.cron", typ: kString, env: "PODCASTER_SCHEDULE_CRON",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Cron = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.Cron },
	},
	{
		key: "log.level", typ: kString, env: "PODCASTER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "media.dir", typ: kString, env: "PODCASTER_MEDIA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Media.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Media.Dir },
	},
	{
		key: "media.base_url", typ: kString, env: "PODCASTER_MEDIA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Media.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Media.BaseURL },
	},
	{
		key: "translation.base_url", typ: kString, env: "PODCASTER_TRANSLATION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Translation.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Translation.BaseURL },
	},
	{
		key: "translation.model", typ: kString, env: "PODCASTER_TRANSLATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Translation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Translation.Model },
	},
	{
		key: "tts.voice_id", typ: kString, env: "ELEVENLABS_VOICE_ID",
		apply:   func(cfg *Config, v any) { cfg.TTS.VoiceID = v.(string) },
		extract: func(cfg Config) any { return cfg.TTS.VoiceID },
	},
	{
		key: "notify.telegram_chat_id", typ: kInt, env: "PODCASTER_NOTIFY_TELEGRAM_CHAT_ID",
		apply:   func(cfg *Config, v any) { cfg.Notify.TelegramChatID = v.(int) },
		extract: func(cfg Config) any { return cfg.Notify.TelegramChatID },
	},
	{
		key: "secrets.deepgram_api_key", typ: kString, env: "DEEPGRAM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.DeepgramAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.DeepgramAPIKey },
	},
	{
		key: "secrets.mistral_api_key", typ: kString, env: "MISTRAL_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.MistralAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.MistralAPIKey },
	},
	{
		key: "secrets.elevenlabs_api_key", typ: kString, env: "ELEVENLABS_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.ElevenLabsAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.ElevenLabsAPIKey },
	},
	{
		key: "secrets.telegram_token", typ: kString, env: "PODCASTER_TELEGRAM_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.TelegramToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.TelegramToken },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
