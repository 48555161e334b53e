// Package tools defines the tool names and JSON payloads exchanged between
// the orchestrator and the agents.
package tools

import "github.com/kalambet/podcaster/internal/dedup"

// Tool names.
const (
	CheckFeeds            = "check_feeds"
	CheckFeed             = "check_feed"
	GetFeedList           = "get_feed_list"
	GetFeedStats          = "get_feed_stats"
	GetNewEpisodes        = "get_new_episodes"
	MarkEpisodesProcessed = "mark_episodes_processed"
	TranscribeAudio       = "transcribe_audio"
	TranslateText         = "translate_text"
	GenerateSpeech        = "generate_speech"
	ValidateFeed          = "validate_feed"
	GetSupportedLanguages = "get_supported_languages"
	GetAvailableModels    = "get_available_models"
	BatchTranslate        = "batch_translate"
	GetStorageInfo        = "get_storage_info"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Page size limits for get_new_episodes.
const (
	DefaultPerPage = 20
	MaxPerPage     = 50
)

// Status is embedded in every tool payload.
type Status struct {
	Status    string `json:"status"`
	Simulated bool   `json:"simulated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OK reports whether the agent reported success.
func (s Status) OK() bool { return s.Status == StatusSuccess }

// Reported returns the status itself, so payload types embedding it share
// one accessor.
func (s Status) Reported() Status { return s }

// Success returns a success status.
func Success(simulated bool) Status {
	return Status{Status: StatusSuccess, Simulated: simulated}
}

// Failure returns an error status.
func Failure(msg string) Status {
	return Status{Status: StatusError, Error: msg}
}

// CheckFeedsResult answers check_feeds without listing episodes.
type CheckFeedsResult struct {
	Status
	NewEpisodesFound int `json:"newEpisodesFound"`
	FeedsChecked     int `json:"feedsChecked"`
	FeedsFailed      int `json:"feedsFailed,omitempty"`
}

// CheckFeedResult answers check_feed for one URL.
type CheckFeedResult struct {
	Status
	FeedURL     string          `json:"feedUrl"`
	FeedID      string          `json:"feedId"`
	Title       string          `json:"title,omitempty"`
	NewEpisodes []dedup.Episode `json:"newEpisodes"`
}

// FeedInfo is one entry of get_feed_list.
type FeedInfo struct {
	FeedURL string `json:"feedUrl"`
	FeedID  string `json:"feedId"`
	Title   string `json:"title,omitempty"`
	Source  string `json:"source"`
}

// FeedListResult answers get_feed_list.
type FeedListResult struct {
	Status
	Feeds []FeedInfo `json:"feeds"`
}

// FeedValidation answers validate_feed.
type FeedValidation struct {
	Status
	FeedURL     string `json:"feedUrl"`
	Valid       bool   `json:"valid"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Episodes    int    `json:"episodes"`
}

// FeedStatsResult answers get_feed_stats.
type FeedStatsResult struct {
	Status
	FeedURL         string  `json:"feedUrl"`
	FeedID          string  `json:"feedId"`
	EpisodesTracked int     `json:"episodesTracked"`
	LastCheck       float64 `json:"lastCheck"`
}

// EpisodesPage answers get_new_episodes.
type EpisodesPage struct {
	Status
	Episodes      []dedup.Episode `json:"episodes"`
	Page          int             `json:"page"`
	PerPage       int             `json:"perPage"`
	TotalEpisodes int             `json:"totalEpisodes"`
	TotalPages    int             `json:"totalPages"`
}

// EpisodeRef identifies an episode to mark as processed.
type EpisodeRef struct {
	GUID    string `json:"guid"`
	FeedURL string `json:"feedUrl"`
	FeedID  string `json:"feedId"`
}

// MarkResult answers mark_episodes_processed.
type MarkResult struct {
	Status
	ProcessedCount int `json:"processedCount"`
	FeedsUpdated   int `json:"feedsUpdated"`
}

// Transcript answers transcribe_audio.
type Transcript struct {
	Status
	Transcript string  `json:"transcript"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Translation answers translate_text.
type Translation struct {
	Status
	TranslatedText string `json:"translatedText"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

// Speech answers generate_speech.
type Speech struct {
	Status
	AudioFile string `json:"audioFile"`
	AudioURL  string `json:"audioUrl"`
	VoiceID   string `json:"voiceId"`
	Model     string `json:"model,omitempty"`
}

// Language is an entry of get_supported_languages.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// LanguagesResult answers get_supported_languages.
type LanguagesResult struct {
	Status
	Languages []Language `json:"languages"`
}

// Model is an entry of get_available_models.
type Model struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ModelsResult answers get_available_models.
type ModelsResult struct {
	Status
	Models []Model `json:"models"`
}

// BatchTranslation answers batch_translate. Each entry carries its own
// status and simulated flag.
type BatchTranslation struct {
	Status
	TotalTexts     int           `json:"totalTexts"`
	TargetLanguage string        `json:"targetLanguage"`
	Translations   []Translation `json:"translations"`
}

// MediaFile is a generated audio file.
type MediaFile struct {
	Filename     string  `json:"filename"`
	Size         int64   `json:"size"`
	URL          string  `json:"url"`
	ModifiedTime float64 `json:"modifiedTime"`
}

// StorageInfo answers get_storage_info. Files holds the most recent ten.
type StorageInfo struct {
	Status
	StorageDir string      `json:"storageDir"`
	BaseURL    string      `json:"baseUrl"`
	TotalFiles int         `json:"totalFiles"`
	TotalSize  int64       `json:"totalSize"`
	Files      []MediaFile `json:"files"`
}

// PageCount returns the number of pages needed for total items.
func PageCount(total, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// ClampPerPage applies the default and the maximum page size.
func ClampPerPage(perPage int) int {
	switch {
	case perPage <= 0:
		return DefaultPerPage
	case perPage > MaxPerPage:
		return MaxPerPage
	default:
		return perPage
	}
}
