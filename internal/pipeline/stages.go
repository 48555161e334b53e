package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/podcaster/internal/agent"
	"github.com/kalambet/podcaster/internal/dedup"
	"github.com/kalambet/podcaster/internal/tools"
)

// Stage names a step of a pipeline run.
type Stage string

const (
	StageFeedCheck  Stage = "feed_check"
	StageTranscribe Stage = "transcribe"
	StageTranslate  Stage = "translate"
	StageSynthesize Stage = "synthesize"
	StageMark       Stage = "mark_processed"
)

// StageResult records one attempted stage. Agent and Success are always set.
type StageResult struct {
	Agent         string        `json:"agent"`
	Stage         Stage         `json:"stage"`
	EpisodeFeedID string        `json:"episodeFeedId,omitempty"`
	EpisodeGUID   string        `json:"episodeGuid,omitempty"`
	EpisodeTitle  string        `json:"episodeTitle,omitempty"`
	Success       bool          `json:"success"`
	Simulated     bool          `json:"simulated"`
	Degraded      bool          `json:"degraded,omitempty"`
	Duration      time.Duration `json:"duration"`
	EpisodesFound int           `json:"episodesFound,omitempty"`
	Payload       any           `json:"payload,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Agents hands out scoped agent connections.
type Agents interface {
	With(ctx context.Context, name string, fn func(agent.Caller) error) error
}

type reporter interface {
	Reported() tools.Status
}

func callDecode(ctx context.Context, c agent.Caller, tool string, args map[string]any, v any) error {
	res, err := c.CallTool(ctx, tool, args)
	if err != nil {
		return err
	}
	if err := res.Decode(v); err != nil {
		return fmt.Errorf("%s: %w", tool, err)
	}
	return nil
}

// invoke runs one tool on a fresh connection and decodes its JSON payload.
func invoke[T any](ctx context.Context, agents Agents, agentName, tool string, args map[string]any) (T, error) {
	var out T
	err := agents.With(ctx, agentName, func(c agent.Caller) error {
		return callDecode(ctx, c, tool, args, &out)
	})
	return out, err
}

// runStage calls tool and substitutes fallback() when the call fails for any
// reason other than cancellation of ctx. A payload the agent returned is
// authoritative even when it reports an error status.
func runStage[T reporter](ctx context.Context, agents Agents, agentName, tool string, args map[string]any, fallback func() T) (Outcome[T], error) {
	v, err := invoke[T](ctx, agents, agentName, tool, args)
	if err == nil {
		return Real(v), nil
	}
	if ctx.Err() != nil {
		return Outcome[T]{}, ctx.Err()
	}
	slog.Warn("stage degraded to simulated output", "agent", agentName, "tool", tool, "error", err)
	return Degraded(fallback(), err), nil
}

// stageResult converts an outcome into the flat record the summary reads.
func stageResult[T reporter](agentName string, st Stage, ep dedup.Episode, out Outcome[T], d time.Duration) StageResult {
	r := StageResult{
		Agent:         agentName,
		Stage:         st,
		EpisodeFeedID: ep.FeedID,
		EpisodeGUID:   ep.GUID,
		EpisodeTitle:  ep.Title,
		Duration:      d,
	}
	if v, ok := out.Fallback(); ok {
		r.Success = true
		r.Simulated = true
		r.Degraded = true
		r.Payload = v
		r.Error = out.Cause().Error()
		return r
	}
	v, _ := out.Authoritative()
	status := v.Reported()
	r.Success = status.OK()
	r.Simulated = status.Simulated
	r.Error = status.Error
	r.Payload = v
	return r
}

// AudioURL picks the media URL to transcribe for ep.
func AudioURL(ep dedup.Episode) string {
	switch {
	case ep.AudioURL != "":
		return ep.AudioURL
	case ep.Link != "":
		return ep.Link
	default:
		return "https://example.com/podcast/" + ep.GUID + ".mp3"
	}
}

func (o *Orchestrator) transcribe(ctx context.Context, ep dedup.Episode) (StageResult, tools.Transcript, error) {
	start := time.Now()
	audioURL := AudioURL(ep)
	args := map[string]any{"audio_url": audioURL}
	if o.opts.SourceLanguage != "" {
		args["language"] = o.opts.SourceLanguage
	}
	out, err := runStage(ctx, o.agents, agent.Transcription, tools.TranscribeAudio, args,
		func() tools.Transcript { return tools.SimulatedTranscript(audioURL) })
	if err != nil {
		return StageResult{}, tools.Transcript{}, err
	}
	v, _ := out.Value()
	return stageResult(agent.Transcription, StageTranscribe, ep, out, time.Since(start)), v, nil
}

func (o *Orchestrator) translate(ctx context.Context, ep dedup.Episode, text string) (StageResult, tools.Translation, error) {
	start := time.Now()
	source := o.opts.SourceLanguage
	if source == "" {
		source = "auto"
	}
	args := map[string]any{
		"text":            text,
		"target_language": o.opts.TargetLanguage,
		"source_language": source,
	}
	out, err := runStage(ctx, o.agents, agent.Translation, tools.TranslateText, args,
		func() tools.Translation { return tools.SimulatedTranslation(o.opts.TargetLanguage) })
	if err != nil {
		return StageResult{}, tools.Translation{}, err
	}
	v, _ := out.Value()
	return stageResult(agent.Translation, StageTranslate, ep, out, time.Since(start)), v, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, ep dedup.Episode, text string) (StageResult, error) {
	start := time.Now()
	args := map[string]any{
		"text":     text,
		"voice_id": o.opts.Voice,
		"model":    o.opts.Model,
	}
	out, err := runStage(ctx, o.agents, agent.TTS, tools.GenerateSpeech, args,
		func() tools.Speech { return tools.SimulatedSpeech(text, o.opts.Voice) })
	if err != nil {
		return StageResult{}, err
	}
	return stageResult(agent.TTS, StageSynthesize, ep, out, time.Since(start)), nil
}
