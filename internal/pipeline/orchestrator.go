// Package pipeline sequences a translation run: feed check, then per episode
// transcribe, translate and synthesize, then mark the completed episodes as
// processed.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/podcaster/internal/agent"
	"github.com/kalambet/podcaster/internal/dedup"
	"github.com/kalambet/podcaster/internal/tools"
)

const (
	DefaultBatchSize      = 5
	DefaultTargetLanguage = "en"
	DefaultVoice          = "default"
	DefaultModel          = "eleven_multilingual_v2"

	notifyTimeout = 10 * time.Second
)

// Notifier receives the summary of every finished run.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// Options configures an Orchestrator. Zero values take defaults.
type Options struct {
	BatchSize      int
	PageSize       int
	TargetLanguage string
	SourceLanguage string
	Voice          string
	Model          string
	Lock           *Lock
	Notifier       Notifier
}

// Run is the record of one orchestration.
type Run struct {
	ID            string
	StartedAt     time.Time
	EpisodesFound int
	Episodes      []dedup.Episode
	Stages        []StageResult
	Marked        []string
	TotalTime     time.Duration
	Err           error
}

// Orchestrator drives the agents through one run at a time.
type Orchestrator struct {
	agents Agents
	opts   Options
	logger *slog.Logger
}

// New returns an Orchestrator with defaults applied to opts.
func New(agents Agents, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	opts.PageSize = tools.ClampPerPage(opts.PageSize)
	if opts.TargetLanguage == "" {
		opts.TargetLanguage = DefaultTargetLanguage
	}
	if opts.Voice == "" {
		opts.Voice = DefaultVoice
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	return &Orchestrator{agents: agents, opts: opts, logger: slog.Default()}
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options { return o.opts }

// Run executes one pipeline run. The returned Run is non-nil whenever the run
// started; its Err mirrors the returned error.
func (o *Orchestrator) Run(ctx context.Context) (*Run, error) {
	if o.opts.Lock != nil {
		release, err := o.opts.Lock.TryAcquire()
		if err != nil {
			return nil, err
		}
		defer release()
	}

	run := &Run{ID: uuid.NewString(), StartedAt: time.Now()}
	o.logger.Info("pipeline run started", "run_id", run.ID, "batch_size", o.opts.BatchSize)

	err := o.execute(ctx, run)
	run.Err = err
	run.TotalTime = time.Since(run.StartedAt)

	if err != nil {
		o.logger.Error("pipeline run failed", "run_id", run.ID, "error", err)
	} else {
		o.logger.Info("pipeline run finished",
			"run_id", run.ID,
			"episodes", len(run.Episodes),
			"marked", len(run.Marked),
			"duration", run.TotalTime,
		)
	}
	o.notify(ctx, run)
	return run, err
}

func (o *Orchestrator) execute(ctx context.Context, run *Run) error {
	feed, episodes, err := o.checkFeeds(ctx)
	run.Stages = append(run.Stages, feed)
	run.EpisodesFound = feed.EpisodesFound
	if err != nil {
		return fmt.Errorf("feed check: %w", err)
	}
	if len(episodes) == 0 {
		return nil
	}
	run.Episodes = episodes

	var completed []dedup.Episode
	for _, ep := range episodes {
		results, ok, err := o.process(ctx, ep)
		run.Stages = append(run.Stages, results...)
		if err != nil {
			return fmt.Errorf("episode %s: %w", ep.GUID, err)
		}
		if ok {
			completed = append(completed, ep)
		}
	}

	if len(completed) == 0 {
		o.logger.Info("no episode completed all stages, nothing to mark", "run_id", run.ID)
		return nil
	}
	mark, err := o.markProcessed(ctx, completed)
	run.Stages = append(run.Stages, mark)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	for _, ep := range completed {
		run.Marked = append(run.Marked, ep.GUID)
	}
	return nil
}

// process runs the three per-episode stages, each gated on the success of
// the previous one. ok reports whether all three succeeded.
func (o *Orchestrator) process(ctx context.Context, ep dedup.Episode) (results []StageResult, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	log := o.logger.With("guid", ep.GUID, "title", ep.Title)

	tr, transcript, err := o.transcribe(ctx, ep)
	if err != nil {
		return results, false, err
	}
	results = append(results, tr)
	if !tr.Success {
		log.Warn("transcription failed, skipping episode", "error", tr.Error)
		return results, false, nil
	}

	tl, translation, err := o.translate(ctx, ep, transcript.Transcript)
	if err != nil {
		return results, false, err
	}
	results = append(results, tl)
	if !tl.Success {
		log.Warn("translation failed, skipping synthesis", "error", tl.Error)
		return results, false, nil
	}

	sy, err := o.synthesize(ctx, ep, translation.TranslatedText)
	if err != nil {
		return results, false, err
	}
	results = append(results, sy)
	if !sy.Success {
		log.Warn("speech synthesis failed", "error", sy.Error)
		return results, false, nil
	}
	log.Info("episode processed",
		"transcription_simulated", tr.Simulated,
		"translation_simulated", tl.Simulated,
		"tts_simulated", sy.Simulated,
	)
	return results, true, nil
}

// CheckFeeds runs only the feed-check stage and returns the episodes a run
// would process.
func (o *Orchestrator) CheckFeeds(ctx context.Context) (StageResult, []dedup.Episode, error) {
	return o.checkFeeds(ctx)
}

// checkFeeds asks for the new-episode count and, when non-zero, pages through
// get_new_episodes on the same connection until the batch is full or the
// pages run out.
func (o *Orchestrator) checkFeeds(ctx context.Context) (res StageResult, episodes []dedup.Episode, err error) {
	start := time.Now()
	res = StageResult{Agent: agent.FeedMonitor, Stage: StageFeedCheck}
	defer func() {
		res.Duration = time.Since(start)
		res.Success = err == nil
		if err != nil {
			res.Error = err.Error()
		}
	}()

	err = o.agents.With(ctx, agent.FeedMonitor, func(c agent.Caller) error {
		var check tools.CheckFeedsResult
		if err := callDecode(ctx, c, tools.CheckFeeds, map[string]any{}, &check); err != nil {
			return err
		}
		if !check.OK() {
			return fmt.Errorf("%s: %s", tools.CheckFeeds, check.Error)
		}
		res.EpisodesFound = check.NewEpisodesFound
		res.Simulated = check.Simulated
		if check.NewEpisodesFound <= 0 {
			return nil
		}

		seen := make(map[string]struct{})
		for page := 1; ; page++ {
			var p tools.EpisodesPage
			args := map[string]any{"page": page, "per_page": o.opts.PageSize}
			if err := callDecode(ctx, c, tools.GetNewEpisodes, args, &p); err != nil {
				return err
			}
			if !p.OK() {
				return fmt.Errorf("%s page %d: %s", tools.GetNewEpisodes, page, p.Error)
			}
			for _, ep := range p.Episodes {
				key := ep.FeedID + "\x00" + ep.GUID
				if _, dup := seen[key]; dup || ep.GUID == "" {
					continue
				}
				seen[key] = struct{}{}
				episodes = append(episodes, ep)
				if len(episodes) == o.opts.BatchSize {
					return nil
				}
			}
			if len(p.Episodes) == 0 || page >= p.TotalPages {
				return nil
			}
		}
	})
	if err != nil {
		return res, nil, err
	}
	res.Payload = episodes
	return res, episodes, nil
}

func (o *Orchestrator) markProcessed(ctx context.Context, eps []dedup.Episode) (res StageResult, err error) {
	start := time.Now()
	res = StageResult{Agent: agent.FeedMonitor, Stage: StageMark}
	defer func() { res.Duration = time.Since(start) }()

	refs := make([]tools.EpisodeRef, 0, len(eps))
	for _, ep := range eps {
		refs = append(refs, tools.EpisodeRef{GUID: ep.GUID, FeedURL: ep.FeedURL, FeedID: ep.FeedID})
	}
	out, err := invoke[tools.MarkResult](ctx, o.agents, agent.FeedMonitor, tools.MarkEpisodesProcessed,
		map[string]any{"episodes": refs})
	if err == nil && !out.OK() {
		err = fmt.Errorf("%s: status %q: %s", tools.MarkEpisodesProcessed, out.Status.Status, out.Error)
	}
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.Success = true
	res.Payload = out
	return res, nil
}

func (o *Orchestrator) notify(ctx context.Context, run *Run) {
	if o.opts.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := o.opts.Notifier.Notify(nctx, Summarize(run)); err != nil {
		o.logger.Warn("run notification failed", "run_id", run.ID, "error", err)
	}
}
