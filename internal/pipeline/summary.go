package pipeline

import (
	"github.com/kalambet/podcaster/internal/agent"
)

// Run-level and feed-monitor statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Per-agent statuses for the episode stages.
const (
	AgentRealOnly      = "real_only"
	AgentSimulatedOnly = "simulated_only"
	AgentMixed         = "mixed"
	AgentNotUsed       = "not_used"
	AgentDegraded      = "degraded"
)

// Per-episode stage outcomes.
const (
	OutcomeReal      = "real"
	OutcomeSimulated = "simulated"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeSuccess   = "success"
)

// AgentSummary aggregates the stage results of one agent.
type AgentSummary struct {
	Status        string `json:"status"`
	Calls         int    `json:"calls"`
	Real          int    `json:"real"`
	Simulated     int    `json:"simulated"`
	Failed        int    `json:"failed"`
	EpisodesFound int    `json:"episodesFound,omitempty"`
}

// EpisodeSummary is the per-episode line of a run summary.
type EpisodeSummary struct {
	Number        int    `json:"number"`
	FeedID        string `json:"feedId,omitempty"`
	GUID          string `json:"guid"`
	Title         string `json:"title"`
	Transcription string `json:"transcription"`
	Translation   string `json:"translation"`
	TTS           string `json:"tts"`
	Marked        bool   `json:"marked"`
}

// Summary is the compact report of a run.
type Summary struct {
	RunID             string                  `json:"runId"`
	Status            string                  `json:"status"`
	Error             string                  `json:"error,omitempty"`
	EpisodesProcessed int                     `json:"episodesProcessed"`
	EpisodesMarked    int                     `json:"episodesMarked"`
	TotalTimeSeconds  float64                 `json:"totalTimeSeconds"`
	Agents            map[string]AgentSummary `json:"agents"`
	Episodes          []EpisodeSummary        `json:"episodes"`
}

// AgentOrder lists agents in pipeline order for display.
var AgentOrder = []string{agent.FeedMonitor, agent.Transcription, agent.Translation, agent.TTS}

// Summarize derives the report from the run's stage results. It has no side
// effects.
func Summarize(run *Run) Summary {
	s := Summary{
		RunID:            run.ID,
		Status:           StatusSuccess,
		TotalTimeSeconds: run.TotalTime.Seconds(),
		Agents:           make(map[string]AgentSummary, len(AgentOrder)),
		Episodes:         []EpisodeSummary{},
	}
	if run.Err != nil {
		s.Status = StatusError
		s.Error = run.Err.Error()
	}

	byAgent := make(map[string][]StageResult)
	// GUIDs are only unique within a feed.
	byEpisode := make(map[string]int)
	marked := false
	for _, r := range run.Stages {
		byAgent[r.Agent] = append(byAgent[r.Agent], r)
		if r.Stage == StageMark && r.Success {
			marked = true
		}
		if r.EpisodeGUID == "" {
			continue
		}
		key := r.EpisodeFeedID + "\x00" + r.EpisodeGUID
		idx, ok := byEpisode[key]
		if !ok {
			idx = len(s.Episodes)
			byEpisode[key] = idx
			s.Episodes = append(s.Episodes, EpisodeSummary{
				Number:        idx + 1,
				FeedID:        r.EpisodeFeedID,
				GUID:          r.EpisodeGUID,
				Title:         r.EpisodeTitle,
				Transcription: OutcomeSkipped,
				Translation:   OutcomeSkipped,
				TTS:           OutcomeSkipped,
			})
		}
		ep := &s.Episodes[idx]
		switch r.Stage {
		case StageTranscribe:
			ep.Transcription = stageOutcome(r)
		case StageTranslate:
			ep.Translation = stageOutcome(r)
		case StageSynthesize:
			ep.TTS = OutcomeFailed
			if r.Success {
				ep.TTS = OutcomeSuccess
			}
		}
	}

	for i := range s.Episodes {
		ep := &s.Episodes[i]
		ep.Marked = marked && ep.TTS == OutcomeSuccess
		if ep.Marked {
			s.EpisodesMarked++
		}
	}
	s.EpisodesProcessed = len(s.Episodes)

	for _, name := range AgentOrder {
		if name == agent.FeedMonitor {
			s.Agents[name] = feedMonitorSummary(byAgent[name])
			continue
		}
		s.Agents[name] = agentSummary(byAgent[name])
	}
	return s
}

func stageOutcome(r StageResult) string {
	switch {
	case !r.Success:
		return OutcomeFailed
	case r.Simulated:
		return OutcomeSimulated
	default:
		return OutcomeReal
	}
}

func feedMonitorSummary(results []StageResult) AgentSummary {
	a := AgentSummary{Status: StatusSuccess, Calls: len(results)}
	if len(results) == 0 {
		a.Status = AgentNotUsed
	}
	for _, r := range results {
		if r.Stage == StageFeedCheck {
			a.EpisodesFound = r.EpisodesFound
		}
		switch {
		case !r.Success:
			a.Failed++
			a.Status = StatusError
		case r.Simulated:
			a.Simulated++
		default:
			a.Real++
		}
	}
	return a
}

func agentSummary(results []StageResult) AgentSummary {
	a := AgentSummary{Calls: len(results)}
	for _, r := range results {
		switch {
		case !r.Success:
			a.Failed++
		case r.Simulated:
			a.Simulated++
		default:
			a.Real++
		}
	}
	switch {
	case a.Calls == 0:
		a.Status = AgentNotUsed
	case a.Failed > 0:
		a.Status = AgentDegraded
	case a.Simulated == a.Calls:
		a.Status = AgentSimulatedOnly
	case a.Real == a.Calls:
		a.Status = AgentRealOnly
	default:
		a.Status = AgentMixed
	}
	return a
}
