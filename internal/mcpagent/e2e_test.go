package mcpagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/kalambet/podcaster/internal/agent"
	"github.com/kalambet/podcaster/internal/dedup"
	"github.com/kalambet/podcaster/internal/pipeline"
	"github.com/kalambet/podcaster/internal/provider"
	"github.com/kalambet/podcaster/internal/tools"
)

// Environment of the helper processes.
const (
	helperEnv      = "PODCASTER_MCPAGENT_HELPER"
	helperFeedsEnv = "PODCASTER_MCPAGENT_FEEDS"
	helperStateEnv = "PODCASTER_MCPAGENT_STATE"
)

func TestMain(m *testing.M) {
	if name := os.Getenv(helperEnv); name != "" {
		runHelperAgent(name)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// runHelperAgent serves one agent on stdio with no provider keys, so every
// stage but the feed monitor is simulated.
func runHelperAgent(name string) {
	ctx := context.Background()
	switch name {
	case agent.FeedMonitor:
		m := NewFeedMonitor(FeedMonitorConfig{
			Store:     dedup.NewStore(os.Getenv(helperStateEnv)),
			FeedsFile: os.Getenv(helperFeedsEnv),
		})
		ServeStdio(ctx, m.Server(), os.Stdin, os.Stdout)
	case agent.Transcription:
		ServeStdio(ctx, TranscriptionServer(provider.NewDeepgram("")), os.Stdin, os.Stdout)
	case agent.Translation:
		ServeStdio(ctx, TranslationServer(provider.NewTranslator("", "", "")), os.Stdin, os.Stdout)
	case agent.TTS:
		ServeStdio(ctx, TTSServer(TTSConfig{Synth: provider.NewElevenLabs("")}), os.Stdin, os.Stdout)
	}
}

func helperRegistry(feedsFile, stateDir string) *agent.Registry {
	var specs []agent.Spec
	for _, name := range []string{agent.FeedMonitor, agent.Transcription, agent.Translation, agent.TTS} {
		specs = append(specs, agent.Spec{
			Name:    name,
			Command: os.Args[0],
			Env: []string{
				helperEnv + "=" + name,
				helperFeedsEnv + "=" + feedsFile,
				helperStateEnv + "=" + stateDir,
			},
		})
	}
	return agent.FromSpecs(specs, 10*time.Second)
}

func TestPipelineAgainstAgents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	dir := t.TempDir()
	feedsFile := filepath.Join(dir, "feeds.txt")
	writeFile(t, feedsFile, "# test feed\n"+srv.URL+"/rss\n")
	stateDir := filepath.Join(dir, "state")
	reg := helperRegistry(feedsFile, stateDir)

	o := pipeline.New(reg, pipeline.Options{BatchSize: 5, TargetLanguage: "es"})
	run, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if run.EpisodesFound != 3 || len(run.Episodes) != 3 || len(run.Marked) != 3 {
		t.Fatalf("first run found %d, processed %d, marked %d", run.EpisodesFound, len(run.Episodes), len(run.Marked))
	}

	s := pipeline.Summarize(run)
	if s.Agents[agent.Transcription].Status != pipeline.AgentSimulatedOnly || s.Agents[agent.FeedMonitor].Status != pipeline.StatusSuccess {
		t.Errorf("agent statuses = %+v", s.Agents)
	}
	for _, ep := range s.Episodes {
		if ep.Transcription != pipeline.OutcomeSimulated || ep.TTS != pipeline.OutcomeSuccess || !ep.Marked {
			t.Errorf("episode %+v", ep)
		}
	}

	st, err := dedup.NewStore(stateDir).Stats(dedup.FeedID(srv.URL + "/rss"))
	if err != nil {
		t.Fatal(err)
	}
	if st.EpisodesTracked != 3 {
		t.Errorf("tracked = %d, want 3", st.EpisodesTracked)
	}

	again, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.EpisodesFound != 0 || len(again.Marked) != 0 {
		t.Errorf("second run found %d, marked %d; want nothing", again.EpisodesFound, len(again.Marked))
	}
}

func TestAgentToolLists(t *testing.T) {
	reg := helperRegistry("", t.TempDir())
	want := map[string][]string{
		agent.FeedMonitor: {
			tools.CheckFeed, tools.CheckFeeds, tools.GetFeedList, tools.GetFeedStats,
			tools.GetNewEpisodes, tools.MarkEpisodesProcessed, tools.ValidateFeed,
		},
		agent.Transcription: {tools.GetAvailableModels, tools.GetSupportedLanguages, tools.TranscribeAudio},
		agent.Translation:   {tools.BatchTranslate, tools.GetAvailableModels, tools.GetSupportedLanguages, tools.TranslateText},
		agent.TTS:           {tools.GenerateSpeech, tools.GetStorageInfo},
	}
	for name, tl := range want {
		sort.Strings(tl)
		err := reg.With(context.Background(), name, func(c agent.Caller) error {
			got, err := c.ListTools(context.Background())
			if err != nil {
				return err
			}
			var names []string
			for _, g := range got {
				names = append(names, g.Name)
			}
			sort.Strings(names)
			if len(names) != len(tl) {
				t.Errorf("%s tools = %v, want %v", name, names, tl)
				return nil
			}
			for i := range names {
				if names[i] != tl[i] {
					t.Errorf("%s tools = %v, want %v", name, names, tl)
					break
				}
			}
			return nil
		})
		if err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}
