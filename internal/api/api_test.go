package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/podcaster/internal/agent"
	"github.com/kalambet/podcaster/internal/dedup"
	"github.com/kalambet/podcaster/internal/mcpagent"
	"github.com/kalambet/podcaster/internal/pipeline"
	"github.com/kalambet/podcaster/internal/storage"
	"github.com/kalambet/podcaster/internal/worker"
)

type fakeHealth struct {
	report agent.HealthReport
}

func (f fakeHealth) Health(context.Context) agent.HealthReport { return f.report }

type stubRunner struct{}

func (stubRunner) Run(context.Context) (*pipeline.Run, error) {
	return &pipeline.Run{ID: "run-42"}, nil
}

type fakeFetcher struct {
	feed mcpagent.FetchedFeed
	err  error
}

func (f fakeFetcher) Fetch(ctx context.Context, url string) (mcpagent.FetchedFeed, error) {
	return f.feed, f.err
}

type testEnv struct {
	handler http.Handler
	store   *storage.Store
	dedup   *dedup.Store
	worker  *worker.Worker
}

func setup(t *testing.T, deps Deps) testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	w := worker.NewWorker(store, stubRunner{}, nil, 0)
	d := dedup.NewStore(t.TempDir())
	deps.Feeds = store
	deps.Dedup = d
	deps.Runs = w
	if deps.Health == nil {
		deps.Health = fakeHealth{report: agent.HealthReport{Status: agent.HealthHealthy}}
	}
	return testEnv{handler: NewHandler(deps), store: store, dedup: d, worker: w}
}

func do(t *testing.T, h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, url, reader))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %s: %v", rr.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	env := setup(t, Deps{})
	rr := do(t, env.handler, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	down := setup(t, Deps{Health: fakeHealth{report: agent.HealthReport{
		Status: agent.HealthError,
		Agents: []agent.AgentHealth{{Name: agent.TTS, Status: agent.StatusMissing}},
	}}})
	rr = do(t, down.handler, http.MethodGet, "/health", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	var report agent.HealthReport
	decode(t, rr, &report)
	if len(report.Agents) != 1 || report.Agents[0].Name != agent.TTS {
		t.Errorf("report = %+v", report)
	}
}

func TestFeeds_AddListRemove(t *testing.T) {
	env := setup(t, Deps{})

	rr := do(t, env.handler, http.MethodPost, "/feeds", `{"feedUrl":"https://example.com/rss","title":"Example"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var added AddFeedResponse
	decode(t, rr, &added)
	if !added.Created || added.Feed.FeedID != dedup.FeedID("https://example.com/rss") {
		t.Errorf("added = %+v", added)
	}

	rr = do(t, env.handler, http.MethodPost, "/feeds", `{"feedUrl":"https://example.com/rss","owner":"alice"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("second add status = %d", rr.Code)
	}
	do(t, env.handler, http.MethodPost, "/feeds", `{"feedUrl":"https://other.example/feed"}`)

	rr = do(t, env.handler, http.MethodGet, "/feeds", "")
	var all []FeedView
	decode(t, rr, &all)
	if len(all) != 2 {
		t.Fatalf("listed %d feeds, want 2", len(all))
	}

	rr = do(t, env.handler, http.MethodGet, "/feeds?owner=alice", "")
	var alices []FeedView
	decode(t, rr, &alices)
	if len(alices) != 1 || alices[0].Title != "Example" {
		t.Errorf("alice feeds = %+v", alices)
	}

	rr = do(t, env.handler, http.MethodGet, "/feeds?limit=1&offset=1", "")
	var paged []FeedView
	decode(t, rr, &paged)
	if len(paged) != 1 || paged[0].FeedURL != all[1].FeedURL {
		t.Errorf("paged = %+v", paged)
	}

	rr = do(t, env.handler, http.MethodDelete, "/feeds?url=https://example.com/rss&owner=alice", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "unsubscribed") {
		t.Errorf("remove alice: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, env.handler, http.MethodDelete, "/feeds?url=https://example.com/rss", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "deleted") {
		t.Errorf("remove default: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, env.handler, http.MethodDelete, "/feeds?url=https://example.com/rss", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("remove again: status = %d, want 404", rr.Code)
	}
}

func TestFeeds_RemoveLastOwnerResetsDedup(t *testing.T) {
	env := setup(t, Deps{})
	const url = "https://example.com/rss"
	f, _, err := env.store.AddFeed(url, "Example", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.store.AddFeed(url, "", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := env.dedup.MarkProcessed(f.ID, []string{"a"}); err != nil {
		t.Fatal(err)
	}
	record := filepath.Join(env.dedup.Dir(), "last_check_"+f.ID+".json")

	rr := do(t, env.handler, http.MethodDelete, "/feeds?url="+url+"&owner=alice", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("remove alice: %d %s", rr.Code, rr.Body.String())
	}
	if _, err := os.Stat(record); err != nil {
		t.Errorf("record gone while another owner remains: %v", err)
	}

	rr = do(t, env.handler, http.MethodDelete, "/feeds?url="+url, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "deleted") {
		t.Fatalf("remove last owner: %d %s", rr.Code, rr.Body.String())
	}
	if _, err := os.Stat(record); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("record after delete: err = %v, want not exist", err)
	}
}

func TestFeeds_AddValidation(t *testing.T) {
	env := setup(t, Deps{})
	for _, body := range []string{
		`not json`,
		`{"title":"no url"}`,
		`{"feedUrl":"ftp://example.com/rss"}`,
	} {
		rr := do(t, env.handler, http.MethodPost, "/feeds", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rr.Code)
		}
	}
	rr := do(t, env.handler, http.MethodDelete, "/feeds", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("delete without url: status = %d", rr.Code)
	}
}

func TestFeeds_AddWithFeedValidation(t *testing.T) {
	good := setup(t, Deps{Fetcher: fakeFetcher{feed: mcpagent.FetchedFeed{Title: "Fetched Title"}}})
	rr := do(t, good.handler, http.MethodPost, "/feeds?validate=true", `{"feedUrl":"https://example.com/rss"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var added AddFeedResponse
	decode(t, rr, &added)
	if added.Feed.Title != "Fetched Title" {
		t.Errorf("title = %q, want the fetched one", added.Feed.Title)
	}

	bad := setup(t, Deps{Fetcher: fakeFetcher{err: errors.New("not a feed")}})
	rr = do(t, bad.handler, http.MethodPost, "/feeds?validate=1", `{"feedUrl":"https://example.com/page.html"}`)
	if rr.Code != http.StatusUnprocessableEntity || !strings.Contains(rr.Body.String(), "not a feed") {
		t.Errorf("invalid feed: %d %s", rr.Code, rr.Body.String())
	}
	feeds, _ := bad.store.ListFeeds("")
	if len(feeds) != 0 {
		t.Errorf("invalid feed was stored: %+v", feeds)
	}
}

func TestFeedStats(t *testing.T) {
	env := setup(t, Deps{})
	const url = "https://example.com/rss"
	f, _, err := env.store.AddFeed(url, "Example", "")
	if err != nil {
		t.Fatal(err)
	}

	rr := do(t, env.handler, http.MethodGet, "/feeds/"+f.ID+"/stats", "")
	var st FeedStats
	decode(t, rr, &st)
	if rr.Code != http.StatusOK || st.EpisodesTracked != 0 || st.LastCheck != nil {
		t.Fatalf("fresh stats: %d %+v", rr.Code, st)
	}

	if err := env.dedup.MarkProcessed(f.ID, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	rr = do(t, env.handler, http.MethodGet, "/feeds/"+f.ID+"/stats", "")
	decode(t, rr, &st)
	if st.EpisodesTracked != 2 || st.LastCheck == nil || st.FeedURL != url {
		t.Errorf("stats = %+v", st)
	}

	rr = do(t, env.handler, http.MethodGet, "/feeds/"+dedup.FeedID("https://nope.example")+"/stats", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown feed: status = %d", rr.Code)
	}
}

func TestRuns(t *testing.T) {
	env := setup(t, Deps{})

	rr := do(t, env.handler, http.MethodGet, "/runs/last", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("last before any run: status = %d", rr.Code)
	}

	rr = do(t, env.handler, http.MethodPost, "/runs", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("trigger status = %d", rr.Code)
	}
	var trig TriggerResponse
	decode(t, rr, &trig)
	if trig.JobID == "" || trig.Status != "queued" {
		t.Errorf("trigger = %+v", trig)
	}

	rr = do(t, env.handler, http.MethodPost, "/runs", "")
	if rr.Code != http.StatusConflict {
		t.Errorf("second trigger status = %d, want 409", rr.Code)
	}

	if _, err := env.worker.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	rr = do(t, env.handler, http.MethodGet, "/runs/last", "")
	var last LastRunResponse
	decode(t, rr, &last)
	if rr.Code != http.StatusOK || last.Last == nil || last.Last.JobID != trig.JobID || last.Last.Summary.RunID != "run-42" {
		t.Errorf("last = %d %+v", rr.Code, last)
	}
	if last.Last.Source != worker.SourceAPI {
		t.Errorf("source = %q", last.Last.Source)
	}
}

func TestMCPEndpoint(t *testing.T) {
	mcpSrv := server.NewMCPServer("feed-monitor", "test", server.WithToolCapabilities(false))
	env := setup(t, Deps{MCP: mcpSrv})

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"serverInfo"`) {
		t.Errorf("initialize response = %s", rr.Body.String())
	}

	noMCP := setup(t, Deps{})
	if rr := do(t, noMCP.handler, http.MethodPost, "/mcp", body); rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("without MCP: status = %d", rr.Code)
	}
}
