package mcpagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/podcaster/internal/dedup"
	"github.com/kalambet/podcaster/internal/tools"
)

// DefaultCacheTTL bounds how long a check_feeds fetch is reused by the
// following get_new_episodes pages.
const DefaultCacheTTL = 5 * time.Minute

// FeedMonitorConfig wires the feed monitor.
type FeedMonitorConfig struct {
	Store     *dedup.Store
	Registry  FeedRegistry // optional
	FeedsFile string       // optional
	Fetcher   Fetcher
	CacheTTL  time.Duration
}

// FeedMonitor detects new episodes across all configured feeds. Fetched
// feeds are cached briefly; the dedup diff is recomputed on every call so a
// mark is visible immediately.
type FeedMonitor struct {
	cfg FeedMonitorConfig
	now func() time.Time

	mu       sync.Mutex
	cacheKey string
	cachedAt time.Time
	cached   []FetchedFeed
	failed   int

	// markMu serializes dedup writers.
	markMu sync.Mutex
}

// NewFeedMonitor returns a monitor for cfg.
func NewFeedMonitor(cfg FeedMonitorConfig) *FeedMonitor {
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewHTTPFetcher(nil)
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &FeedMonitor{cfg: cfg, now: time.Now}
}

// Server returns the feed monitor as an MCP server.
func (m *FeedMonitor) Server() *server.MCPServer {
	s := newServer("feed-monitor-agent", "Detects new podcast episodes and tracks which ones were processed.")

	s.AddTool(
		mcp.NewTool(tools.CheckFeeds,
			mcp.WithDescription("Fetch every configured feed and count episodes not yet processed."),
		),
		m.handleCheckFeeds,
	)
	s.AddTool(
		mcp.NewTool(tools.CheckFeed,
			mcp.WithDescription("Fetch one feed and list its unprocessed episodes."),
			mcp.WithString("feed_url", mcp.Description("Feed URL"), mcp.Required()),
		),
		m.handleCheckFeed,
	)
	s.AddTool(
		mcp.NewTool(tools.GetFeedList,
			mcp.WithDescription("List the configured feeds."),
		),
		m.handleFeedList,
	)
	s.AddTool(
		mcp.NewTool(tools.GetFeedStats,
			mcp.WithDescription("Report how many episodes of a feed are tracked and when it was last marked."),
			mcp.WithString("feed_url", mcp.Description("Feed URL"), mcp.Required()),
		),
		m.handleFeedStats,
	)
	s.AddTool(
		mcp.NewTool(tools.GetNewEpisodes,
			mcp.WithDescription("Return one page of unprocessed episodes across all feeds."),
			mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			mcp.WithNumber("per_page", mcp.Description(fmt.Sprintf("Page size (default %d, max %d)", tools.DefaultPerPage, tools.MaxPerPage))),
		),
		m.handleNewEpisodes,
	)
	s.AddTool(
		mcp.NewTool(tools.MarkEpisodesProcessed,
			mcp.WithDescription("Record episodes as processed so they are never returned again."),
			mcp.WithArray("episodes",
				mcp.Description("Episodes to mark"),
				mcp.Required(),
				mcp.Items(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"guid":    map[string]any{"type": "string"},
						"feedUrl": map[string]any{"type": "string"},
						"feedId":  map[string]any{"type": "string"},
					},
					"required": []string{"guid", "feedUrl", "feedId"},
				}),
			),
		),
		m.handleMark,
	)
	s.AddTool(
		mcp.NewTool(tools.ValidateFeed,
			mcp.WithDescription("Check that a URL serves a parseable feed."),
			mcp.WithString("feed_url", mcp.Description("Feed URL"), mcp.Required()),
		),
		m.handleValidate,
	)
	return s
}

func (m *FeedMonitor) feedURLs() ([]string, error) {
	list, err := FeedList(m.cfg.FeedsFile, m.cfg.Registry)
	if err != nil {
		return nil, err
	}
	urls := make([]string, len(list))
	for i, f := range list {
		urls[i] = f.FeedURL
	}
	return urls, nil
}

// fetch returns the fetched feeds, reusing the cache when it is fresh and the
// feed list is unchanged.
func (m *FeedMonitor) fetch(ctx context.Context, refresh bool) (feeds []FetchedFeed, failed int, err error) {
	urls, err := m.feedURLs()
	if err != nil {
		return nil, 0, err
	}
	key := strings.Join(urls, "\n")

	m.mu.Lock()
	if !refresh && key == m.cacheKey && m.now().Sub(m.cachedAt) < m.cfg.CacheTTL {
		feeds, failed = m.cached, m.failed
		m.mu.Unlock()
		return feeds, failed, nil
	}
	m.mu.Unlock()

	fetched, bad := fetchAll(ctx, m.cfg.Fetcher, urls)
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	for i, f := range fetched {
		if bad[i] {
			failed++
			continue
		}
		feeds = append(feeds, f)
	}

	m.mu.Lock()
	m.cacheKey, m.cachedAt, m.cached, m.failed = key, m.now(), feeds, failed
	m.mu.Unlock()
	return feeds, failed, nil
}

// newEpisodes diffs every fetched feed against its dedup record, in feed
// order then item order.
func (m *FeedMonitor) newEpisodes(feeds []FetchedFeed) ([]dedup.Episode, error) {
	var out []dedup.Episode
	for _, f := range feeds {
		eps, err := m.cfg.Store.Diff(f.ID, f.Episodes)
		if err != nil {
			return nil, err
		}
		out = append(out, eps...)
	}
	return out, nil
}

func (m *FeedMonitor) handleCheckFeeds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	feeds, failed, err := m.fetch(ctx, true)
	if err != nil {
		return jsonResult(tools.CheckFeedsResult{Status: tools.Failure(err.Error())})
	}
	eps, err := m.newEpisodes(feeds)
	if err != nil {
		return jsonResult(tools.CheckFeedsResult{Status: tools.Failure(err.Error())})
	}
	slog.Info("feeds checked", "feeds", len(feeds)+failed, "failed", failed, "new_episodes", len(eps))
	return jsonResult(tools.CheckFeedsResult{
		Status:           tools.Success(false),
		NewEpisodesFound: len(eps),
		FeedsChecked:     len(feeds) + failed,
		FeedsFailed:      failed,
	})
}

func (m *FeedMonitor) handleCheckFeed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	feedURL, err := req.RequireString("feed_url")
	if err != nil || strings.TrimSpace(feedURL) == "" {
		return mcpError("feed_url is required"), nil
	}
	res := tools.CheckFeedResult{FeedURL: feedURL, FeedID: dedup.FeedID(feedURL), NewEpisodes: []dedup.Episode{}}

	feed, err := m.cfg.Fetcher.Fetch(ctx, feedURL)
	if err != nil {
		res.Status = tools.Failure(err.Error())
		return jsonResult(res)
	}
	eps, err := m.cfg.Store.Diff(feed.ID, feed.Episodes)
	if err != nil {
		res.Status = tools.Failure(err.Error())
		return jsonResult(res)
	}
	res.Status = tools.Success(false)
	res.Title = feed.Title
	res.NewEpisodes = append(res.NewEpisodes, eps...)
	return jsonResult(res)
}

func (m *FeedMonitor) handleFeedList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := FeedList(m.cfg.FeedsFile, m.cfg.Registry)
	if err != nil {
		return jsonResult(tools.FeedListResult{Status: tools.Failure(err.Error())})
	}
	if list == nil {
		list = []tools.FeedInfo{}
	}
	return jsonResult(tools.FeedListResult{Status: tools.Success(false), Feeds: list})
}

func (m *FeedMonitor) handleFeedStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	feedURL, err := req.RequireString("feed_url")
	if err != nil || strings.TrimSpace(feedURL) == "" {
		return mcpError("feed_url is required"), nil
	}
	id := dedup.FeedID(feedURL)
	st, err := m.cfg.Store.Stats(id)
	if err != nil {
		return jsonResult(tools.FeedStatsResult{Status: tools.Failure(err.Error()), FeedURL: feedURL, FeedID: id})
	}
	res := tools.FeedStatsResult{
		Status:          tools.Success(false),
		FeedURL:         feedURL,
		FeedID:          id,
		EpisodesTracked: st.EpisodesTracked,
	}
	if !st.LastCheck.IsZero() {
		res.LastCheck = float64(st.LastCheck.UnixNano()) / float64(time.Second)
	}
	return jsonResult(res)
}

func (m *FeedMonitor) handleNewEpisodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page := req.GetInt("page", 1)
	if page < 1 {
		return mcpError("page must be >= 1"), nil
	}
	perPage := tools.ClampPerPage(req.GetInt("per_page", tools.DefaultPerPage))

	feeds, _, err := m.fetch(ctx, false)
	if err != nil {
		return jsonResult(tools.EpisodesPage{Status: tools.Failure(err.Error()), Page: page, PerPage: perPage})
	}
	all, err := m.newEpisodes(feeds)
	if err != nil {
		return jsonResult(tools.EpisodesPage{Status: tools.Failure(err.Error()), Page: page, PerPage: perPage})
	}

	res := tools.EpisodesPage{
		Status:        tools.Success(false),
		Episodes:      []dedup.Episode{},
		Page:          page,
		PerPage:       perPage,
		TotalEpisodes: len(all),
		TotalPages:    tools.PageCount(len(all), perPage),
	}
	if start := (page - 1) * perPage; start < len(all) {
		end := min(start+perPage, len(all))
		res.Episodes = append(res.Episodes, all[start:end]...)
	}
	return jsonResult(res)
}

func (m *FeedMonitor) handleMark(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	refs, err := episodeRefs(req.GetArguments()["episodes"])
	if err != nil {
		return mcpError(err.Error()), nil
	}
	if len(refs) == 0 {
		return mcpError("episodes list is required"), nil
	}

	var order []string
	byFeed := make(map[string][]string)
	for i, r := range refs {
		if r.GUID == "" || r.FeedURL == "" || r.FeedID == "" {
			return mcpError(fmt.Sprintf("episodes[%d]: guid, feedUrl and feedId are required", i)), nil
		}
		if r.FeedID != dedup.FeedID(r.FeedURL) {
			return mcpError(fmt.Sprintf("episodes[%d]: feedId does not match feedUrl", i)), nil
		}
		if _, ok := byFeed[r.FeedID]; !ok {
			order = append(order, r.FeedID)
		}
		byFeed[r.FeedID] = append(byFeed[r.FeedID], r.GUID)
	}

	m.markMu.Lock()
	defer m.markMu.Unlock()
	for _, id := range order {
		if err := m.cfg.Store.MarkProcessed(id, byFeed[id]); err != nil {
			return mcpError(fmt.Sprintf("failed to mark episodes: %v", err)), nil
		}
	}
	slog.Info("episodes marked processed", "episodes", len(refs), "feeds", len(order))
	return jsonResult(tools.MarkResult{
		Status:         tools.Success(false),
		ProcessedCount: len(refs),
		FeedsUpdated:   len(order),
	})
}

func (m *FeedMonitor) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	feedURL, err := req.RequireString("feed_url")
	if err != nil || strings.TrimSpace(feedURL) == "" {
		return mcpError("feed_url is required"), nil
	}
	return jsonResult(Validate(ctx, m.cfg.Fetcher, feedURL))
}

// Validate fetches feedURL and reports whether it parses as a feed. The
// status is always success; Valid carries the verdict.
func Validate(ctx context.Context, f Fetcher, feedURL string) tools.FeedValidation {
	res := tools.FeedValidation{Status: tools.Success(false), FeedURL: feedURL}
	feed, err := f.Fetch(ctx, feedURL)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Valid = true
	res.Title = feed.Title
	res.Description = feed.Description
	res.Episodes = len(feed.Episodes)
	return res
}

// episodeRefs decodes the loosely typed episodes argument.
func episodeRefs(raw any) ([]tools.EpisodeRef, error) {
	if raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid episodes: %v", err)
	}
	var refs []tools.EpisodeRef
	if err := json.Unmarshal(b, &refs); err != nil {
		return nil, fmt.Errorf("invalid episodes: %v", err)
	}
	return refs, nil
}
