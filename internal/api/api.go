// Package api is the HTTP surface of `podcaster serve`: feed subscriptions,
// run triggers, agent health and the feed monitor over streamable HTTP MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/podcaster/internal/agent"
	"github.com/kalambet/podcaster/internal/dedup"
	"github.com/kalambet/podcaster/internal/mcpagent"
	"github.com/kalambet/podcaster/internal/storage"
	"github.com/kalambet/podcaster/internal/worker"
)

const (
	maxRequestBodySize = 64 << 10
	validateTimeout    = 30 * time.Second
)

// FeedStore is the subscription registry.
type FeedStore interface {
	AddFeed(feedURL, title, owner string) (storage.Feed, bool, error)
	RemoveFeed(feedURL, owner string) (bool, error)
	GetFeed(id string) (storage.Feed, error)
	ListFeeds(owner string) ([]storage.Feed, error)
}

// HealthChecker probes the agents.
type HealthChecker interface {
	Health(ctx context.Context) agent.HealthReport
}

// Runs triggers pipeline runs and reports on them.
type Runs interface {
	Trigger(source string) (string, error)
	State() *worker.State
}

type Deps struct {
	Feeds   FeedStore
	Dedup   *dedup.Store
	Health  HealthChecker
	Runs    Runs
	Fetcher mcpagent.Fetcher // optional; enables ?validate=true on POST /feeds
	MCP     *server.MCPServer
}

// FeedView is the JSON shape of a subscribed feed.
type FeedView struct {
	FeedID    string    `json:"feedId"`
	FeedURL   string    `json:"feedUrl"`
	Title     string    `json:"title,omitempty"`
	Owners    []string  `json:"owners"`
	CreatedAt time.Time `json:"createdAt"`
}

// FeedStats combines the registry entry with its dedup record.
type FeedStats struct {
	FeedView
	EpisodesTracked int        `json:"episodesTracked"`
	LastCheck       *time.Time `json:"lastCheck,omitempty"`
}

type AddFeedRequest struct {
	FeedURL string `json:"feedUrl"`
	Title   string `json:"title"`
	Owner   string `json:"owner"`
}

type AddFeedResponse struct {
	Feed    FeedView `json:"feed"`
	Created bool     `json:"created"`
}

type TriggerResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// LastRunResponse is the body of GET /runs/last.
type LastRunResponse struct {
	ActiveJobID string          `json:"activeJobId,omitempty"`
	Last        *worker.LastRun `json:"last,omitempty"`
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))
	r.Get("/feeds", handleListFeeds(deps))
	r.Post("/feeds", handleAddFeed(deps))
	r.Delete("/feeds", handleRemoveFeed(deps))
	r.Get("/feeds/{feedID}/stats", handleFeedStats(deps))
	r.Post("/runs", handleTriggerRun(deps))
	r.Get("/runs/last", handleLastRun(deps))

	if deps.MCP != nil {
		r.Handle("/mcp", server.NewStreamableHTTPServer(deps.MCP))
	}
	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := deps.Health.Health(r.Context())
		code := http.StatusOK
		if report.Status == agent.HealthError {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func handleListFeeds(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feeds, err := deps.Feeds.ListFeeds(r.URL.Query().Get("owner"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list feeds: %v", err)
			return
		}
		limit := parseIntParam(r, "limit", 0, 0)
		offset := parseIntParam(r, "offset", 0, 0)
		if offset > len(feeds) {
			offset = len(feeds)
		}
		feeds = feeds[offset:]
		if limit > 0 && limit < len(feeds) {
			feeds = feeds[:limit]
		}

		views := make([]FeedView, 0, len(feeds))
		for _, f := range feeds {
			views = append(views, feedView(f))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleAddFeed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AddFeedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.FeedURL = strings.TrimSpace(req.FeedURL)
		if req.FeedURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "feedUrl is required")
			return
		}
		if !strings.HasPrefix(req.FeedURL, "http://") && !strings.HasPrefix(req.FeedURL, "https://") {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "feedUrl must be an http or https URL")
			return
		}

		if validate, _ := strconv.ParseBool(r.URL.Query().Get("validate")); validate && deps.Fetcher != nil {
			ctx, cancel := context.WithTimeout(r.Context(), validateTimeout)
			defer cancel()
			v := mcpagent.Validate(ctx, deps.Fetcher, req.FeedURL)
			if !v.Valid {
				httpError(w, http.StatusUnprocessableEntity, "invalid_feed", "feed did not validate: %s", v.Error)
				return
			}
			if req.Title == "" {
				req.Title = v.Title
			}
		}

		f, created, err := deps.Feeds.AddFeed(req.FeedURL, req.Title, req.Owner)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add feed: %v", err)
			return
		}
		code := http.StatusOK
		if created {
			code = http.StatusCreated
		}
		writeJSON(w, code, AddFeedResponse{Feed: feedView(f), Created: created})
	}
}

func handleRemoveFeed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		feedURL := strings.TrimSpace(q.Get("url"))
		if feedURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url query parameter is required")
			return
		}

		deleted, err := deps.Feeds.RemoveFeed(feedURL, q.Get("owner"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "feed subscription not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove feed: %v", err)
			return
		}

		status := "unsubscribed"
		if deleted {
			status = "deleted"
			if err := deps.Dedup.Reset(dedup.FeedID(feedURL)); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "feed removed but its dedup record was kept: %v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

func handleFeedStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "feedID")

		f, err := deps.Feeds.GetFeed(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "feed not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get feed: %v", err)
			return
		}

		st, err := deps.Dedup.Stats(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read dedup record: %v", err)
			return
		}
		out := FeedStats{FeedView: feedView(f), EpisodesTracked: st.EpisodesTracked}
		if !st.LastCheck.IsZero() {
			out.LastCheck = &st.LastCheck
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleTriggerRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := deps.Runs.Trigger(worker.SourceAPI)
		if errors.Is(err, worker.ErrBusy) {
			httpError(w, http.StatusConflict, "conflict", "a pipeline run is already queued or running")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue run: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, TriggerResponse{JobID: jobID, Status: "queued"})
	}
}

func handleLastRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := deps.Runs.State()
		var resp LastRunResponse
		if id, ok := st.Active(); ok {
			resp.ActiveJobID = id
		}
		if last, ok := st.Last(); ok {
			resp.Last = &last
		}
		if resp.Last == nil && resp.ActiveJobID == "" {
			httpError(w, http.StatusNotFound, "not_found", "no pipeline run has finished yet")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func feedView(f storage.Feed) FeedView {
	owners := f.Owners
	if owners == nil {
		owners = []string{}
	}
	return FeedView{
		FeedID:    f.ID,
		FeedURL:   f.URL,
		Title:     f.Title,
		Owners:    owners,
		CreatedAt: f.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
