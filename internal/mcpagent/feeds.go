package mcpagent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kalambet/podcaster/internal/dedup"
	"github.com/kalambet/podcaster/internal/storage"
	"github.com/kalambet/podcaster/internal/tools"
)

// Feed sources reported by get_feed_list.
const (
	SourceFile     = "file"
	SourceRegistry = "registry"
	SourceBoth     = "both"
)

const (
	fetchConcurrency = 4
	fetchTimeout     = 30 * time.Second
	hostInterval     = time.Second
	userAgent        = "podcaster-feed-monitor/1.0"
)

// FeedRegistry lists subscribed feeds. An empty owner lists all of them.
type FeedRegistry interface {
	ListFeeds(owner string) ([]storage.Feed, error)
}

// LoadFeedFile reads one feed URL per line. Blank lines and lines starting
// with # are skipped. A missing file yields no feeds.
func LoadFeedFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening feeds file: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading feeds file %s: %w", path, err)
	}
	return urls, nil
}

// FeedList merges the static feeds file with the registry. Registry errors
// are returned; the file is re-read on every call so edits apply without a
// restart.
func FeedList(path string, reg FeedRegistry) ([]tools.FeedInfo, error) {
	urls, err := LoadFeedFile(path)
	if err != nil {
		return nil, err
	}

	var out []tools.FeedInfo
	index := make(map[string]int)
	for _, u := range urls {
		if _, dup := index[u]; dup {
			continue
		}
		index[u] = len(out)
		out = append(out, tools.FeedInfo{FeedURL: u, FeedID: dedup.FeedID(u), Source: SourceFile})
	}

	if reg == nil {
		return out, nil
	}
	feeds, err := reg.ListFeeds("")
	if err != nil {
		return nil, fmt.Errorf("listing registry feeds: %w", err)
	}
	for _, f := range feeds {
		if i, ok := index[f.URL]; ok {
			out[i].Source = SourceBoth
			if out[i].Title == "" {
				out[i].Title = f.Title
			}
			continue
		}
		index[f.URL] = len(out)
		out = append(out, tools.FeedInfo{FeedURL: f.URL, FeedID: f.ID, Title: f.Title, Source: SourceRegistry})
	}
	return out, nil
}

// FetchedFeed is a parsed feed with its items converted to episodes.
type FetchedFeed struct {
	URL         string
	ID          string
	Title       string
	Description string
	Episodes    []dedup.Episode
}

// Fetcher retrieves and parses one feed.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (FetchedFeed, error)
}

// HTTPFetcher fetches feeds with gofeed, at most one request per host per
// second.
type HTTPFetcher struct {
	client  *http.Client
	limiter *hostLimiter
}

// NewHTTPFetcher returns a fetcher using client, or a client with a 30s
// timeout when nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &HTTPFetcher{client: client, limiter: newHostLimiter(hostInterval)}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, feedURL string) (FetchedFeed, error) {
	u, err := url.Parse(feedURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return FetchedFeed{}, fmt.Errorf("invalid feed url %q", feedURL)
	}
	if err := f.limiter.wait(ctx, u.Host); err != nil {
		return FetchedFeed{}, err
	}

	fp := gofeed.NewParser()
	fp.Client = f.client
	fp.UserAgent = userAgent
	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return FetchedFeed{}, fmt.Errorf("parsing feed %s: %w", feedURL, err)
	}
	return convertFeed(feedURL, feed), nil
}

func convertFeed(feedURL string, feed *gofeed.Feed) FetchedFeed {
	out := FetchedFeed{
		URL:         feedURL,
		ID:          dedup.FeedID(feedURL),
		Title:       strings.TrimSpace(feed.Title),
		Description: plainText(feed.Description),
	}
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		// gofeed reports both the RSS guid and the Atom id as GUID.
		guid := dedup.GUID(item.GUID, "", item.Link)
		if guid == "" {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = "No Title"
		}
		desc := item.Description
		if desc == "" {
			desc = item.Content
		}
		ep := dedup.Episode{
			GUID:        guid,
			FeedID:      out.ID,
			FeedURL:     feedURL,
			Title:       title,
			Description: plainText(desc),
			Link:        item.Link,
			AudioURL:    audioEnclosure(item.Enclosures),
			PublishedAt: item.Published,
		}
		if item.PublishedParsed != nil {
			ep.PublishedAt = item.PublishedParsed.UTC().Format(time.RFC3339)
		}
		out.Episodes = append(out.Episodes, ep)
	}
	return out
}

// audioEnclosure returns the first audio enclosure URL, or the first
// enclosure of unknown type.
func audioEnclosure(encs []*gofeed.Enclosure) string {
	var fallback string
	for _, e := range encs {
		if e == nil || e.URL == "" {
			continue
		}
		if strings.HasPrefix(e.Type, "audio/") {
			return e.URL
		}
		if e.Type == "" && fallback == "" {
			fallback = e.URL
		}
	}
	return fallback
}

var stripPolicy = bluemonday.StrictPolicy()

// plainText strips markup from a feed description.
func plainText(s string) string {
	if s == "" {
		return ""
	}
	text := html.UnescapeString(stripPolicy.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}

// fetchAll fetches urls concurrently, preserving input order. Failed feeds
// are logged and reported by index in failed.
func fetchAll(ctx context.Context, f Fetcher, urls []string) (feeds []FetchedFeed, failed []bool) {
	feeds = make([]FetchedFeed, len(urls))
	failed = make([]bool, len(urls))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			feed, err := f.Fetch(gCtx, u)
			if err != nil {
				slog.Warn("feed fetch failed", "feed_url", u, "error", err)
				failed[i] = true
				return nil
			}
			feeds[i] = feed
			return nil
		})
	}
	_ = g.Wait()
	return feeds, failed
}

// hostLimiter spaces requests to the same host.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

func newHostLimiter(interval time.Duration) *hostLimiter {
	return &hostLimiter{limiters: make(map[string]*rate.Limiter), interval: interval}
}

func (h *hostLimiter) wait(ctx context.Context, host string) error {
	h.mu.Lock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(h.interval), 1)
		h.limiters[host] = l
	}
	h.mu.Unlock()
	return l.Wait(ctx)
}
