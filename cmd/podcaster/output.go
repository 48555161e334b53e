package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/kalambet/podcaster/internal/agent"
	"github.com/kalambet/podcaster/internal/dedup"
	"github.com/kalambet/podcaster/internal/pipeline"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

// statusColors maps agent, health and stage statuses to colors. Keys must
// stay unique; "error" and "degraded" appear in more than one package.
var statusColors = map[string]string{
	pipeline.StatusSuccess:      colorGreen,
	pipeline.AgentRealOnly:      colorGreen,
	pipeline.OutcomeReal:        colorGreen,
	agent.StatusAvailable:       colorGreen,
	agent.HealthHealthy:         colorGreen,
	pipeline.AgentSimulatedOnly: colorYellow,
	pipeline.AgentMixed:         colorYellow,
	pipeline.OutcomeSimulated:   colorYellow,
	agent.HealthDegraded:        colorYellow,
	pipeline.StatusError:        colorRed,
	pipeline.OutcomeFailed:      colorRed,
	agent.StatusMissing:         colorRed,
}

func colorStatus(s string) string {
	if c, ok := statusColors[s]; ok {
		return colorize(c, s)
	}
	return s
}

func renderSummary(w io.Writer, s pipeline.Summary) {
	fmt.Fprintf(w, "%s %s  %s\n", colorize(colorBold, "Run"), s.RunID, colorStatus(s.Status))
	if s.Error != "" {
		fmt.Fprintf(w, "  %s\n", colorize(colorRed, s.Error))
	}
	fmt.Fprintf(w, "  %d processed, %d marked in %.1fs\n\n", s.EpisodesProcessed, s.EpisodesMarked, s.TotalTimeSeconds)

	var agentRows [][]string
	for _, name := range pipeline.AgentOrder {
		a, ok := s.Agents[name]
		if !ok {
			continue
		}
		agentRows = append(agentRows, []string{
			name, colorStatus(a.Status),
			strconv.Itoa(a.Calls), strconv.Itoa(a.Real), strconv.Itoa(a.Simulated), strconv.Itoa(a.Failed),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Agent", "Status", "Calls", "Real", "Simulated", "Failed"},
		agentRows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
	))

	if len(s.Episodes) == 0 {
		return
	}
	var epRows [][]string
	for _, ep := range s.Episodes {
		marked := ""
		if ep.Marked {
			marked = "✓"
		}
		epRows = append(epRows, []string{
			strconv.Itoa(ep.Number), truncate(ep.Title, 48),
			colorStatus(ep.Transcription), colorStatus(ep.Translation), colorStatus(ep.TTS), marked,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Episode", "Transcription", "Translation", "TTS", "Marked"},
		epRows,
		[]columnAlignment{alignRight},
	))
}

func renderEpisodes(w io.Writer, eps []dedup.Episode) {
	rows := make([][]string, 0, len(eps))
	for i, ep := range eps {
		audio := "no"
		if ep.AudioURL != "" {
			audio = "yes"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), truncate(ep.Title, 48), hostOf(ep.FeedURL), ep.PublishedAt, audio})
	}
	fmt.Fprintln(w, renderTable([]string{"#", "Title", "Feed", "Published", "Audio"}, rows, []columnAlignment{alignRight}))
}

func renderHealth(w io.Writer, r agent.HealthReport) {
	rows := make([][]string, 0, len(r.Agents))
	for _, a := range r.Agents {
		detail := strings.Join(a.Tools, ", ")
		if a.Error != "" {
			detail = a.Error
		}
		rows = append(rows, []string{a.Name, colorStatus(a.Status), fmt.Sprintf("%dms", a.ResponseTimeMs), truncate(detail, 72)})
	}
	fmt.Fprintln(w, renderTable([]string{"Agent", "Status", "Response", "Tools"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	fmt.Fprintf(w, "Overall: %s\n", colorStatus(r.Status))
}

type feedRow struct {
	ID        string
	URL       string
	Title     string
	Owners    []string
	Tracked   int
	LastCheck time.Time
}

func renderFeeds(w io.Writer, feeds []feedRow) {
	rows := make([][]string, 0, len(feeds))
	for _, f := range feeds {
		owners := append([]string(nil), f.Owners...)
		sort.Strings(owners)
		last := "never"
		if !f.LastCheck.IsZero() {
			last = f.LastCheck.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{shortID(f.ID, 12), truncate(f.Title, 32), f.URL, strings.Join(owners, ","), strconv.Itoa(f.Tracked), last})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ID", "Title", "URL", "Owners", "Processed", "Last mark"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func shortID(id string, n int) string {
	if len(id) > n {
		return id[:n]
	}
	return id
}

func hostOf(u string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}
