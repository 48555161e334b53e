package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/podcaster/internal/agent"
	"github.com/kalambet/podcaster/internal/config"
	"github.com/kalambet/podcaster/internal/dedup"
	"github.com/kalambet/podcaster/internal/mcpagent"
	"github.com/kalambet/podcaster/internal/pipeline"
	"github.com/kalambet/podcaster/internal/storage"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once in the foreground",
	Long: `Check every feed for new episodes, then transcribe, translate and
synthesize up to --batch of them and mark the completed ones as processed.

Examples:
  podcaster run
  podcaster run --batch 2 --lang es
  podcaster run --json > summary.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		ro := runOptionsFromFlags(cmd)

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		o, err := a.orchestrator(ro, true)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		run, err := o.Run(ctx)
		if errors.Is(err, pipeline.ErrRunInProgress) {
			printWarning("another run holds the lock in %s", a.cfg.Storage.DataDir)
			return err
		}
		if run == nil {
			return err
		}

		s := pipeline.Summarize(run)
		if asJSON {
			if jerr := writeJSON(os.Stdout, s); jerr != nil {
				return jerr
			}
		} else {
			renderSummary(os.Stdout, s)
		}
		return err
	},
}

func runOptionsFromFlags(cmd *cobra.Command) runOptions {
	var ro runOptions
	ro.batchSize, _ = cmd.Flags().GetInt("batch")
	ro.pageSize, _ = cmd.Flags().GetInt("page-size")
	ro.language, _ = cmd.Flags().GetString("lang")
	ro.voice, _ = cmd.Flags().GetString("voice")
	return ro
}

func init() {
	runCmd.Flags().Int("batch", 0, "maximum episodes to process (default from pipeline.batch_size)")
	runCmd.Flags().Int("page-size", 0, "episodes per get_new_episodes page (default from pipeline.page_size)")
	runCmd.Flags().String("lang", "", "target language (default from pipeline.target_language)")
	runCmd.Flags().String("voice", "", "TTS voice id (default from pipeline.voice)")
	runCmd.Flags().Bool("json", false, "print the run summary as JSON")
}

// --- check ---

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "List the episodes the next run would process",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		ro := runOptionsFromFlags(cmd)

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		o, err := a.orchestrator(ro, false)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		res, eps, err := o.CheckFeeds(ctx)
		if err != nil {
			return fmt.Errorf("feed check: %w", err)
		}
		if asJSON {
			return writeJSON(os.Stdout, struct {
				NewEpisodesFound int             `json:"newEpisodesFound"`
				Episodes         []dedup.Episode `json:"episodes"`
			}{res.EpisodesFound, eps})
		}
		if res.EpisodesFound == 0 {
			printSuccess("No new episodes")
			return nil
		}
		printStep("%d new episodes, next run takes %d", res.EpisodesFound, len(eps))
		renderEpisodes(os.Stdout, eps)
		return nil
	},
}

func init() {
	checkCmd.Flags().Int("batch", 0, "maximum episodes to list")
	checkCmd.Flags().Int("page-size", 0, "episodes per get_new_episodes page")
	checkCmd.Flags().Bool("json", false, "print as JSON")
}

// --- health ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Start each agent, list its tools and stop it",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := buildRegistry(cfg)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		report := reg.Health(ctx)
		if asJSON {
			if err := writeJSON(os.Stdout, report); err != nil {
				return err
			}
		} else {
			renderHealth(os.Stdout, report)
		}
		if report.Status == agent.HealthError {
			return errors.New("no agent is available")
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().Bool("json", false, "print as JSON")
}

// --- feeds ---

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Manage feed subscriptions and their dedup records",
}

var feedsAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Subscribe to a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feedURL := strings.TrimSpace(args[0])
		owner, _ := cmd.Flags().GetString("owner")
		title, _ := cmd.Flags().GetString("title")
		skipValidate, _ := cmd.Flags().GetBool("no-validate")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if !skipValidate {
			ctx, stop := signalContext()
			defer stop()
			printStep("Fetching %s", feedURL)
			v := mcpagent.Validate(ctx, mcpagent.NewHTTPFetcher(nil), feedURL)
			if !v.Valid {
				return fmt.Errorf("not a valid feed: %s (use --no-validate to add anyway)", v.Error)
			}
			if title == "" {
				title = v.Title
			}
			printStatus("Episodes", "%d", v.Episodes)
		}

		f, created, err := a.store.AddFeed(feedURL, title, owner)
		if err != nil {
			return err
		}
		if created {
			printSuccess("Subscribed to %s (%s)", f.URL, shortID(f.ID, 12))
		} else {
			printSuccess("Already subscribed to %s; owner recorded", f.URL)
		}
		return nil
	},
}

var feedsRemoveCmd = &cobra.Command{
	Use:   "remove <url>",
	Short: "Unsubscribe from a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.store.RemoveFeed(args[0], owner)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("not subscribed to %s", args[0])
		}
		if err != nil {
			return err
		}
		if deleted {
			if err := a.dedup.Reset(dedup.FeedID(args[0])); err != nil {
				return fmt.Errorf("clearing dedup record: %w", err)
			}
			printSuccess("Removed %s", args[0])
		} else {
			printSuccess("Unsubscribed; other owners still follow %s", args[0])
		}
		return nil
	},
}

var feedsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscribed feeds and the static feeds file",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := mcpagent.FeedList(a.cfg.Feeds.File, a.store)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(os.Stdout, infos)
		}
		if len(infos) == 0 {
			fmt.Println("No feeds. Add one with 'podcaster feeds add <url>' or list URLs in " + a.cfg.Feeds.File)
			return nil
		}

		registered, err := a.store.ListFeeds("")
		if err != nil {
			return err
		}
		owners := make(map[string][]string, len(registered))
		for _, f := range registered {
			owners[f.ID] = f.Owners
		}

		rows := make([]feedRow, 0, len(infos))
		for _, fi := range infos {
			st, err := a.dedup.Stats(fi.FeedID)
			if err != nil {
				return err
			}
			ow := owners[fi.FeedID]
			if fi.Source != mcpagent.SourceRegistry {
				ow = append(ow, "(file)")
			}
			rows = append(rows, feedRow{
				ID: fi.FeedID, URL: fi.FeedURL, Title: fi.Title, Owners: ow,
				Tracked: st.EpisodesTracked, LastCheck: st.LastCheck,
			})
		}
		renderFeeds(os.Stdout, rows)
		return nil
	},
}

var feedsStatsCmd = &cobra.Command{
	Use:   "stats <url>",
	Short: "Show the dedup record of a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := dedup.NewStore(cfg.StateDir()).Stats(dedup.FeedID(args[0]))
		if err != nil {
			return err
		}
		printStatus("Feed", "%s", args[0])
		printStatus("Feed ID", "%s", st.FeedID)
		printStatus("Processed", "%d", st.EpisodesTracked)
		if st.LastCheck.IsZero() {
			printStatus("Last mark", "never")
		} else {
			printStatus("Last mark", "%s", st.LastCheck.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var feedsResetCmd = &cobra.Command{
	Use:   "reset <url>",
	Short: "Forget which episodes of a feed were processed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("Every episode of %s will be processed again. Use --confirm to proceed.", args[0])
			return nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := dedup.NewStore(cfg.StateDir()).Reset(dedup.FeedID(args[0])); err != nil {
			return err
		}
		printSuccess("Reset dedup record for %s", args[0])
		return nil
	},
}

func init() {
	feedsAddCmd.Flags().String("owner", "", "subscriber (default: "+storage.DefaultOwner+")")
	feedsAddCmd.Flags().String("title", "", "feed title (default: the feed's own)")
	feedsAddCmd.Flags().Bool("no-validate", false, "skip fetching the feed before adding it")
	feedsRemoveCmd.Flags().String("owner", "", "subscriber (default: "+storage.DefaultOwner+")")
	feedsListCmd.Flags().Bool("json", false, "print as JSON")
	feedsResetCmd.Flags().Bool("confirm", false, "confirm the reset")

	feedsCmd.AddCommand(feedsAddCmd)
	feedsCmd.AddCommand(feedsRemoveCmd)
	feedsCmd.AddCommand(feedsListCmd)
	feedsCmd.AddCommand(feedsStatsCmd)
	feedsCmd.AddCommand(feedsResetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secret keys (secrets.*) are stored in the platform secret store.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if strings.HasPrefix(key, "secrets.") {
			printSuccess("Stored %s", key)
		} else {
			printSuccess("Set %s = %s", key, value)
		}
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored value so the default applies again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
