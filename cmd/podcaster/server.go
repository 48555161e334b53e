package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/podcaster/internal/api"
	"github.com/kalambet/podcaster/internal/config"
	"github.com/kalambet/podcaster/internal/mcpagent"
	"github.com/kalambet/podcaster/internal/schedule"
	"github.com/kalambet/podcaster/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, run worker and cron scheduler (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func pidFilePath(cfg config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, "podcaster.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "podcaster version %s\n", version)

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	// Refuse to start a second server on the same port.
	pidPath := pidFilePath(cfg)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("podcaster is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signalContext()
	defer stop()

	orch, err := a.orchestrator(runOptions{}, true)
	if err != nil {
		return err
	}

	w := worker.NewWorker(a.store, orch, nil, time.Second)
	go w.Run(ctx)

	sched, err := schedule.New(cfg.Schedule.Cron, w)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()
	slog.Info("storage opened", "db", cfg.DBPath(), "state_dir", cfg.StateDir())
	if spec := sched.Spec(); spec != "" {
		slog.Info("scheduled runs enabled", "cron", spec)
	}

	monitor := mcpagent.NewFeedMonitor(mcpagent.FeedMonitorConfig{
		Store:     a.dedup,
		Registry:  a.store,
		FeedsFile: cfg.Feeds.File,
	})
	handler := api.NewHandler(api.Deps{
		Feeds:   a.store,
		Dedup:   a.dedup,
		Health:  a.registry,
		Runs:    w,
		Fetcher: mcpagent.NewHTTPFetcher(nil),
		MCP:     monitor.Server(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "podcaster listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
