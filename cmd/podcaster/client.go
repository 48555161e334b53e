package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/podcaster/internal/api"
	"github.com/kalambet/podcaster/internal/config"
)

// errConflict is returned by the client when the server answers 409.
var errConflict = errors.New("conflict")

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is 'podcaster serve' running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		if resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: %s", errConflict, bytes.TrimSpace(body))
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Queue a pipeline run on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.post(cmd.Context(), "/runs", nil)
		if err != nil {
			return err
		}
		var out api.TriggerResponse
		if err := decodeJSON(resp, &out); err != nil {
			if errors.Is(err, errConflict) {
				printWarning("a run is already queued or running")
				return nil
			}
			return err
		}
		printSuccess("Run queued (job %s)", out.JobID)
		return nil
	},
}

var lastJSON bool

var lastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show the most recent run reported by the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.get(cmd.Context(), "/runs/last")
		if err != nil {
			return err
		}
		var out api.LastRunResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if lastJSON {
			return writeJSON(os.Stdout, out)
		}
		if out.ActiveJobID != "" {
			printStep("Run %s in progress", out.ActiveJobID)
		}
		if out.Last == nil {
			return nil
		}
		printStatus("Job", "%s (%s)", out.Last.JobID, out.Last.Source)
		printStatus("Finished", "%s", out.Last.FinishedAt.Local().Format(time.DateTime))
		renderSummary(os.Stdout, out.Last.Summary)
		return nil
	},
}

func init() {
	lastCmd.Flags().BoolVar(&lastJSON, "json", false, "print the run as JSON")
}
