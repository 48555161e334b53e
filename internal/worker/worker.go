// Package worker executes queued pipeline runs. Triggers from the scheduler,
// the HTTP API and the CLI all enqueue a pipeline_run job; one worker claims
// jobs and runs the orchestrator.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/podcaster/internal/pipeline"
	"github.com/kalambet/podcaster/internal/storage"
)

// ErrBusy is returned by Trigger while a run is queued or executing.
var ErrBusy = errors.New("worker: a pipeline run is already queued or running")

// Trigger sources.
const (
	SourceSchedule = "schedule"
	SourceAPI      = "api"
	SourceCLI      = "cli"
)

const runMaxAttempts = 2

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	HasActiveJob(jobType string) (bool, error)
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	RecoverRunningJobs() (int, error)
}

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Run, error)
}

// LastRun is the outcome of the most recent finished run.
type LastRun struct {
	JobID      string           `json:"jobId"`
	Source     string           `json:"source"`
	FinishedAt time.Time        `json:"finishedAt"`
	Summary    pipeline.Summary `json:"summary"`
}

// State holds what the server reports about runs. It is not persisted.
type State struct {
	mu     sync.RWMutex
	last   *LastRun
	active string
}

// Last returns the most recent finished run.
func (s *State) Last() (LastRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return LastRun{}, false
	}
	return *s.last, true
}

// Active returns the id of the job being executed, if any.
func (s *State) Active() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.active != ""
}

func (s *State) start(jobID string) {
	s.mu.Lock()
	s.active = jobID
	s.mu.Unlock()
}

func (s *State) finish(r *LastRun) {
	s.mu.Lock()
	s.active = ""
	if r != nil {
		s.last = r
	}
	s.mu.Unlock()
}

type runPayload struct {
	Source string `json:"source"`
}

// Worker processes pipeline_run jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	runner Runner
	state  *State
	poll   time.Duration
	logger *slog.Logger

	triggerMu sync.Mutex
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 1s. A
// nil state gets a fresh one.
func NewWorker(store JobStore, runner Runner, state *State, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if state == nil {
		state = &State{}
	}
	return &Worker{
		store:  store,
		runner: runner,
		state:  state,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// State returns the run state the worker updates.
func (w *Worker) State() *State { return w.state }

// Trigger enqueues a run unless one is already queued or running.
func (w *Worker) Trigger(source string) (string, error) {
	w.triggerMu.Lock()
	defer w.triggerMu.Unlock()

	active, err := w.store.HasActiveJob(storage.JobPipelineRun)
	if err != nil {
		return "", err
	}
	if active {
		return "", ErrBusy
	}
	payload, err := json.Marshal(runPayload{Source: source})
	if err != nil {
		return "", fmt.Errorf("marshaling run payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        storage.JobPipelineRun,
		PayloadJSON: string(payload),
		MaxAttempts: runMaxAttempts,
	}
	if err := w.store.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueueing run: %w", err)
	}
	w.logger.Info("pipeline run queued", "job_id", job.ID, "source", source)
	return job.ID, nil
}

// Run polls for jobs until ctx is cancelled. Jobs left running by a previous
// process are requeued first.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RecoverRunningJobs(); err != nil {
		w.logger.Error("recovering interrupted jobs", "error", err)
	} else if n > 0 {
		w.logger.Warn("requeued interrupted pipeline runs", "jobs", n)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and executes a single pipeline_run job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobPipelineRun})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	err = w.processJob(ctx, job)
	if ctx.Err() != nil {
		// Left running; RecoverRunningJobs requeues it on the next start.
		return true, nil
	}
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload runPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	w.state.start(job.ID)
	run, err := w.runner.Run(ctx)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		w.state.finish(nil)
		w.logger.Info("pipeline run skipped, another run holds the lock", "job_id", job.ID)
		return nil
	}

	var last *LastRun
	if run != nil {
		last = &LastRun{
			JobID:      job.ID,
			Source:     payload.Source,
			FinishedAt: time.Now().UTC(),
			Summary:    pipeline.Summarize(run),
		}
	}
	w.state.finish(last)
	return err
}
