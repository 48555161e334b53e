package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/podcaster/internal/pipeline"
	"github.com/kalambet/podcaster/internal/storage"
)

type mockRunner struct {
	calls atomic.Int32
	runFn func(ctx context.Context) (*pipeline.Run, error)
}

func (m *mockRunner) Run(ctx context.Context) (*pipeline.Run, error) {
	m.calls.Add(1)
	return m.runFn(ctx)
}

func okRun(id string) func(context.Context) (*pipeline.Run, error) {
	return func(context.Context) (*pipeline.Run, error) {
		return &pipeline.Run{ID: id, Stages: []pipeline.StageResult{{Agent: "feed-monitor", Stage: pipeline.StageFeedCheck, Success: true}}}, nil
	}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func TestWorker_TriggerAndRun(t *testing.T) {
	store := openTestStore(t)
	runner := &mockRunner{runFn: okRun("run-1")}
	w := NewWorker(store, runner, nil, 0)

	jobID, err := w.Trigger(SourceAPI)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if _, ok := w.State().Last(); ok {
		t.Fatal("Last reported a run before any ran")
	}

	didWork, err := w.RunOnce(context.Background())
	if err != nil || !didWork {
		t.Fatalf("RunOnce = %v, %v", didWork, err)
	}

	job, err := store.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != storage.JobCompleted {
		t.Errorf("job status = %q, want completed", job.Status)
	}
	last, ok := w.State().Last()
	if !ok || last.JobID != jobID || last.Source != SourceAPI || last.Summary.RunID != "run-1" {
		t.Errorf("Last = %+v, %v", last, ok)
	}
	if _, active := w.State().Active(); active {
		t.Error("state still active after the run")
	}
}

func TestWorker_TriggerBusy(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockRunner{runFn: okRun("r")}, nil, 0)

	if _, err := w.Trigger(SourceSchedule); err != nil {
		t.Fatalf("first Trigger: %v", err)
	}
	if _, err := w.Trigger(SourceAPI); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Trigger err = %v, want ErrBusy", err)
	}

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Trigger(SourceAPI); err != nil {
		t.Errorf("Trigger after completion: %v", err)
	}
}

func TestWorker_NoJob(t *testing.T) {
	w := NewWorker(openTestStore(t), &mockRunner{runFn: okRun("r")}, nil, 0)
	didWork, err := w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	runner := &mockRunner{}
	runner.runFn = func(context.Context) (*pipeline.Run, error) {
		if runner.calls.Load() == 1 {
			err := errors.New("mark processed: disk full")
			return &pipeline.Run{ID: "failed-run", Err: err}, err
		}
		return okRun("second")(context.Background())
	}
	w := NewWorker(store, runner, nil, 0)
	jobID, err := w.Trigger(SourceCLI)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	job, _ := store.GetJob(jobID)
	if job.Status != storage.JobPending || job.Attempts != 1 || job.LastError != "mark processed: disk full" {
		t.Fatalf("after failure: %+v", job)
	}
	if last, _ := w.State().Last(); last.Summary.Status != pipeline.StatusError {
		t.Errorf("failed run summary status = %q", last.Summary.Status)
	}

	resetRunAfter(t, store, jobID)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	job, _ = store.GetJob(jobID)
	if job.Status != storage.JobCompleted {
		t.Errorf("after retry: status = %q", job.Status)
	}
}

func TestWorker_MaxAttemptsExceeded(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockRunner{runFn: func(context.Context) (*pipeline.Run, error) {
		return nil, errors.New("permanent")
	}}, nil, 0)
	jobID, err := w.Trigger(SourceCLI)
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= runMaxAttempts; i++ {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
		resetRunAfter(t, store, jobID)
	}
	job, _ := store.GetJob(jobID)
	if job.Status != storage.JobFailed {
		t.Errorf("status = %q, want failed", job.Status)
	}
}

func TestWorker_LockHeldCompletesJob(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockRunner{runFn: func(context.Context) (*pipeline.Run, error) {
		return nil, pipeline.ErrRunInProgress
	}}, nil, 0)
	jobID, _ := w.Trigger(SourceSchedule)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	job, _ := store.GetJob(jobID)
	if job.Status != storage.JobCompleted {
		t.Errorf("status = %q, want completed", job.Status)
	}
	if _, ok := w.State().Last(); ok {
		t.Error("skipped run recorded as last run")
	}
}

func TestWorker_CancelledRunStaysRunning(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(store, &mockRunner{runFn: func(ctx context.Context) (*pipeline.Run, error) {
		cancel()
		return &pipeline.Run{ID: "x"}, ctx.Err()
	}}, nil, 0)
	jobID, _ := w.Trigger(SourceAPI)

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	job, _ := store.GetJob(jobID)
	if job.Status != storage.JobRunning {
		t.Fatalf("status = %q, want running", job.Status)
	}

	n, err := store.RecoverRunningJobs()
	if err != nil || n != 1 {
		t.Fatalf("RecoverRunningJobs = %d, %v", n, err)
	}
}

func TestWorker_RunLoop(t *testing.T) {
	store := openTestStore(t)
	done := make(chan struct{})
	w := NewWorker(store, &mockRunner{runFn: func(context.Context) (*pipeline.Run, error) {
		close(done)
		return &pipeline.Run{ID: "loop"}, nil
	}}, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	if _, err := w.Trigger(SourceSchedule); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never ran the job")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
