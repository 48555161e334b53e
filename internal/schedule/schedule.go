// Package schedule triggers pipeline runs on a cron spec.
package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/podcaster/internal/worker"
)

// Triggerer enqueues a pipeline run.
type Triggerer interface {
	Trigger(source string) (string, error)
}

// Scheduler fires Trigger on every cron tick. Ticks that land while a run is
// queued or executing are skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	spec    string
	trigger Triggerer
	logger  *slog.Logger
}

// New parses spec (standard five-field cron or a descriptor such as
// "@every 30m"). An empty spec returns a nil Scheduler, which is inert.
func New(spec string, t Triggerer) (*Scheduler, error) {
	if t == nil {
		return nil, errors.New("schedule: triggerer must not be nil")
	}
	if spec == "" {
		return nil, nil
	}
	s := &Scheduler{
		cron:    cron.New(),
		spec:    spec,
		trigger: t,
		logger:  slog.Default().With("component", "schedule"),
	}
	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("schedule: parsing %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Spec returns the cron expression in use.
func (s *Scheduler) Spec() string {
	if s == nil {
		return ""
	}
	return s.spec
}

// Start begins firing ticks in the background.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "spec", s.spec, "next", s.cron.Entry(s.entry).Next)
}

// Stop halts the scheduler and waits for a tick in progress.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobID, err := s.trigger.Trigger(worker.SourceSchedule)
	switch {
	case errors.Is(err, worker.ErrBusy):
		s.logger.Info("scheduled run skipped, previous run still active")
	case err != nil:
		s.logger.Error("scheduled run not queued", "error", err)
	default:
		s.logger.Debug("scheduled run queued", "job_id", jobID)
	}
}
