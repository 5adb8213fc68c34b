// Package scheduler triggers collection runs on a cron cadence and
// exposes the manual-trigger/status surface for the admin API. Ticks
// that land while a run is in progress are skipped, never queued; a
// failed run increments an error counter and the schedule keeps going.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coinpulse/market-data-service/internal/collector"
	"github.com/coinpulse/market-data-service/internal/models"
)

// Collector is the orchestrator surface the scheduler drives.
type Collector interface {
	CollectForward(ctx context.Context, symbols []string) (*models.CollectionResult, error)
	DetectAndFillGaps(ctx context.Context, symbols []string) (*models.CollectionResult, error)
	Trigger(mode models.CollectionMode, start time.Time, symbols []string) error
	Status() models.CollectionStatus
}

// Status is the scheduler state snapshot served to the admin surface.
type Status struct {
	IsRunning     bool       `json:"is_running"`
	LastRunTime   *time.Time `json:"last_run_time,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
	NextRunTime   *time.Time `json:"next_run_time,omitempty"`
	ErrorCount    int        `json:"error_count"`
}

// Scheduler owns the cron loop and scheduled-run bookkeeping.
type Scheduler struct {
	cron     *cron.Cron
	orch     Collector
	cronSpec string
	logger   *slog.Logger

	mu            sync.Mutex
	entryID       cron.EntryID
	started       bool
	lastRunTime   time.Time
	lastRunStatus string
	errorCount    int
}

// New creates a scheduler driving orch on the given cron cadence.
func New(orch Collector, cronSpec string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:     cron.New(),
		orch:     orch,
		cronSpec: cronSpec,
		logger:   logger,
	}
}

// Start registers the collection job and begins honoring the cadence.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	id, err := s.cron.AddFunc(s.cronSpec, s.tick)
	if err != nil {
		return fmt.Errorf("register collection job %q: %w", s.cronSpec, err)
	}
	s.entryID = id
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", "cron", s.cronSpec)
	return nil
}

// Stop halts future automatic triggers. A run already in progress is
// not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cron.Stop()
	s.started = false
	s.logger.Info("scheduler stopped")
}

// TriggerManual starts a run of the given mode unless one is already in
// progress.
func (s *Scheduler) TriggerManual(mode models.CollectionMode, start time.Time, symbols []string) error {
	return s.orch.Trigger(mode, start, symbols)
}

// Status returns the scheduler snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		IsRunning:     s.orch.Status().IsRunning,
		LastRunStatus: s.lastRunStatus,
		ErrorCount:    s.errorCount,
	}
	if !s.lastRunTime.IsZero() {
		t := s.lastRunTime
		status.LastRunTime = &t
	}
	if s.started {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			status.NextRunTime = &next
		}
	}
	return status
}

// tick is the scheduled job: forward collection to catch up to now,
// then a gap-fill pass to repair any interior holes a prior partial
// failure left behind.
func (s *Scheduler) tick() {
	if s.orch.Status().IsRunning {
		s.logger.Info("collection tick skipped, run in progress")
		return
	}
	s.runScheduled()
}

func (s *Scheduler) runScheduled() {
	defer func() {
		// A panic escaping a run must not kill the cron loop.
		if r := recover(); r != nil {
			s.logger.Error("scheduled collection panicked", "panic", r)
			s.recordRun(fmt.Errorf("panic: %v", r))
		}
	}()

	ctx := context.Background()

	result, err := s.orch.CollectForward(ctx, nil)
	if err == nil {
		logResult(s.logger, result)
		_, err = s.orch.DetectAndFillGaps(ctx, nil)
	}
	if errors.Is(err, collector.ErrAlreadyRunning) {
		// Lost the slot to a manual trigger between check and claim.
		s.logger.Info("collection tick skipped, run in progress")
		return
	}
	s.recordRun(err)
}

func (s *Scheduler) recordRun(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunTime = time.Now().UTC()
	if err != nil {
		s.lastRunStatus = "error"
		s.errorCount++
		s.logger.Error("scheduled collection failed", "error", err)
		return
	}
	s.lastRunStatus = "ok"
}

func logResult(logger *slog.Logger, result *models.CollectionResult) {
	logger.Info("scheduled collection completed",
		"mode", result.Mode,
		"successful", result.Successful,
		"failed", result.Failed,
		"records", result.TotalRecords,
	)
}
