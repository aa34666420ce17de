// Package scheduler drives the periodic due-schedule tick (§4.2). Unlike
// the teacher's scheduler, which registers one gocron job per policy on its
// own cron expression, this engine has a single source of truth for "what
// is due" — the schedule_repository.ListDue query — so there is exactly one
// gocron job: a fixed-interval tick that pulls a bounded batch of due
// schedules and hands each to the execution pipeline. The teacher's
// singleton-mode / tag-based per-policy job shape doesn't fit that model,
// but its wrap-gocron-in-a-small-struct-with-Start/Stop idiom carries over
// directly.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/repository"
)

// Executor runs the execution pipeline for one due schedule. Implemented by
// internal/pipeline.Pipeline; declared here to keep this package free of a
// dependency on pipeline's broader collaborator set.
type Executor interface {
	ExecuteScheduled(ctx context.Context, scheduleID uuid.UUID) error
}

// Config configures the tick loop. Zero values fall back to the spec
// defaults (§4.2).
type Config struct {
	// TickInterval is how often the loop checks for due schedules.
	// Default 60s.
	TickInterval time.Duration
	// BatchSize is how many due schedules a single ListDue query returns.
	// Default 10. Corresponds to RUNNER_MAX_SCHEDULES.
	BatchSize int
	// DrainMode re-queries within the same tick, up to MaxDrainBatches
	// times, when a batch came back full — letting the engine catch up
	// after downtime instead of waiting one tick per batch. Corresponds
	// to RUNNER_DRAIN_MODE.
	DrainMode bool
	// MaxDrainBatches caps drain-mode repetition per tick. Default 20.
	MaxDrainBatches int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 60 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxDrainBatches <= 0 {
		c.MaxDrainBatches = 20
	}
	return c
}

// Scheduler runs a single fixed-interval gocron job that drains due
// schedules on each tick. The zero value is not usable — create instances
// with New.
type Scheduler struct {
	cron      gocron.Scheduler
	cfg       Config
	schedules repository.ScheduleRepository
	executor  Executor
	logger    *zap.Logger
}

// New creates and configures a Scheduler. Call Start to begin ticking.
func New(cfg Config, schedules repository.ScheduleRepository, executor Executor, logger *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create gocron scheduler: %w", err)
	}

	return &Scheduler{
		cron:      cron,
		cfg:       cfg.withDefaults(),
		schedules: schedules,
		executor:  executor,
		logger:    logger.Named("scheduler"),
	}, nil
}

// Start registers the tick job and starts the underlying gocron scheduler.
func (s *Scheduler) Start() error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.cfg.TickInterval),
		gocron.NewTask(func() { s.tick(context.Background()) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: register tick job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Bool("drain_mode", s.cfg.DrainMode),
	)
	return nil
}

// Stop gracefully shuts down the underlying gocron scheduler.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// tick is one invocation of the gocron job: steps 1-3 of §4.2.
func (s *Scheduler) tick(ctx context.Context) {
	batches := 0
	for {
		batches++
		due, err := s.schedules.ListDue(ctx, time.Now().UTC(), s.cfg.BatchSize)
		if err != nil {
			s.logger.Error("failed to list due schedules", zap.Error(err))
			return
		}

		if len(due) > 0 {
			s.runBatch(ctx, due)
		}

		filled := len(due) == s.cfg.BatchSize
		if !s.cfg.DrainMode || !filled || batches >= s.cfg.MaxDrainBatches {
			if filled && batches >= s.cfg.MaxDrainBatches {
				s.logger.Warn("drain mode safety cap reached, remaining due schedules deferred to next tick",
					zap.Int("batches", batches))
			}
			return
		}
	}
}

// runBatch executes every schedule in the batch concurrently — "across
// schedules within one tick, executions may run in parallel up to the batch
// limit N" (§1) — and waits for all to finish before the tick (or drain
// iteration) returns.
func (s *Scheduler) runBatch(ctx context.Context, due []repository.Schedule) {
	var wg sync.WaitGroup
	for i := range due {
		schedule := due[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.executor.ExecuteScheduled(ctx, schedule.ID); err != nil {
				s.logger.Error("scheduled execution failed",
					zap.String("schedule_id", schedule.ID.String()),
					zap.String("schedule_name", schedule.Name),
					zap.Error(err),
				)
			}
		}()
	}
	wg.Wait()
}
