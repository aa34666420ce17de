package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/repository"
)

// fakeScheduleRepository serves ListDue from a queue of pre-seeded batches,
// simulating a store that has a fixed backlog of due schedules. Every other
// method is unused by the scheduler and panics if called.
type fakeScheduleRepository struct {
	repository.ScheduleRepository
	mu      sync.Mutex
	backlog []repository.Schedule
	calls   int
}

func (f *fakeScheduleRepository) ListDue(ctx context.Context, asOf time.Time, limit int) ([]repository.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if limit <= 0 || limit > len(f.backlog) {
		limit = len(f.backlog)
	}
	batch := f.backlog[:limit]
	f.backlog = f.backlog[limit:]
	return batch, nil
}

type countingExecutor struct {
	count int32
}

func (e *countingExecutor) ExecuteScheduled(ctx context.Context, scheduleID uuid.UUID) error {
	atomic.AddInt32(&e.count, 1)
	return nil
}

func seedSchedules(n int) []repository.Schedule {
	out := make([]repository.Schedule, n)
	for i := range out {
		id, _ := uuid.NewV7()
		out[i] = repository.Schedule{}
		out[i].ID = id
	}
	return out
}

func TestTickDrainModeCatchesUpInOneTick(t *testing.T) {
	// Scenario 6: 25 due schedules, batch size 10, drain mode on — a
	// single tick must execute all 25 across three batches.
	repo := &fakeScheduleRepository{backlog: seedSchedules(25)}
	exec := &countingExecutor{}
	s, err := New(Config{BatchSize: 10, DrainMode: true, MaxDrainBatches: 20}, repo, exec, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.tick(context.Background())

	if got := atomic.LoadInt32(&exec.count); got != 25 {
		t.Fatalf("expected 25 executions, got %d", got)
	}
	repo.mu.Lock()
	calls := repo.calls
	repo.mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 ListDue calls (batches of 10,10,5), got %d", calls)
	}
}

func TestTickWithoutDrainModeRunsOneBatch(t *testing.T) {
	repo := &fakeScheduleRepository{backlog: seedSchedules(25)}
	exec := &countingExecutor{}
	s, err := New(Config{BatchSize: 10, DrainMode: false}, repo, exec, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.tick(context.Background())

	if got := atomic.LoadInt32(&exec.count); got != 10 {
		t.Fatalf("expected 10 executions without drain mode, got %d", got)
	}
}

func TestTickSafetyCapStopsDrain(t *testing.T) {
	repo := &fakeScheduleRepository{backlog: seedSchedules(100)}
	exec := &countingExecutor{}
	s, err := New(Config{BatchSize: 10, DrainMode: true, MaxDrainBatches: 3}, repo, exec, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.tick(context.Background())

	if got := atomic.LoadInt32(&exec.count); got != 30 {
		t.Fatalf("expected exactly 30 executions (3 batches of 10), got %d", got)
	}
}
