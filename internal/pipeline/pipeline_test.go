package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/apierr"
	"github.com/vaultkeep/backupd/internal/oplock"
	"github.com/vaultkeep/backupd/internal/repository"
)

// -----------------------------------------------------------------------------
// In-memory fakes for the repository interfaces. Each embeds the interface
// so only the methods exercised by the pipeline need implementations.
// -----------------------------------------------------------------------------

type fakeTargetRepository struct {
	repository.TargetRepository
	targets map[uuid.UUID]repository.Target
}

func (f *fakeTargetRepository) GetByID(ctx context.Context, id uuid.UUID) (*repository.Target, error) {
	t, ok := f.targets[id]
	if !ok {
		return nil, apierr.ErrNotFound
	}
	return &t, nil
}

type fakeDestinationRepository struct {
	repository.DestinationRepository
	destinations map[uuid.UUID]repository.Destination
}

func (f *fakeDestinationRepository) GetByID(ctx context.Context, id uuid.UUID) (*repository.Destination, error) {
	d, ok := f.destinations[id]
	if !ok {
		return nil, apierr.ErrNotFound
	}
	return &d, nil
}

type fakeScheduleRepository struct {
	repository.ScheduleRepository
	schedule         repository.Schedule
	updatedLastRun   time.Time
	updatedNextRun   time.Time
	updateScheduleCalled bool
}

func (f *fakeScheduleRepository) GetByIDWithDestinations(ctx context.Context, id uuid.UUID) (*repository.Schedule, error) {
	s := f.schedule
	return &s, nil
}

func (f *fakeScheduleRepository) UpdateSchedule(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt time.Time) error {
	f.updateScheduleCalled = true
	f.updatedLastRun = lastRunAt
	f.updatedNextRun = nextRunAt
	return nil
}

type fakeRunRepository struct {
	repository.RunRepository
	mu      sync.Mutex
	runs    map[uuid.UUID]*repository.Run
	nextID  int
}

func newFakeRunRepository() *fakeRunRepository {
	return &fakeRunRepository{runs: make(map[uuid.UUID]*repository.Run)}
}

func (f *fakeRunRepository) Create(ctx context.Context, run *repository.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := uuid.NewV7()
	run.ID = id
	cp := *run
	f.runs[id] = &cp
	return nil
}

func (f *fakeRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, finishedAt *time.Time, details, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return apierr.ErrNotFound
	}
	r.Status = status
	r.FinishedAt = finishedAt
	r.Details = details
	r.ErrorMessage = errMsg
	return nil
}

type fakeAuditEventRepository struct {
	repository.AuditEventRepository
	mu     sync.Mutex
	events map[uuid.UUID]*repository.AuditEvent
}

func newFakeAuditEventRepository() *fakeAuditEventRepository {
	return &fakeAuditEventRepository{events: make(map[uuid.UUID]*repository.AuditEvent)}
}

func (f *fakeAuditEventRepository) Create(ctx context.Context, event *repository.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := uuid.NewV7()
	event.ID = id
	cp := *event
	f.events[id] = &cp
	return nil
}

func (f *fakeAuditEventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, finishedAt *time.Time, details, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return apierr.ErrNotFound
	}
	e.Status = status
	e.FinishedAt = finishedAt
	e.Details = details
	e.ErrorMessage = errMsg
	return nil
}

// -----------------------------------------------------------------------------
// Test setup helper: a SQLite target backed by a real temp file and a
// "local" destination backed by a real temp directory, exercising the
// actual SQLiteAdapter (plain file copy) and LocalProvider (plain file
// I/O) end to end with no mocking of either.
// -----------------------------------------------------------------------------

func newTestPipeline(t *testing.T, sourceDBPath, backupsRoot string) (*Pipeline, *fakeRunRepository, *fakeAuditEventRepository, repository.Target, repository.Destination) {
	t.Helper()

	target := repository.Target{
		Name:   "pg-main",
		DBType: "sqlite",
		Config: `{"file_path":"` + sourceDBPath + `"}`,
	}
	target.ID = uuid.Must(uuid.NewV7())

	dest := repository.Destination{
		Name:            "local",
		DestinationType: "local",
		Config:          `{"base_path":"` + backupsRoot + `"}`,
	}
	dest.ID = uuid.Must(uuid.NewV7())

	targets := &fakeTargetRepository{targets: map[uuid.UUID]repository.Target{target.ID: target}}
	destinations := &fakeDestinationRepository{destinations: map[uuid.UUID]repository.Destination{dest.ID: dest}}
	runs := newFakeRunRepository()
	audit := newFakeAuditEventRepository()
	locks := oplock.New(zap.NewNop())

	p := New(Config{TempDir: t.TempDir()}, targets, destinations, nil, runs, audit, locks, nil, zap.NewNop())
	return p, runs, audit, target, dest
}

func TestExecuteManualBackupSucceeds(t *testing.T) {
	dir := t.TempDir()
	sourceDB := filepath.Join(dir, "source.db")
	if err := os.WriteFile(sourceDB, []byte("fake sqlite content"), 0o600); err != nil {
		t.Fatalf("write source db: %v", err)
	}
	backupsRoot := filepath.Join(dir, "backups")

	p, runs, audit, target, dest := newTestPipeline(t, sourceDB, backupsRoot)

	run, err := p.ExecuteManual(context.Background(), ManualRequest{
		TargetID:       target.ID,
		DestinationIDs: []uuid.UUID{dest.ID},
	})
	if err != nil {
		t.Fatalf("ExecuteManual: %v", err)
	}
	if run.Status != "success" {
		t.Fatalf("expected success, got %s (error: %s)", run.Status, run.ErrorMessage)
	}
	if run.BackupFilename == "" {
		t.Fatal("expected a non-empty backup filename")
	}

	var details runDetails
	if err := json.Unmarshal([]byte(run.Details), &details); err != nil {
		t.Fatalf("unmarshal run details: %v", err)
	}
	if len(details.Uploads) != 1 {
		t.Fatalf("expected 1 upload record, got %d", len(details.Uploads))
	}
	if details.Encrypted {
		t.Fatal("expected unencrypted manual run")
	}

	runs.mu.Lock()
	stored := runs.runs[run.ID]
	runs.mu.Unlock()
	if stored.Status != "success" {
		t.Fatalf("run repository not updated: %s", stored.Status)
	}

	audit.mu.Lock()
	found := false
	for _, e := range audit.events {
		if e.Operation == "backup" && e.Status == "success" {
			found = true
		}
	}
	audit.mu.Unlock()
	if !found {
		t.Fatal("expected a successful backup audit event")
	}

	entries, err := os.ReadDir(filepath.Join(backupsRoot, "pg-main"))
	if err != nil {
		t.Fatalf("read backups dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 uploaded artifact, got %d", len(entries))
	}
}

func TestExecuteManualEncryptedBackup(t *testing.T) {
	dir := t.TempDir()
	sourceDB := filepath.Join(dir, "source.db")
	if err := os.WriteFile(sourceDB, []byte("fake sqlite content"), 0o600); err != nil {
		t.Fatalf("write source db: %v", err)
	}
	backupsRoot := filepath.Join(dir, "backups")

	p, _, _, target, dest := newTestPipeline(t, sourceDB, backupsRoot)

	run, err := p.ExecuteManual(context.Background(), ManualRequest{
		TargetID:           target.ID,
		DestinationIDs:     []uuid.UUID{dest.ID},
		EncryptionPassword: "hunter2",
	})
	if err != nil {
		t.Fatalf("ExecuteManual: %v", err)
	}
	if run.Status != "success" {
		t.Fatalf("expected success, got %s (%s)", run.Status, run.ErrorMessage)
	}
	if filepath.Ext(run.BackupFilename) != ".enc" {
		t.Fatalf("expected .enc suffix, got %s", run.BackupFilename)
	}

	var details runDetails
	if err := json.Unmarshal([]byte(run.Details), &details); err != nil {
		t.Fatalf("unmarshal details: %v", err)
	}
	if !details.Encrypted {
		t.Fatal("expected details.encrypted = true")
	}
}

func TestExecuteManualUnknownDBTypeFails(t *testing.T) {
	dir := t.TempDir()
	backupsRoot := filepath.Join(dir, "backups")

	target := repository.Target{Name: "weird", DBType: "oracle"}
	target.ID = uuid.Must(uuid.NewV7())
	dest := repository.Destination{Name: "local", DestinationType: "local", Config: `{"base_path":"` + backupsRoot + `"}`}
	dest.ID = uuid.Must(uuid.NewV7())

	targets := &fakeTargetRepository{targets: map[uuid.UUID]repository.Target{target.ID: target}}
	destinations := &fakeDestinationRepository{destinations: map[uuid.UUID]repository.Destination{dest.ID: dest}}
	runs := newFakeRunRepository()
	audit := newFakeAuditEventRepository()
	locks := oplock.New(zap.NewNop())
	p := New(Config{TempDir: t.TempDir()}, targets, destinations, nil, runs, audit, locks, nil, zap.NewNop())

	run, err := p.ExecuteManual(context.Background(), ManualRequest{
		TargetID:       target.ID,
		DestinationIDs: []uuid.UUID{dest.ID},
	})
	if err == nil {
		t.Fatal("expected an error for an unregistered db_type")
	}
	if !errors.Is(err, apierr.ErrAdapterFailure) {
		t.Fatalf("expected ErrAdapterFailure, got %v", err)
	}
	if run.Status != "failed" {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
}

func TestExecuteScheduledRejectsConcurrentRestore(t *testing.T) {
	dir := t.TempDir()
	sourceDB := filepath.Join(dir, "source.db")
	os.WriteFile(sourceDB, []byte("fake sqlite content"), 0o600)
	backupsRoot := filepath.Join(dir, "backups")

	p, _, _, target, dest := newTestPipeline(t, sourceDB, backupsRoot)

	schedule := repository.Schedule{
		Name:            "nightly",
		TargetID:        target.ID,
		Enabled:         true,
		IntervalSeconds: 86400,
		Destinations:    []repository.ScheduleDestination{{DestinationID: dest.ID}},
	}
	schedule.ID = uuid.Must(uuid.NewV7())
	p.schedules = &fakeScheduleRepository{schedule: schedule}

	// Hold the sql-family restore lock before the scheduled run attempts to
	// acquire its backup lock.
	release, err := p.locks.Acquire(oplock.FamilyForDBType("sqlite"), oplock.OpRestore)
	if err != nil {
		t.Fatalf("acquire restore lock: %v", err)
	}
	defer release()

	err = p.ExecuteScheduled(context.Background(), schedule.ID)
	if err == nil {
		t.Fatal("expected the scheduled run to be rejected by the held restore lock")
	}
	if !errors.Is(err, apierr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestExecuteScheduledAdvancesNextRunAt(t *testing.T) {
	dir := t.TempDir()
	sourceDB := filepath.Join(dir, "source.db")
	os.WriteFile(sourceDB, []byte("fake sqlite content"), 0o600)
	backupsRoot := filepath.Join(dir, "backups")

	p, _, _, target, dest := newTestPipeline(t, sourceDB, backupsRoot)

	schedule := repository.Schedule{
		Name:            "nightly",
		TargetID:        target.ID,
		Enabled:         true,
		IntervalSeconds: 86400,
		Retention:       `{"run_at_time":"03:30"}`,
		Destinations:    []repository.ScheduleDestination{{DestinationID: dest.ID}},
	}
	schedule.ID = uuid.Must(uuid.NewV7())
	fakeSchedules := &fakeScheduleRepository{schedule: schedule}
	p.schedules = fakeSchedules

	if err := p.ExecuteScheduled(context.Background(), schedule.ID); err != nil {
		t.Fatalf("ExecuteScheduled: %v", err)
	}
	if !fakeSchedules.updateScheduleCalled {
		t.Fatal("expected UpdateSchedule to be called")
	}
	if !fakeSchedules.updatedNextRun.After(fakeSchedules.updatedLastRun) {
		t.Fatalf("expected next_run_at after last_run_at, got next=%s last=%s",
			fakeSchedules.updatedNextRun, fakeSchedules.updatedLastRun)
	}
}
