package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vaultkeep/backupd/internal/db"
	"github.com/vaultkeep/backupd/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.New(db.Config{Driver: "sqlite", DSN: ":memory:", Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	return gdb
}

func TestTargetCreateGetUpdateDelete(t *testing.T) {
	gdb := newTestDB(t)
	repo := repository.NewTargetRepository(gdb)
	ctx := context.Background()

	target := &db.Target{Name: "primary-postgres", DBType: "postgresql", Config: `{"host":"db"}`}
	if err := repo.Create(ctx, target); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if target.ID == uuid.Nil {
		t.Fatal("expected generated UUID")
	}

	got, err := repo.GetByID(ctx, target.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "primary-postgres" {
		t.Fatalf("expected name primary-postgres, got %s", got.Name)
	}

	got.IsActive = false
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := repo.Delete(ctx, target.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := repo.GetByID(ctx, target.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestTargetDeleteCascadesSchedulesAndRuns(t *testing.T) {
	gdb := newTestDB(t)
	targetRepo := repository.NewTargetRepository(gdb)
	scheduleRepo := repository.NewScheduleRepository(gdb)
	runRepo := repository.NewRunRepository(gdb)
	ctx := context.Background()

	target := &db.Target{Name: "to-delete", DBType: "sqlite", Config: "{}"}
	if err := targetRepo.Create(ctx, target); err != nil {
		t.Fatalf("create target: %v", err)
	}

	schedule := &db.Schedule{Name: "nightly", TargetID: target.ID, IntervalSeconds: 86400, Retention: "{}"}
	if err := scheduleRepo.Create(ctx, schedule); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	run := &db.Run{ScheduleID: &schedule.ID, Operation: "backup", StartedAt: time.Now().UTC()}
	if err := runRepo.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := targetRepo.Delete(ctx, target.ID); err != nil {
		t.Fatalf("delete target: %v", err)
	}

	if _, err := scheduleRepo.GetByID(ctx, schedule.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected schedule to be deleted, got %v", err)
	}
	if _, err := runRepo.GetByID(ctx, run.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected run to be deleted, got %v", err)
	}
}

func TestScheduleDestinationsRoundTrip(t *testing.T) {
	gdb := newTestDB(t)
	targetRepo := repository.NewTargetRepository(gdb)
	destRepo := repository.NewDestinationRepository(gdb)
	scheduleRepo := repository.NewScheduleRepository(gdb)
	ctx := context.Background()

	target := &db.Target{Name: "t1", DBType: "sqlite", Config: "{}"}
	if err := targetRepo.Create(ctx, target); err != nil {
		t.Fatalf("create target: %v", err)
	}
	dest1 := &db.Destination{Name: "dest1", DestinationType: "local", Config: "{}"}
	dest2 := &db.Destination{Name: "dest2", DestinationType: "local", Config: "{}"}
	if err := destRepo.Create(ctx, dest1); err != nil {
		t.Fatalf("create dest1: %v", err)
	}
	if err := destRepo.Create(ctx, dest2); err != nil {
		t.Fatalf("create dest2: %v", err)
	}

	schedule := &db.Schedule{Name: "s1", TargetID: target.ID, IntervalSeconds: 3600, Retention: "{}"}
	if err := scheduleRepo.Create(ctx, schedule); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	if err := scheduleRepo.SetDestinations(ctx, schedule.ID, []uuid.UUID{dest1.ID, dest2.ID}); err != nil {
		t.Fatalf("SetDestinations: %v", err)
	}

	loaded, err := scheduleRepo.GetByIDWithDestinations(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("GetByIDWithDestinations: %v", err)
	}
	if len(loaded.Destinations) != 2 {
		t.Fatalf("expected 2 destinations, got %d", len(loaded.Destinations))
	}
}

func TestDestinationDeleteRejectsLocalAndReferenced(t *testing.T) {
	gdb := newTestDB(t)
	targetRepo := repository.NewTargetRepository(gdb)
	destRepo := repository.NewDestinationRepository(gdb)
	scheduleRepo := repository.NewScheduleRepository(gdb)
	ctx := context.Background()

	local := &db.Destination{Name: "local", DestinationType: "local", Config: "{}"}
	if err := destRepo.Create(ctx, local); err != nil {
		t.Fatalf("create local: %v", err)
	}
	if err := destRepo.Delete(ctx, local.ID); err == nil {
		t.Fatal("expected error deleting built-in local destination")
	}

	target := &db.Target{Name: "t2", DBType: "sqlite", Config: "{}"}
	if err := targetRepo.Create(ctx, target); err != nil {
		t.Fatalf("create target: %v", err)
	}
	other := &db.Destination{Name: "sftp1", DestinationType: "sftp", Config: "{}"}
	if err := destRepo.Create(ctx, other); err != nil {
		t.Fatalf("create other: %v", err)
	}
	schedule := &db.Schedule{Name: "s2", TargetID: target.ID, IntervalSeconds: 3600, Retention: "{}"}
	if err := scheduleRepo.Create(ctx, schedule); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if err := scheduleRepo.AddDestination(ctx, schedule.ID, other.ID); err != nil {
		t.Fatalf("AddDestination: %v", err)
	}

	if err := destRepo.Delete(ctx, other.ID); err == nil {
		t.Fatal("expected error deleting referenced destination")
	}
}

func TestScheduleListDue(t *testing.T) {
	gdb := newTestDB(t)
	targetRepo := repository.NewTargetRepository(gdb)
	scheduleRepo := repository.NewScheduleRepository(gdb)
	ctx := context.Background()

	target := &db.Target{Name: "t3", DBType: "sqlite", Config: "{}"}
	if err := targetRepo.Create(ctx, target); err != nil {
		t.Fatalf("create target: %v", err)
	}

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := &db.Schedule{Name: "due", TargetID: target.ID, Enabled: true, IntervalSeconds: 3600, NextRunAt: &past, Retention: "{}"}
	notDue := &db.Schedule{Name: "not-due", TargetID: target.ID, Enabled: true, IntervalSeconds: 3600, NextRunAt: &future, Retention: "{}"}
	disabled := &db.Schedule{Name: "disabled", TargetID: target.ID, Enabled: false, IntervalSeconds: 3600, NextRunAt: &past, Retention: "{}"}

	for _, s := range []*db.Schedule{due, notDue, disabled} {
		if err := scheduleRepo.Create(ctx, s); err != nil {
			t.Fatalf("create schedule %s: %v", s.Name, err)
		}
	}

	results, err := scheduleRepo.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(results) != 1 || results[0].Name != "due" {
		t.Fatalf("expected only the due+enabled schedule, got %+v", results)
	}
}

func TestSettingRoundTrip(t *testing.T) {
	if err := db.InitEncryption(make([]byte, 32)); err != nil {
		t.Fatalf("InitEncryption: %v", err)
	}
	gdb := newTestDB(t)
	repo := repository.NewSettingRepository(gdb)
	ctx := context.Background()

	if err := repo.Set(ctx, "smtp.host", "smtp.example.com"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := repo.Get(ctx, "smtp.host")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "smtp.example.com" {
		t.Fatalf("expected smtp.example.com, got %q", val)
	}

	if err := repo.Set(ctx, "smtp.port", "587"); err != nil {
		t.Fatalf("Set port: %v", err)
	}
	all, err := repo.ListByPrefix(ctx, "smtp.")
	if err != nil {
		t.Fatalf("ListByPrefix: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 smtp.* settings, got %d", len(all))
	}
}
