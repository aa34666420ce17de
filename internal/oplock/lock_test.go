package oplock

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/apierr"
)

func newTestManager() *Manager {
	return New(zap.NewNop())
}

func TestAcquireRelease(t *testing.T) {
	m := newTestManager()

	release, err := m.Acquire(FamilySQL, OpBackup)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	op, _, held := m.Status(FamilySQL)
	if !held || op != OpBackup {
		t.Fatalf("expected held=true op=backup, got held=%v op=%v", held, op)
	}

	release()

	if _, _, held := m.Status(FamilySQL); held {
		t.Fatal("expected lock released")
	}
}

func TestAcquireConflict(t *testing.T) {
	m := newTestManager()

	release, err := m.Acquire(FamilySQL, OpBackup)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	_, err = m.Acquire(FamilySQL, OpRestore)
	if !errors.Is(err, apierr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAcquireIndependentFamilies(t *testing.T) {
	m := newTestManager()

	releaseSQL, err := m.Acquire(FamilySQL, OpBackup)
	if err != nil {
		t.Fatalf("Acquire sql: %v", err)
	}
	defer releaseSQL()

	releaseGraph, err := m.Acquire(FamilyGraph, OpRestore)
	if err != nil {
		t.Fatalf("expected independent family to acquire cleanly, got %v", err)
	}
	defer releaseGraph()
}

func TestStaleLockReclaimed(t *testing.T) {
	m := newTestManager()
	fixedNow := time.Now().UTC()
	m.nowFunc = func() time.Time { return fixedNow }

	if _, err := m.Acquire(FamilySQL, OpBackup); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Advance time past the TTL; a stale record must be reclaimable instead
	// of rejected as a conflict.
	m.nowFunc = func() time.Time { return fixedNow.Add(TTL + time.Minute) }

	release, err := m.Acquire(FamilySQL, OpRestore)
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got %v", err)
	}
	defer release()

	op, _, held := m.Status(FamilySQL)
	if !held || op != OpRestore {
		t.Fatalf("expected reclaimed lock held by restore, got held=%v op=%v", held, op)
	}
}

func TestStatusOfUnheldFamily(t *testing.T) {
	m := newTestManager()
	if _, _, held := m.Status(FamilyGraph); held {
		t.Fatal("expected unheld family to report held=false")
	}
}

func TestAnyHeld(t *testing.T) {
	m := newTestManager()

	if _, held := m.AnyHeld(OpRestore); held {
		t.Fatal("expected no restore held initially")
	}

	release, err := m.Acquire(FamilyGraph, OpRestore)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	family, held := m.AnyHeld(OpRestore)
	if !held || family != FamilyGraph {
		t.Fatalf("expected restore held on graph family, got held=%v family=%v", held, family)
	}

	if _, held := m.AnyHeld(OpBackup); held {
		t.Fatal("expected no backup held")
	}
}

func TestDoubleReleaseIsSafe(t *testing.T) {
	m := newTestManager()
	release, err := m.Acquire(FamilySQL, OpBackup)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	release()

	if _, _, held := m.Status(FamilySQL); held {
		t.Fatal("expected lock released after double release")
	}
}
