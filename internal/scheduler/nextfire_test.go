package scheduler

import (
	"testing"
	"time"

	"github.com/vaultkeep/backupd/internal/retention"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}

func TestNextFireDailyScenario(t *testing.T) {
	// Scenario 1 from spec: create at 2026-01-10T04:00Z with run_at_time
	// 03:30 daily; expect first next_run_at = 2026-01-11T03:30:00Z.
	created := mustParse(t, "2026-01-10T04:00:00Z")
	policy := retention.Policy{RunAtTime: "03:30"}

	got := InitialFire(86400, policy, created)
	want := mustParse(t, "2026-01-11T03:30:00Z")
	if !got.Equal(want) {
		t.Fatalf("InitialFire: got %s, want %s", got, want)
	}
}

func TestNextFireDailyAdvancesWhenEqual(t *testing.T) {
	// Invariant from property 6: next_fire at the anchor instant itself
	// advances to the following day's anchor, strictly greater.
	reference := mustParse(t, "2026-01-11T03:30:00Z")
	policy := retention.Policy{RunAtTime: "03:30"}

	got := NextFire(86400, policy, reference)
	want := mustParse(t, "2026-01-12T03:30:00Z")
	if !got.Equal(want) {
		t.Fatalf("NextFire: got %s, want %s", got, want)
	}
	if !got.After(reference) {
		t.Fatal("expected next fire strictly after reference")
	}
}

func TestNextFireDailyBeforeAnchorSameDay(t *testing.T) {
	reference := mustParse(t, "2026-01-11T01:00:00Z")
	policy := retention.Policy{RunAtTime: "03:30"}

	got := NextFire(86400, policy, reference)
	want := mustParse(t, "2026-01-11T03:30:00Z")
	if !got.Equal(want) {
		t.Fatalf("NextFire: got %s, want %s", got, want)
	}
}

func TestNextFireHourlyAnchoredWalk(t *testing.T) {
	reference := mustParse(t, "2026-01-11T05:10:00Z")
	policy := retention.Policy{RunAtTime: "00:00"}

	got := NextFire(3600, policy, reference)
	want := mustParse(t, "2026-01-11T06:00:00Z")
	if !got.Equal(want) {
		t.Fatalf("NextFire: got %s, want %s", got, want)
	}
}

func TestNextFireSimpleDrift(t *testing.T) {
	reference := mustParse(t, "2026-01-11T05:10:00Z")
	policy := retention.Policy{}

	got := NextFire(1800, policy, reference)
	want := reference.Add(30 * time.Minute)
	if !got.Equal(want) {
		t.Fatalf("NextFire: got %s, want %s", got, want)
	}
}

func TestInitialFireUnanchoredFiresNow(t *testing.T) {
	now := mustParse(t, "2026-01-11T05:10:00Z")
	policy := retention.Policy{}

	got := InitialFire(1800, policy, now)
	if !got.Equal(now) {
		t.Fatalf("InitialFire: got %s, want %s", got, now)
	}
}
