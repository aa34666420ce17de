package retention

import (
	"fmt"
	"testing"
	"time"
)

func makeBackups(n int, interval time.Duration) []StoredBackup {
	now := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	backups := make([]StoredBackup, n)
	for i := 0; i < n; i++ {
		backups[i] = StoredBackup{
			ID:        fmt.Sprintf("b%02d", i),
			Name:      fmt.Sprintf("backup-%02d", i),
			CreatedAt: now.Add(-time.Duration(i) * interval),
		}
	}
	return backups
}

func assertDisjointAndCovers(t *testing.T, input, keep, del []StoredBackup) {
	t.Helper()
	if len(keep)+len(del) != len(input) {
		t.Fatalf("keep(%d)+delete(%d) != input(%d)", len(keep), len(del), len(input))
	}
	seen := make(map[string]bool, len(input))
	for _, b := range keep {
		if seen[b.ID] {
			t.Fatalf("duplicate id %s across keep/delete", b.ID)
		}
		seen[b.ID] = true
	}
	for _, b := range del {
		if seen[b.ID] {
			t.Fatalf("id %s present in both keep and delete", b.ID)
		}
		seen[b.ID] = true
	}
}

func TestPlanLastNKeepsNewestK(t *testing.T) {
	backups := makeBackups(10, 24*time.Hour)
	keep, del := Plan(backups, Policy{Mode: ModeLastN, KeepLast: 3})
	assertDisjointAndCovers(t, backups, keep, del)

	if len(keep) != 3 {
		t.Fatalf("expected |keep| = 3, got %d", len(keep))
	}
	for i, b := range keep {
		if b.ID != fmt.Sprintf("b%02d", i) {
			t.Fatalf("expected keep[%d] to be the %d-th newest, got %s", i, i, b.ID)
		}
	}
}

func TestPlanEmptyInputReturnsEmptyPartitions(t *testing.T) {
	keep, del := Plan(nil, Policy{Mode: ModeLastN, KeepLast: 5})
	if len(keep) != 0 || len(del) != 0 {
		t.Fatalf("expected empty partitions on empty input, got keep=%d delete=%d", len(keep), len(del))
	}
}

func TestPlanMaxAgeDaysPreservesKeepLast(t *testing.T) {
	backups := makeBackups(40, 24*time.Hour) // spans ~40 days
	keep, del := Plan(backups, Policy{Mode: ModeMaxAgeDays, MaxAgeDays: 7, KeepLast: 2})
	assertDisjointAndCovers(t, backups, keep, del)

	for _, b := range keep[:2] {
		found := false
		for _, nb := range backups[:2] {
			if nb.ID == b.ID {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected the newest 2 backups to always be kept by keep_last clamp")
		}
	}
}

func TestPlanSmartModeCoversAllThirtyDailyArtifacts(t *testing.T) {
	// Scenario 5: 30 daily artifacts, smart/medium, keep_last=1.
	backups := makeBackups(30, 24*time.Hour)
	keep, del := Plan(backups, Policy{
		Mode:     ModeSmart,
		KeepLast: 1,
		Smart:    Smart{Profile: ProfileMedium},
	})
	assertDisjointAndCovers(t, backups, keep, del)

	if len(keep) == 0 {
		t.Fatalf("expected smart mode to keep at least the newest artifact")
	}
	// Newest artifact must always be in keep (keep_last=1).
	foundNewest := false
	for _, b := range keep {
		if b.ID == backups[0].ID {
			foundNewest = true
		}
	}
	if !foundNewest {
		t.Fatalf("expected newest artifact to be kept")
	}
}

func TestPlanMaxSizeAdmitsNewestFirstUnderBudget(t *testing.T) {
	backups := makeBackups(5, 24*time.Hour)
	sizeEach := int64(100)
	for i := range backups {
		s := sizeEach
		backups[i].Size = &s
	}
	keep, del := Plan(backups, Policy{Mode: ModeMaxSize, MaxSizeBytes: 250, KeepLast: 0})
	assertDisjointAndCovers(t, backups, keep, del)
	if len(keep) != 2 {
		t.Fatalf("expected to admit 2 artifacts (200 bytes <= 250 budget), got %d", len(keep))
	}
}

func TestPlanMaxBackupsClampDemotesOldest(t *testing.T) {
	backups := makeBackups(10, 24*time.Hour)
	keep, del := Plan(backups, Policy{Mode: ModeLastN, KeepLast: 8, MaxBackups: 3})
	assertDisjointAndCovers(t, backups, keep, del)
	if len(keep) != 3 {
		t.Fatalf("expected max_backups clamp to demote down to 3, got %d", len(keep))
	}
}

func TestPlanMinBackupsClampPromotesNewest(t *testing.T) {
	backups := makeBackups(10, 24*time.Hour)
	keep, del := Plan(backups, Policy{Mode: ModeLastN, KeepLast: 1, MinBackups: 4})
	assertDisjointAndCovers(t, backups, keep, del)
	if len(keep) != 4 {
		t.Fatalf("expected min_backups clamp to promote up to 4, got %d", len(keep))
	}
}
