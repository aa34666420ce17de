package pipeline

import (
	"testing"

	"github.com/google/uuid"
)

func TestSanitizeTargetName(t *testing.T) {
	cases := map[string]string{
		"pg-main":         "pg-main",
		"PG Main!!":       "pg_main",
		"__leading":       "leading",
		"trailing__":      "trailing",
		"a   b---c":       "a_b---c",
		"already_clean_1": "already_clean_1",
	}
	for in, want := range cases {
		if got := sanitizeTargetName(in); got != want {
			t.Errorf("sanitizeTargetName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestComposeFilenameScheduled(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	got := composeFilename("backup_postgresql_20260110_040000.sql.gz", "scheduled", &id, "pg-main")
	want := "sched-" + id.String() + "-backup_postgresql_20260110_040000.sql.gz"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestComposeFilenameManual(t *testing.T) {
	got := composeFilename("backup_sqlite_20260110_040000.db.gz", "manual", nil, "pg-main")
	want := "manual-pg-main-backup_sqlite_20260110_040000.db.gz"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRetentionPrefix(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	got := retentionPrefix("pg-main", id)
	want := "pg-main/sched-" + id.String() + "-"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
