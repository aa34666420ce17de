package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalProviderValidateBackupID(t *testing.T) {
	p := &LocalProvider{BasePath: "/app/backups"}

	cases := []struct {
		id      string
		wantErr bool
	}{
		{"pg_main/sched-1-backup.sql.gz", false},
		{"../etc/passwd", true},
		{"/etc/passwd", true},
		{"a/../../b", true},
		{"", true},
	}
	for _, c := range cases {
		err := p.ValidateBackupID(c.id)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateBackupID(%q) error = %v, wantErr %v", c.id, err, c.wantErr)
		}
	}
}

func TestLocalProviderUploadListDeleteRoundTrip(t *testing.T) {
	base := t.TempDir()
	p := &LocalProvider{BasePath: base}
	ctx := context.Background()

	src := filepath.Join(base, "source.sql")
	if err := os.WriteFile(src, []byte("select 1;"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	stored, err := p.UploadBackup(ctx, src, "pg_main/sched-1-backup_postgresql_20260101_000000.sql")
	if err != nil {
		t.Fatalf("UploadBackup: %v", err)
	}
	if stored.ID != "pg_main/sched-1-backup_postgresql_20260101_000000.sql" {
		t.Fatalf("unexpected stored id %q", stored.ID)
	}

	list, err := p.ListBackups(ctx, "pg_main/")
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 listed backup, got %d", len(list))
	}

	downloadDest := filepath.Join(base, "downloaded.sql")
	if _, err := p.DownloadBackup(ctx, stored.ID, downloadDest); err != nil {
		t.Fatalf("DownloadBackup: %v", err)
	}
	content, err := os.ReadFile(downloadDest)
	if err != nil || string(content) != "select 1;" {
		t.Fatalf("downloaded content mismatch: %q, err %v", content, err)
	}

	if err := p.DeleteBackups(ctx, list); err != nil {
		t.Fatalf("DeleteBackups: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "pg_main")); !os.IsNotExist(err) {
		t.Fatalf("expected empty parent directory to be pruned after delete")
	}
}
