package restore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/apierr"
	"github.com/vaultkeep/backupd/internal/crypto"
	"github.com/vaultkeep/backupd/internal/oplock"
	"github.com/vaultkeep/backupd/internal/repository"
)

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

type fakeRunRepository struct {
	repository.RunRepository
	mu   sync.Mutex
	runs map[uuid.UUID]*repository.Run
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

// newTestPipeline wires a sqlite target whose restore target file lives
// under dir, plus a "local" destination rooted at backupsRoot containing a
// pre-seeded artifact at backupsRoot/pg-main/<name>, mirroring the layout
// internal/pipeline's upload step produces.
func newTestPipeline(t *testing.T, restoreTargetPath, backupsRoot string) (*Pipeline, *fakeRunRepository, *fakeAuditEventRepository, repository.Target, repository.Destination) {
	t.Helper()
	return newTestPipelineForDBType(t, "sqlite", `{"file_path":"`+restoreTargetPath+`"}`, backupsRoot)
}

// newTestPipelineForDBType is newTestPipeline generalized over db_type, for
// cases that need a non-sqlite target (e.g. a suffix-mismatch rejection,
// which sqlite's own suffix can't exercise since every artifact in these
// tests already ends in .db).
func newTestPipelineForDBType(t *testing.T, dbType, targetConfig, backupsRoot string) (*Pipeline, *fakeRunRepository, *fakeAuditEventRepository, repository.Target, repository.Destination) {
	t.Helper()

	target := repository.Target{
		Name:   "pg-main",
		DBType: dbType,
		Config: targetConfig,
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

	p := New(Config{TempDir: t.TempDir()}, targets, destinations, runs, audit, locks, nil, zap.NewNop())
	return p, runs, audit, target, dest
}

func seedArtifact(t *testing.T, backupsRoot, relPath string, content []byte) {
	t.Helper()
	full := filepath.Join(backupsRoot, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir artifact dir: %v", err)
	}
	if err := os.WriteFile(full, content, 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func TestExecuteRestoreSucceeds(t *testing.T) {
	dir := t.TempDir()
	backupsRoot := filepath.Join(dir, "backups")
	artifactRel := "pg-main/sched-" + uuid.Must(uuid.NewV7()).String() + "-backup_sqlite_20260110_040000.db"
	seedArtifact(t, backupsRoot, artifactRel, []byte("SQLite format 3\x00restored contents"))

	restoreTargetPath := filepath.Join(dir, "target.db")
	p, runs, audit, target, dest := newTestPipeline(t, restoreTargetPath, backupsRoot)

	run, warnings, err := p.Execute(context.Background(), Request{
		TargetID:      target.ID,
		DestinationID: dest.ID,
		BackupID:      artifactRel,
		Confirmation:  RequiredConfirmation,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if run.Status != "success" {
		t.Fatalf("expected success, got %s (%s)", run.Status, run.ErrorMessage)
	}

	restored, err := os.ReadFile(restoreTargetPath)
	if err != nil {
		t.Fatalf("read restored target: %v", err)
	}
	if string(restored) != "SQLite format 3\x00restored contents" {
		t.Fatalf("unexpected restored content: %q", restored)
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
		if e.Operation == "restore" && e.Status == "success" {
			found = true
		}
	}
	audit.mu.Unlock()
	if !found {
		t.Fatal("expected a successful restore audit event")
	}
}

func TestExecuteRestoreRejectsWrongConfirmation(t *testing.T) {
	dir := t.TempDir()
	backupsRoot := filepath.Join(dir, "backups")
	restoreTargetPath := filepath.Join(dir, "target.db")
	p, _, _, target, dest := newTestPipeline(t, restoreTargetPath, backupsRoot)

	_, _, err := p.Execute(context.Background(), Request{
		TargetID:      target.ID,
		DestinationID: dest.ID,
		BackupID:      "pg-main/whatever.db",
		Confirmation:  "please",
	})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestExecuteRestoreEncryptedRequiresPassword(t *testing.T) {
	dir := t.TempDir()
	backupsRoot := filepath.Join(dir, "backups")

	plain := filepath.Join(dir, "plain.db")
	if err := os.WriteFile(plain, []byte("SQLite format 3\x00secret rows"), 0o600); err != nil {
		t.Fatalf("write plain artifact: %v", err)
	}
	enc := filepath.Join(dir, "enc.db.enc")
	encOut, err := os.Create(enc)
	if err != nil {
		t.Fatalf("create enc file: %v", err)
	}
	src, err := os.Open(plain)
	if err != nil {
		t.Fatalf("open plain: %v", err)
	}
	if err := crypto.EncryptFile(encOut, src, "correct-password", crypto.DefaultIterations); err != nil {
		t.Fatalf("EncryptFile: %v", err)
	}
	src.Close()
	encOut.Close()

	artifactRel := "pg-main/sched-" + uuid.Must(uuid.NewV7()).String() + "-backup_sqlite_20260110_040000.db.enc"
	encBytes, err := os.ReadFile(enc)
	if err != nil {
		t.Fatalf("read enc bytes: %v", err)
	}
	seedArtifact(t, backupsRoot, artifactRel, encBytes)

	restoreTargetPath := filepath.Join(dir, "target.db")
	p, _, _, target, dest := newTestPipeline(t, restoreTargetPath, backupsRoot)

	_, _, err = p.Execute(context.Background(), Request{
		TargetID:      target.ID,
		DestinationID: dest.ID,
		BackupID:      artifactRel,
		Confirmation:  RequiredConfirmation,
	})
	if !errors.Is(err, apierr.ErrCrypto) {
		t.Fatalf("expected ErrCrypto for missing password, got %v", err)
	}

	run, _, err := p.Execute(context.Background(), Request{
		TargetID:           target.ID,
		DestinationID:      dest.ID,
		BackupID:           artifactRel,
		EncryptionPassword: "wrong-password",
		Confirmation:       RequiredConfirmation,
	})
	if !errors.Is(err, apierr.ErrCrypto) {
		t.Fatalf("expected ErrCrypto for wrong password, got %v", err)
	}
	if run.Status != "failed" {
		t.Fatalf("expected failed run, got %s", run.Status)
	}

	run, _, err = p.Execute(context.Background(), Request{
		TargetID:           target.ID,
		DestinationID:      dest.ID,
		BackupID:           artifactRel,
		EncryptionPassword: "correct-password",
		Confirmation:       RequiredConfirmation,
	})
	if err != nil {
		t.Fatalf("Execute with correct password: %v", err)
	}
	if run.Status != "success" {
		t.Fatalf("expected success, got %s (%s)", run.Status, run.ErrorMessage)
	}
}

func TestExecuteRestoreRejectsIncompatibleArtifact(t *testing.T) {
	dir := t.TempDir()
	backupsRoot := filepath.Join(dir, "backups")
	// A Cypher-flavored artifact with a .db suffix and no SQLite magic —
	// must be rejected before the adapter is ever invoked.
	artifactRel := "pg-main/sched-" + uuid.Must(uuid.NewV7()).String() + "-backup_sqlite_20260110_040000.db"
	seedArtifact(t, backupsRoot, artifactRel, []byte("MATCH (n) DETACH DELETE n"))

	restoreTargetPath := filepath.Join(dir, "target.db")
	p, runs, _, target, dest := newTestPipeline(t, restoreTargetPath, backupsRoot)

	run, _, err := p.Execute(context.Background(), Request{
		TargetID:      target.ID,
		DestinationID: dest.ID,
		BackupID:      artifactRel,
		Confirmation:  RequiredConfirmation,
	})
	if !errors.Is(err, apierr.ErrCompatibilityReject) {
		t.Fatalf("expected ErrCompatibilityReject, got %v", err)
	}
	if run.Status != "failed" {
		t.Fatalf("expected failed run, got %s", run.Status)
	}

	if _, err := os.Stat(restoreTargetPath); err == nil {
		t.Fatal("expected restore target to be untouched after a compatibility rejection")
	}

	runs.mu.Lock()
	stored := runs.runs[run.ID]
	runs.mu.Unlock()
	if stored.Status != "failed" {
		t.Fatalf("run repository not updated to failed: %s", stored.Status)
	}
}

func TestExecuteRestoreRejectsWrongSuffixWithAuditEvent(t *testing.T) {
	dir := t.TempDir()
	backupsRoot := filepath.Join(dir, "backups")
	// A .cypher.gz artifact offered against a postgresql target — rejected
	// purely on filename suffix, never downloaded, never opened. Spec §4.6
	// scenario 4 requires this to still produce an audit event.
	artifactRel := "pg-main/sched-" + uuid.Must(uuid.NewV7()).String() + "-backup_neo4j_20260110_040000.cypher.gz"
	seedArtifact(t, backupsRoot, artifactRel, []byte("MATCH (n) DETACH DELETE n"))

	p, runs, audit, target, dest := newTestPipelineForDBType(t, "postgresql", `{"host":"localhost","port":5432,"database":"app"}`, backupsRoot)

	run, _, err := p.Execute(context.Background(), Request{
		TargetID:      target.ID,
		DestinationID: dest.ID,
		BackupID:      artifactRel,
		Confirmation:  RequiredConfirmation,
	})
	if !errors.Is(err, apierr.ErrCompatibilityReject) {
		t.Fatalf("expected ErrCompatibilityReject, got %v", err)
	}
	if run == nil {
		t.Fatal("expected a run record even on a suffix-mismatch rejection")
	}
	if run.Status != "failed" {
		t.Fatalf("expected failed run, got %s", run.Status)
	}

	runs.mu.Lock()
	storedRun, runFound := runs.runs[run.ID]
	runs.mu.Unlock()
	if !runFound || storedRun.Status != "failed" {
		t.Fatal("expected run repository to record the failed run")
	}

	audit.mu.Lock()
	found := false
	for _, e := range audit.events {
		if e.Operation == "restore" && e.TargetID != nil && *e.TargetID == target.ID && e.Status == "failed" {
			found = true
		}
	}
	audit.mu.Unlock()
	if !found {
		t.Fatal("expected an audit event for the suffix-mismatch compatibility rejection")
	}
}

func TestExecuteRestoreRejectsConcurrentBackup(t *testing.T) {
	dir := t.TempDir()
	backupsRoot := filepath.Join(dir, "backups")
	artifactRel := "pg-main/sched-" + uuid.Must(uuid.NewV7()).String() + "-backup_sqlite_20260110_040000.db"
	seedArtifact(t, backupsRoot, artifactRel, []byte("SQLite format 3\x00restored contents"))

	restoreTargetPath := filepath.Join(dir, "target.db")
	p, _, _, target, dest := newTestPipeline(t, restoreTargetPath, backupsRoot)

	release, err := p.locks.Acquire(oplock.FamilyForDBType("sqlite"), oplock.OpBackup)
	if err != nil {
		t.Fatalf("acquire backup lock: %v", err)
	}
	defer release()

	_, _, err = p.Execute(context.Background(), Request{
		TargetID:      target.ID,
		DestinationID: dest.ID,
		BackupID:      artifactRel,
		Confirmation:  RequiredConfirmation,
	})
	if !errors.Is(err, apierr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
