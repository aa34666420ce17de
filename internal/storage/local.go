package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vaultkeep/backupd/internal/retention"
)

// LocalProvider stores artifacts under a single root directory on the same
// filesystem the engine runs on. This is the built-in "local" destination
// that always exists and cannot be deleted (see internal/repository).
type LocalProvider struct {
	// BasePath is the root directory; e.g. "/app/backups".
	BasePath string
}

var _ Provider = (*LocalProvider)(nil)

// ValidateBackupID requires a relative POSIX path with no ".." segment and
// no leading slash.
func (p *LocalProvider) ValidateBackupID(backupID string) error {
	if backupID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidBackupID)
	}
	if path.IsAbs(backupID) {
		return fmt.Errorf("%w: must be relative", ErrInvalidBackupID)
	}
	for _, segment := range strings.Split(backupID, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: must not contain \"..\"", ErrInvalidBackupID)
		}
	}
	return nil
}

func (p *LocalProvider) resolve(backupID string) (string, error) {
	if err := p.ValidateBackupID(backupID); err != nil {
		return "", err
	}
	return filepath.Join(p.BasePath, filepath.FromSlash(backupID)), nil
}

// ListBackups walks the directory part of prefix under BasePath and returns
// every regular file whose relative path begins with prefix, sorted
// newest-first by modification time.
func (p *LocalProvider) ListBackups(ctx context.Context, prefix string) ([]retention.StoredBackup, error) {
	root := p.BasePath
	if prefix != "" {
		var err error
		// prefix may be a bare filename-prefix rather than a directory (e.g.
		// "pg_main/sched-<id>-"), so the walk starts at its directory part and
		// the string-prefix filter below does the rest. An invalid prefix
		// falls back to scanning BasePath.
		root, err = p.resolve(path.Dir(prefix))
		if err != nil {
			root = p.BasePath
		}
	}

	var out []retention.StoredBackup
	err := filepath.WalkDir(root, func(walkPath string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.BasePath, walkPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size := info.Size()
		out = append(out, retention.StoredBackup{
			ID:        rel,
			Name:      path.Base(rel),
			CreatedAt: info.ModTime().UTC(),
			Size:      &size,
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("storage(local): list %q: %w", prefix, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UploadBackup copies localPath into BasePath/destName, creating at most one
// intermediate directory (destName may contain exactly one "/" segment).
func (p *LocalProvider) UploadBackup(ctx context.Context, localPath, destName string) (retention.StoredBackup, error) {
	if strings.Count(destName, "/") > 1 {
		return retention.StoredBackup{}, fmt.Errorf("storage(local): dest name %q must contain at most one subdirectory segment", destName)
	}

	dest, err := p.resolve(destName)
	if err != nil {
		return retention.StoredBackup{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return retention.StoredBackup{}, fmt.Errorf("storage(local): mkdir: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return retention.StoredBackup{}, fmt.Errorf("storage(local): open source: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return retention.StoredBackup{}, fmt.Errorf("storage(local): create dest: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, src)
	if err != nil {
		return retention.StoredBackup{}, fmt.Errorf("storage(local): copy: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		return retention.StoredBackup{}, fmt.Errorf("storage(local): stat: %w", err)
	}

	return retention.StoredBackup{
		ID:        filepath.ToSlash(destName),
		Name:      path.Base(destName),
		CreatedAt: info.ModTime().UTC(),
		Size:      &n,
	}, nil
}

// DownloadBackup copies the artifact identified by backupID to destPath.
func (p *LocalProvider) DownloadBackup(ctx context.Context, backupID, destPath string) (string, error) {
	src, err := p.resolve(backupID)
	if err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("storage(local): open %q: %w", backupID, err)
	}
	defer in.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("storage(local): create dest: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("storage(local): copy: %w", err)
	}
	return destPath, nil
}

// DeleteBackups removes each artifact and prunes now-empty parent
// directories (but never BasePath itself).
func (p *LocalProvider) DeleteBackups(ctx context.Context, backups []retention.StoredBackup) error {
	for _, b := range backups {
		full, err := p.resolve(b.ID)
		if err != nil {
			return err
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("storage(local): delete %q: %w", b.ID, err)
		}
		p.pruneEmptyParents(filepath.Dir(full))
	}
	return nil
}

// pruneEmptyParents removes dir and its ancestors while they are empty,
// stopping at BasePath.
func (p *LocalProvider) pruneEmptyParents(dir string) {
	base := filepath.Clean(p.BasePath)
	for {
		dir = filepath.Clean(dir)
		if dir == base || !strings.HasPrefix(dir, base) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
