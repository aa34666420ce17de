package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/vaultkeep/backupd/internal/retention"
)

// maxAncestorHops bounds the parent-chain walk used to verify a file is
// actually reachable from RootFolderID before it is deleted (§4.5).
const maxAncestorHops = 50

// DriveConfig holds the connection parameters for a Google Drive
// destination: a service-account credential (JSON key material) and the
// folder id that roots this destination.
type DriveConfig struct {
	ServiceAccountJSON []byte
	RootFolderID       string
}

// DriveProvider stores artifacts in a two-level layout under RootFolderID:
// a target-scoped subfolder created on demand, with files placed inside it.
type DriveProvider struct {
	Config DriveConfig

	// newService is overridable in tests to avoid a real Drive API client.
	newService func(ctx context.Context) (*drive.Service, error)
}

var _ Provider = (*DriveProvider)(nil)

func (p *DriveProvider) service(ctx context.Context) (*drive.Service, error) {
	if p.newService != nil {
		return p.newService(ctx)
	}
	creds, err := google.CredentialsFromJSON(ctx, p.Config.ServiceAccountJSON, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("storage(drive): parse service account: %w", err)
	}
	return drive.NewService(ctx, option.WithCredentials(creds))
}

// ValidateBackupID requires a "subfolder/filename" shape; the ancestor walk
// that confirms it actually descends from RootFolderID happens at
// operation time since it requires an API call.
func (p *DriveProvider) ValidateBackupID(backupID string) error {
	if backupID == "" || strings.Count(backupID, "/") != 1 {
		return fmt.Errorf("%w: expected \"subfolder/filename\", got %q", ErrInvalidBackupID, backupID)
	}
	return nil
}

// findOrCreateSubfolder returns the file id of the named child folder of
// RootFolderID, creating it if absent.
func (p *DriveProvider) findOrCreateSubfolder(svc *drive.Service, name string) (string, error) {
	query := fmt.Sprintf("name = %q and '%s' in parents and mimeType = 'application/vnd.google-apps.folder' and trashed = false",
		name, p.Config.RootFolderID)
	list, err := svc.Files.List().Q(query).Fields("files(id, name)").Do()
	if err != nil {
		return "", fmt.Errorf("storage(drive): list subfolder %q: %w", name, err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	created, err := svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
		Parents:  []string{p.Config.RootFolderID},
	}).Fields("id").Do()
	if err != nil {
		return "", fmt.Errorf("storage(drive): create subfolder %q: %w", name, err)
	}
	return created.Id, nil
}

// reachesRoot walks up to maxAncestorHops parents from fileID and reports
// whether RootFolderID is among them.
func (p *DriveProvider) reachesRoot(svc *drive.Service, fileID string) (bool, error) {
	current := fileID
	for hop := 0; hop < maxAncestorHops; hop++ {
		f, err := svc.Files.Get(current).Fields("id, parents").Do()
		if err != nil {
			return false, fmt.Errorf("storage(drive): get %q: %w", current, err)
		}
		for _, parent := range f.Parents {
			if parent == p.Config.RootFolderID {
				return true, nil
			}
		}
		if len(f.Parents) == 0 {
			return false, nil
		}
		current = f.Parents[0]
	}
	return false, nil
}

func (p *DriveProvider) ListBackups(ctx context.Context, prefix string) ([]retention.StoredBackup, error) {
	svc, err := p.service(ctx)
	if err != nil {
		return nil, err
	}

	subfolder, rest, found := strings.Cut(prefix, "/")
	if !found {
		subfolder = prefix
	}
	folderID, err := p.findOrCreateSubfolder(svc, subfolder)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	list, err := svc.Files.List().Q(query).Fields("files(id, name, createdTime, size)").OrderBy("createdTime desc").Do()
	if err != nil {
		return nil, fmt.Errorf("storage(drive): list %q: %w", prefix, err)
	}

	out := make([]retention.StoredBackup, 0, len(list.Files))
	for _, f := range list.Files {
		if !strings.HasPrefix(f.Name, rest) {
			continue
		}
		created, _ := time.Parse(time.RFC3339, f.CreatedTime)
		size := f.Size
		out = append(out, retention.StoredBackup{
			ID:        path.Join(subfolder, f.Name),
			Name:      f.Name,
			CreatedAt: created.UTC(),
			Size:      &size,
		})
	}
	return out, nil
}

func (p *DriveProvider) UploadBackup(ctx context.Context, localPath, destName string) (retention.StoredBackup, error) {
	if err := p.ValidateBackupID(destName); err != nil {
		return retention.StoredBackup{}, err
	}
	svc, err := p.service(ctx)
	if err != nil {
		return retention.StoredBackup{}, err
	}

	subfolder, filename, _ := strings.Cut(destName, "/")
	folderID, err := p.findOrCreateSubfolder(svc, subfolder)
	if err != nil {
		return retention.StoredBackup{}, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return retention.StoredBackup{}, fmt.Errorf("storage(drive): open local: %w", err)
	}
	defer f.Close()

	created, err := svc.Files.Create(&drive.File{
		Name:    filename,
		Parents: []string{folderID},
	}).Media(f).Fields("id, name, createdTime, size").Do()
	if err != nil {
		return retention.StoredBackup{}, fmt.Errorf("storage(drive): upload: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339, created.CreatedTime)
	return retention.StoredBackup{
		ID:        destName,
		Name:      filename,
		CreatedAt: createdAt.UTC(),
		Size:      &created.Size,
	}, nil
}

func (p *DriveProvider) resolveFileID(svc *drive.Service, backupID string) (string, error) {
	subfolder, filename, _ := strings.Cut(backupID, "/")
	folderID, err := p.findOrCreateSubfolder(svc, subfolder)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf("name = %q and '%s' in parents and trashed = false", filename, folderID)
	list, err := svc.Files.List().Q(query).Fields("files(id)").Do()
	if err != nil {
		return "", fmt.Errorf("storage(drive): resolve %q: %w", backupID, err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("storage(drive): %q not found", backupID)
	}
	return list.Files[0].Id, nil
}

func (p *DriveProvider) DownloadBackup(ctx context.Context, backupID, destPath string) (string, error) {
	if err := p.ValidateBackupID(backupID); err != nil {
		return "", err
	}
	svc, err := p.service(ctx)
	if err != nil {
		return "", err
	}

	fileID, err := p.resolveFileID(svc, backupID)
	if err != nil {
		return "", err
	}
	reachable, err := p.reachesRoot(svc, fileID)
	if err != nil {
		return "", err
	}
	if !reachable {
		return "", fmt.Errorf("%w: %q does not descend from the configured root folder", ErrInvalidBackupID, backupID)
	}

	resp, err := svc.Files.Get(fileID).Download()
	if err != nil {
		return "", fmt.Errorf("storage(drive): download %q: %w", backupID, err)
	}
	defer resp.Body.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("storage(drive): create local dest: %w", err)
	}
	defer out.Close()

	if _, err := out.ReadFrom(resp.Body); err != nil {
		return "", fmt.Errorf("storage(drive): copy: %w", err)
	}
	return destPath, nil
}

func (p *DriveProvider) DeleteBackups(ctx context.Context, backups []retention.StoredBackup) error {
	svc, err := p.service(ctx)
	if err != nil {
		return err
	}
	for _, b := range backups {
		if err := p.ValidateBackupID(b.ID); err != nil {
			return err
		}
		fileID, err := p.resolveFileID(svc, b.ID)
		if err != nil {
			return err
		}
		reachable, err := p.reachesRoot(svc, fileID)
		if err != nil {
			return err
		}
		if !reachable {
			return fmt.Errorf("%w: %q does not descend from the configured root folder", ErrInvalidBackupID, b.ID)
		}
		if err := svc.Files.Delete(fileID).Do(); err != nil {
			return fmt.Errorf("storage(drive): delete %q: %w", b.ID, err)
		}
	}
	return nil
}
