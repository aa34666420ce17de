package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/vaultkeep/backupd/internal/retention"
)

// SFTPConfig holds the connection parameters for an SFTP destination.
// Exactly one of Password or PrivateKey must be set (§3 Destination
// invariants).
type SFTPConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	PrivateKeyPEM  string
	PrivateKeyPass string
	BasePath       string
	ConnectTimeout time.Duration // default 10s per §5
}

// SFTPProvider uploads/lists/downloads/deletes over an SFTP connection,
// established fresh for each call — this engine runs schedules at minute
// granularity, not high-frequency, so there is no benefit to pooling a
// persistent connection and doing so would complicate reconnect-on-failure.
type SFTPProvider struct {
	Config SFTPConfig
}

var _ Provider = (*SFTPProvider)(nil)

func (p *SFTPProvider) dial() (*ssh.Client, *sftp.Client, error) {
	var authMethods []ssh.AuthMethod
	if p.Config.PrivateKeyPEM != "" {
		var signer ssh.Signer
		var err error
		if p.Config.PrivateKeyPass != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(p.Config.PrivateKeyPEM), []byte(p.Config.PrivateKeyPass))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(p.Config.PrivateKeyPEM))
		}
		if err != nil {
			return nil, nil, fmt.Errorf("storage(sftp): parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if p.Config.Password != "" {
		authMethods = append(authMethods, ssh.Password(p.Config.Password))
	}
	if len(authMethods) == 0 {
		return nil, nil, fmt.Errorf("storage(sftp): destination requires either password or private key material")
	}

	timeout := p.Config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sshCfg := &ssh.ClientConfig{
		User:            p.Config.User,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // host key pinning is an external-collaborator concern (deployment-time config)
		Timeout:         timeout,
	}

	addr := fmt.Sprintf("%s:%d", p.Config.Host, p.Config.Port)
	sshClient, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("storage(sftp): dial %s: %w", addr, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("storage(sftp): new client: %w", err)
	}
	return sshClient, sftpClient, nil
}

// ValidateBackupID requires BasePath as a path prefix — a delete/download
// request for a path outside BasePath is rejected before any remote call.
func (p *SFTPProvider) ValidateBackupID(backupID string) error {
	base := path.Clean(p.Config.BasePath)
	clean := path.Clean(backupID)
	if clean != base && !strings.HasPrefix(clean, base+"/") {
		return fmt.Errorf("%w: %q is outside base_path %q", ErrInvalidBackupID, backupID, p.Config.BasePath)
	}
	return nil
}

func (p *SFTPProvider) ListBackups(ctx context.Context, prefix string) ([]retention.StoredBackup, error) {
	sshClient, client, err := p.dial()
	if err != nil {
		return nil, err
	}
	defer sshClient.Close()
	defer client.Close()

	root := path.Join(p.Config.BasePath, prefix)
	var out []retention.StoredBackup
	walker := client.Walk(path.Dir(root))
	for walker.Step() {
		if walker.Err() != nil {
			continue
		}
		info := walker.Stat()
		if info.IsDir() {
			continue
		}
		full := walker.Path()
		if !strings.HasPrefix(full, root) {
			continue
		}
		size := info.Size()
		out = append(out, retention.StoredBackup{
			ID:        full,
			Name:      path.Base(full),
			CreatedAt: info.ModTime().UTC(),
			Size:      &size,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (p *SFTPProvider) UploadBackup(ctx context.Context, localPath, destName string) (retention.StoredBackup, error) {
	sshClient, client, err := p.dial()
	if err != nil {
		return retention.StoredBackup{}, err
	}
	defer sshClient.Close()
	defer client.Close()

	remote := path.Join(p.Config.BasePath, destName)
	if err := client.MkdirAll(path.Dir(remote)); err != nil {
		return retention.StoredBackup{}, fmt.Errorf("storage(sftp): mkdir: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return retention.StoredBackup{}, fmt.Errorf("storage(sftp): open local: %w", err)
	}
	defer src.Close()

	dst, err := client.Create(remote)
	if err != nil {
		return retention.StoredBackup{}, fmt.Errorf("storage(sftp): create remote: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return retention.StoredBackup{}, fmt.Errorf("storage(sftp): copy: %w", err)
	}

	return retention.StoredBackup{
		ID:        remote,
		Name:      path.Base(remote),
		CreatedAt: time.Now().UTC(),
		Size:      &n,
	}, nil
}

func (p *SFTPProvider) DownloadBackup(ctx context.Context, backupID, destPath string) (string, error) {
	if err := p.ValidateBackupID(backupID); err != nil {
		return "", err
	}
	sshClient, client, err := p.dial()
	if err != nil {
		return "", err
	}
	defer sshClient.Close()
	defer client.Close()

	src, err := client.Open(backupID)
	if err != nil {
		return "", fmt.Errorf("storage(sftp): open remote %q: %w", backupID, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("storage(sftp): create local dest: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("storage(sftp): copy: %w", err)
	}
	return destPath, nil
}

func (p *SFTPProvider) DeleteBackups(ctx context.Context, backups []retention.StoredBackup) error {
	sshClient, client, err := p.dial()
	if err != nil {
		return err
	}
	defer sshClient.Close()
	defer client.Close()

	for _, b := range backups {
		if err := p.ValidateBackupID(b.ID); err != nil {
			return err
		}
		if err := client.Remove(b.ID); err != nil {
			return fmt.Errorf("storage(sftp): delete %q: %w", b.ID, err)
		}
	}
	return nil
}
