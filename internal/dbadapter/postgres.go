package dbadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PostgresAdapter drives pg_dump/psql as subprocesses. Connection
// credentials are passed via PGPASSWORD in the subprocess environment
// rather than on the command line, so they never appear in a process
// listing.
type PostgresAdapter struct{}

var _ Adapter = (*PostgresAdapter)(nil)

func (a *PostgresAdapter) env(params ConnectionParams) []string {
	return append(os.Environ(), "PGPASSWORD="+params.Password)
}

func (a *PostgresAdapter) CreateBackupToTemp(ctx context.Context, params ConnectionParams, compress bool, tempDir string) (BackupResult, error) {
	stem := fmt.Sprintf("backup_postgresql_%s", time.Now().UTC().Format("20060102_150405"))
	ext := ".sql"
	if compress {
		ext = ".sql.gz"
	}
	filename := stem + ext
	tempPath := filepath.Join(tempDir, filename)

	args := []string{
		"-h", params.Host, "-p", strconv.Itoa(params.Port),
		"-U", params.User, "-d", params.Database,
		"--no-owner", "--no-acl",
	}
	if compress {
		args = append(args, "-Z", "9")
	}
	args = append(args, "-f", tempPath)

	if _, err := runCommand(ctx, a.env(params), "pg_dump", args...); err != nil {
		return BackupResult{}, err
	}
	return BackupResult{Filename: filename, TempPath: tempPath}, nil
}

func (a *PostgresAdapter) Restore(ctx context.Context, params ConnectionParams, backupPath string) ([]Warning, error) {
	// Drop all user objects by recreating the public schema — idempotent
	// regardless of how many times it runs, and leaves ownership/ACL
	// clauses in the dump free to fail individually (collected below)
	// without aborting the restore. The exact statement sequence is left
	// to this adapter per §9's open question.
	resetArgs := []string{
		"-h", params.Host, "-p", strconv.Itoa(params.Port),
		"-U", params.User, "-d", params.Database,
		"-c", "DROP SCHEMA public CASCADE; CREATE SCHEMA public;",
	}
	if _, err := runCommand(ctx, a.env(params), "psql", resetArgs...); err != nil {
		return nil, err
	}

	applyArgs := []string{
		"-h", params.Host, "-p", strconv.Itoa(params.Port),
		"-U", params.User, "-d", params.Database,
		"-v", "ON_ERROR_STOP=0", "-f", backupPath,
	}
	out, err := runCommand(ctx, a.env(params), "sh", "-c", "psql "+shellJoin(applyArgs)+" 2>&1")
	if err != nil {
		return nil, err
	}
	return parsePsqlWarnings(string(out)), nil
}

// parsePsqlWarnings scans psql's combined output for non-fatal statement
// errors (ON_ERROR_STOP=0 keeps psql running past them) and surfaces them
// as structured warnings instead of silently swallowing them.
func parsePsqlWarnings(output string) []Warning {
	var warnings []Warning
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "ERROR:") {
			warnings = append(warnings, Warning{Statement: "", Message: strings.TrimSpace(line)})
		}
	}
	return warnings
}

func (a *PostgresAdapter) TestConnection(ctx context.Context, params ConnectionParams) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	_, err := runCommand(ctx, a.env(params), "psql",
		"-h", params.Host, "-p", strconv.Itoa(params.Port),
		"-U", params.User, "-d", params.Database,
		"-c", "SELECT 1;")
	return err
}

func (a *PostgresAdapter) GetStats(ctx context.Context, params ConnectionParams) (Stats, error) {
	tablesOut, err := runCommand(ctx, a.env(params), "psql",
		"-h", params.Host, "-p", strconv.Itoa(params.Port),
		"-U", params.User, "-d", params.Database,
		"-t", "-A", "-c",
		"SELECT table_name FROM information_schema.tables WHERE table_schema = 'public';")
	if err != nil {
		return Stats{}, err
	}

	var tables []string
	for _, line := range strings.Split(strings.TrimSpace(string(tablesOut)), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			tables = append(tables, line)
		}
	}

	sizeOut, err := runCommand(ctx, a.env(params), "psql",
		"-h", params.Host, "-p", strconv.Itoa(params.Port),
		"-U", params.User, "-d", params.Database,
		"-t", "-A", "-c",
		fmt.Sprintf("SELECT pg_database_size('%s') / 1048576.0;", params.Database))
	if err != nil {
		return Stats{}, err
	}
	sizeMB, _ := strconv.ParseFloat(strings.TrimSpace(string(sizeOut)), 64)

	return Stats{
		TableCount:     len(tables),
		Tables:         tables,
		DatabaseSizeMB: sizeMB,
	}, nil
}
