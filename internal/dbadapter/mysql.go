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

// MySQLAdapter drives mysqldump/mysql as subprocesses. It is also used for
// MariaDB targets — the restore-compatibility layer (internal/restore)
// treats a MariaDB-flavored dump restored into a MySQL target as a warning,
// not a rejection, but adapter selection itself is keyed on db_type="mysql"
// either way.
type MySQLAdapter struct{}

var _ Adapter = (*MySQLAdapter)(nil)

func (a *MySQLAdapter) defaultsExtraFile(params ConnectionParams) (string, func(), error) {
	f, err := os.CreateTemp("", "mysql-defaults-*.cnf")
	if err != nil {
		return "", func() {}, fmt.Errorf("dbadapter(mysql): create defaults file: %w", err)
	}
	content := fmt.Sprintf("[client]\nuser=%s\npassword=%s\nhost=%s\nport=%d\n",
		params.User, params.Password, params.Host, params.Port)
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, fmt.Errorf("dbadapter(mysql): write defaults file: %w", err)
	}
	f.Close()
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

func (a *MySQLAdapter) CreateBackupToTemp(ctx context.Context, params ConnectionParams, compress bool, tempDir string) (BackupResult, error) {
	defaultsFile, cleanup, err := a.defaultsExtraFile(params)
	if err != nil {
		return BackupResult{}, err
	}
	defer cleanup()

	stem := fmt.Sprintf("backup_mysql_%s", time.Now().UTC().Format("20060102_150405"))
	ext := ".sql"
	if compress {
		ext = ".sql.gz"
	}
	filename := stem + ext
	tempPath := filepath.Join(tempDir, filename)

	args := []string{
		"--defaults-extra-file=" + defaultsFile,
		"--single-transaction", "--routines", "--triggers",
		params.Database,
	}

	if compress {
		// mysqldump has no native gzip flag; pipe through gzip via shell.
		out, err := runCommand(ctx, nil, "sh", "-c",
			fmt.Sprintf("mysqldump %s | gzip -9 > %s", shellJoin(args), shellQuote(tempPath)))
		_ = out
		if err != nil {
			return BackupResult{}, err
		}
	} else {
		out, err := runCommand(ctx, nil, "mysqldump", args...)
		if err != nil {
			return BackupResult{}, err
		}
		if err := os.WriteFile(tempPath, out, 0o600); err != nil {
			return BackupResult{}, fmt.Errorf("dbadapter(mysql): write dump: %w", err)
		}
	}

	return BackupResult{Filename: filename, TempPath: tempPath}, nil
}

func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (a *MySQLAdapter) Restore(ctx context.Context, params ConnectionParams, backupPath string) ([]Warning, error) {
	defaultsFile, cleanup, err := a.defaultsExtraFile(params)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	resetSQL := fmt.Sprintf(
		"SET FOREIGN_KEY_CHECKS=0; "+
			"SET @tables = NULL; "+
			"SELECT GROUP_CONCAT('`', table_name, '`') INTO @tables FROM information_schema.tables WHERE table_schema = '%s'; "+
			"SET @tables = CONCAT('DROP TABLE IF EXISTS ', @tables); "+
			"PREPARE stmt FROM @tables; EXECUTE stmt; "+
			"SET FOREIGN_KEY_CHECKS=1;", params.Database)

	if _, err := runCommand(ctx, nil, "mysql", "--defaults-extra-file="+defaultsFile, "-e", resetSQL, params.Database); err != nil {
		return nil, err
	}

	out, err := runCommand(ctx, nil, "sh", "-c",
		fmt.Sprintf("mysql --defaults-extra-file=%s --force %s < %s 2>&1",
			shellQuote(defaultsFile), shellQuote(params.Database), shellQuote(backupPath)))
	if err != nil {
		return nil, err
	}

	var warnings []Warning
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "ERROR") {
			warnings = append(warnings, Warning{Message: strings.TrimSpace(line)})
		}
	}
	return warnings, nil
}

func (a *MySQLAdapter) TestConnection(ctx context.Context, params ConnectionParams) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	defaultsFile, cleanup, err := a.defaultsExtraFile(params)
	if err != nil {
		return err
	}
	defer cleanup()
	_, err = runCommand(ctx, nil, "mysql", "--defaults-extra-file="+defaultsFile, "-e", "SELECT 1;", params.Database)
	return err
}

func (a *MySQLAdapter) GetStats(ctx context.Context, params ConnectionParams) (Stats, error) {
	defaultsFile, cleanup, err := a.defaultsExtraFile(params)
	if err != nil {
		return Stats{}, err
	}
	defer cleanup()

	tablesOut, err := runCommand(ctx, nil, "mysql", "--defaults-extra-file="+defaultsFile,
		"-N", "-B", "-e", "SHOW TABLES;", params.Database)
	if err != nil {
		return Stats{}, err
	}
	var tables []string
	for _, line := range strings.Split(strings.TrimSpace(string(tablesOut)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			tables = append(tables, line)
		}
	}

	sizeOut, err := runCommand(ctx, nil, "mysql", "--defaults-extra-file="+defaultsFile,
		"-N", "-B", "-e",
		fmt.Sprintf("SELECT ROUND(SUM(data_length + index_length) / 1048576, 2) FROM information_schema.tables WHERE table_schema = '%s';", params.Database))
	if err != nil {
		return Stats{}, err
	}
	sizeMB, _ := strconv.ParseFloat(strings.TrimSpace(string(sizeOut)), 64)

	return Stats{TableCount: len(tables), Tables: tables, DatabaseSizeMB: sizeMB}, nil
}
