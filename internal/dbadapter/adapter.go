// Package dbadapter is the external-collaborator contract (§6.4) through
// which the engine talks to the actual databases it backs up. Every
// operation shells out to the vendor's own CLI tool — pg_dump/psql,
// mysqldump/mysql, cypher-shell, a raw file copy for SQLite — the same way
// the reference backup agent this engine's process model was distilled
// from shells out to the restic binary: one exec.Cmd per logical
// operation, stdout/stderr captured, a non-zero exit wrapped with a
// trimmed stderr snippet.
//
// No database/sql driver is used here: the engine never runs a single
// query against the backed-up database, only whole-database dump/restore
// operations best expressed through the vendor tool.
package dbadapter

import (
	"context"
	"time"
)

// ConnectionParams carries the per-target connection parameters. Which
// fields are meaningful depends on DBType: Host/Port/Database/User/Password
// for postgresql/mysql, BoltURL/User/Password for neo4j, FilePath for
// sqlite.
type ConnectionParams struct {
	DBType   string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	BoltURL  string
	FilePath string
}

// Stats is the normalized response of GetStats. postgresql/mysql fill
// Tables, neo4j fills Labels and RelationshipTypes, and sqlite fills none of
// the collection fields, only DatabaseSizeMB.
type Stats struct {
	TableCount      int
	TotalRows       int64
	DatabaseSizeMB  float64
	Tables          []string // postgresql/mysql
	Labels          []string // neo4j node labels
	RelationshipTypes []string // neo4j
}

// BackupResult is returned by CreateBackupToTemp.
type BackupResult struct {
	// Filename is the canonical artifact name, form
	// "backup_<db_type>_<YYYYMMDD_HHMMSS>.<ext>[.gz]" — see §6.2.
	Filename string
	// TempPath is the absolute path of the produced artifact on local disk.
	TempPath string
}

// Warning is a structured non-fatal statement failure surfaced during
// Restore (§6.4: "must report structured warnings for non-fatal statement
// failures").
type Warning struct {
	Statement string
	Message   string
}

// Adapter is implemented once per supported db_type. TestConnection must
// complete within 10s or fail (§6.4); CreateBackupToTemp and Restore
// inherit their deadline from ctx, which callers set to the subprocess
// wall-clock timeout from configuration.
type Adapter interface {
	CreateBackupToTemp(ctx context.Context, params ConnectionParams, compress bool, tempDir string) (BackupResult, error)

	// Restore must first remove/empty all user objects in the target
	// database before applying backupPath, must be idempotent with respect
	// to ownership/ACL clauses, and must report structured warnings for
	// non-fatal statement failures rather than aborting on the first one.
	// The exact "remove all user objects" statement sequence is left to
	// each adapter — see DESIGN.md's "exact SQL reset semantics" decision.
	Restore(ctx context.Context, params ConnectionParams, backupPath string) ([]Warning, error)

	TestConnection(ctx context.Context, params ConnectionParams) error

	GetStats(ctx context.Context, params ConnectionParams) (Stats, error)
}

// DefaultConnectTimeout bounds TestConnection per §6.4.
const DefaultConnectTimeout = 10 * time.Second

// ForDBType returns the Adapter registered for db_type, or (nil, false).
func ForDBType(dbType string) (Adapter, bool) {
	a, ok := registry[dbType]
	return a, ok
}

var registry = map[string]Adapter{
	"postgresql": &PostgresAdapter{},
	"mysql":      &MySQLAdapter{},
	"sqlite":     &SQLiteAdapter{},
	"neo4j":      &Neo4jAdapter{},
}
