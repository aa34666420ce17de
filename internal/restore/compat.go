package restore

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"

	"github.com/vaultkeep/backupd/internal/apierr"
)

// sqliteMagic is the fixed 16-byte header every SQLite database file starts
// with.
var sqliteMagic = []byte("SQLite format 3\x00")

var cypherTokens = [][]byte{
	[]byte("MATCH ("),
	[]byte("DETACH DELETE"),
	[]byte("CALL db."),
}

var sqlTokens = [][]byte{
	[]byte("CREATE TABLE"),
	[]byte("INSERT INTO"),
}

// flavorMarkers maps a detectable dump-header substring to the db_type it
// indicates, used to catch a MariaDB dump restored into a strict
// PostgreSQL/MySQL target (§4.6 step 4).
var flavorMarkers = []struct {
	marker []byte
	flavor string
}{
	{[]byte("PostgreSQL database dump"), "postgresql"},
	{[]byte("pg_dump"), "postgresql"},
	{[]byte("mariadb"), "mariadb"},
	{[]byte("MariaDB"), "mariadb"},
}

const sniffWindow = 64 * 1024

// suffixPatterns implements §6.2's artifact filename grammar, restricted to
// the suffix portion each db_type is expected to produce.
var suffixPatterns = map[string]*regexp.Regexp{
	"postgresql": regexp.MustCompile(`\.sql(\.gz)?(\.enc)?$`),
	"mysql":      regexp.MustCompile(`\.sql(\.gz)?(\.enc)?$`),
	"neo4j":      regexp.MustCompile(`\.cypher(\.gz)?(\.enc)?$`),
	"sqlite":     regexp.MustCompile(`\.db(\.gz)?(\.enc)?$`),
}

// validateFilenameSuffix enforces §4.6 step 4's last bullet: the suffix
// check is skipped for Google Drive destinations, which don't preserve a
// path-like backup id the same way local/SFTP do.
func validateFilenameSuffix(dbType, backupID string, isDriveDestination bool) error {
	if isDriveDestination {
		return nil
	}
	pattern, ok := suffixPatterns[dbType]
	if !ok {
		return fmt.Errorf("restore: %w: unrecognized db_type %q", apierr.ErrValidation, dbType)
	}
	name := path.Base(backupID)
	if !pattern.MatchString(name) {
		return fmt.Errorf("restore: %w: filename %q does not match the expected suffix for db_type %q",
			apierr.ErrCompatibilityReject, name, dbType)
	}
	return nil
}

// validateCompatibility implements §4.6 step 4's snippet-based checks. It
// reads the first sniffWindow bytes of restoreInputPath, transparently
// gunzipping first if the file is gzip-compressed, and rejects artifacts
// that don't look like a dump of the target's db_type. A non-empty warning
// is returned (with a nil error) for the one case the spec allows to
// proceed despite a mismatch: a MariaDB dump restored into a MySQL target.
func validateCompatibility(dbType, restoreInputPath string) (warning string, err error) {
	f, err := os.Open(restoreInputPath)
	if err != nil {
		return "", fmt.Errorf("restore: open artifact: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	gzipMagic := make([]byte, 2)
	n, _ := io.ReadFull(f, gzipMagic)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("restore: seek artifact: %w", err)
	}
	if n == 2 && gzipMagic[0] == 0x1f && gzipMagic[1] == 0x8b {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("restore: %w: corrupt gzip artifact", apierr.ErrCompatibilityReject)
		}
		defer gz.Close()
		reader = gz
	}

	head := make([]byte, sniffWindow)
	read, _ := io.ReadFull(reader, head)
	head = head[:read]

	switch dbType {
	case "sqlite":
		if !bytes.HasPrefix(head, sqliteMagic) {
			return "", fmt.Errorf("restore: %w: artifact does not begin with the SQLite magic header", apierr.ErrCompatibilityReject)
		}
		return "", nil

	case "neo4j":
		if !containsAny(head, cypherTokens) {
			return "", fmt.Errorf("restore: %w: artifact does not contain recognizable Cypher statements", apierr.ErrCompatibilityReject)
		}
		return "", nil

	case "postgresql", "mysql":
		if !containsAny(head, sqlTokens) {
			return "", fmt.Errorf("restore: %w: artifact does not contain recognizable SQL statements", apierr.ErrCompatibilityReject)
		}
		flavor := detectFlavor(head)
		if flavor == "" || flavor == dbType {
			return "", nil
		}
		if dbType == "mysql" && flavor == "mariadb" {
			return "artifact was produced by MariaDB; proceeding against a MySQL target", nil
		}
		return "", fmt.Errorf("restore: %w: artifact flavor %q does not match target db_type %q", apierr.ErrCompatibilityReject, flavor, dbType)

	default:
		return "", fmt.Errorf("restore: %w: unrecognized db_type %q", apierr.ErrValidation, dbType)
	}
}

func detectFlavor(head []byte) string {
	for _, m := range flavorMarkers {
		if bytes.Contains(head, m.marker) {
			return m.flavor
		}
	}
	return ""
}

func containsAny(head []byte, tokens [][]byte) bool {
	for _, t := range tokens {
		if bytes.Contains(head, t) {
			return true
		}
	}
	return false
}
