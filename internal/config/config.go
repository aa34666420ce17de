// Package config loads backupd's process configuration (§6.5): environment
// variables, each with an optional `_FILE` suffix form that reads the value
// from a file instead (for credentials mounted as Docker/Kubernetes
// secrets), bound onto cobra/pflag flags the same way the teacher's
// server/cmd/server/main.go wires ARKEEP_* env defaults onto
// root.PersistentFlags().
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Runner modes (§6.5 RUNNER_MODE).
const (
	// RunnerModeDirect ticks the scheduler in-process (default).
	RunnerModeDirect = "direct"
	// RunnerModeAPI leaves schedule execution to an external caller hitting
	// POST /automation/runner/run-due on its own interval.
	RunnerModeAPI = "api"
)

// Config holds every recognized option from §6.5, parsed once at startup.
type Config struct {
	HTTPAddr string
	DBDriver string
	DBDSN    string

	MasterKey string

	RunnerMode            string
	RunnerInterval        time.Duration
	RunnerMaxSchedules    int
	RunnerDrainMode       bool
	RunnerDrainMaxBatches int

	LogDir      string
	LogLevel    string
	LogFilename string

	DataDir        string
	LocalBackupDir string
	TempDir        string
}

// BindFlags registers every Config field as a pflag, defaulted from the
// environment (via envOrDefault, which honors the `_FILE` indirection
// convention) the same way the teacher binds ARKEEP_* env vars onto
// root.PersistentFlags() in server/cmd/server/main.go.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.HTTPAddr, "http-addr", envOrDefault("HTTP_ADDR", ":8080"), "HTTP API listen address")
	fs.StringVar(&cfg.DBDriver, "db-driver", envOrDefault("DB_DRIVER", "sqlite"), "Metadata store driver (sqlite or postgres)")
	fs.StringVar(&cfg.DBDSN, "db-dsn", envOrDefault("DB_DSN", "./backupd.db"), "Metadata store DSN or file path for SQLite")

	fs.StringVar(&cfg.MasterKey, "master-key", envOrDefault("MASTER_ENCRYPTION_KEY", ""), "Master key used to derive the secret-at-rest encryption key (required)")

	fs.StringVar(&cfg.RunnerMode, "runner-mode", envOrDefault("RUNNER_MODE", RunnerModeDirect), "Schedule execution mode: direct (in-process) or api (externally driven)")
	fs.DurationVar(&cfg.RunnerInterval, "runner-interval", envDurationSeconds("RUNNER_INTERVAL", 60*time.Second), "How often the in-process runner checks for due schedules")
	fs.IntVar(&cfg.RunnerMaxSchedules, "runner-max-schedules", envInt("RUNNER_MAX_SCHEDULES", 10), "Maximum due schedules executed per batch")
	fs.BoolVar(&cfg.RunnerDrainMode, "runner-drain-mode", envBool("RUNNER_DRAIN_MODE", false), "Re-query for more due schedules within the same tick when a batch came back full")
	fs.IntVar(&cfg.RunnerDrainMaxBatches, "runner-drain-max-batches", envInt("RUNNER_DRAIN_MAX_BATCHES", 20), "Safety cap on drain-mode batches per tick")

	fs.StringVar(&cfg.LogDir, "log-dir", envOrDefault("LOG_DIR", ""), "Directory for log files (empty = stderr only)")
	fs.StringVar(&cfg.LogLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFilename, "log-filename", envOrDefault("LOG_FILENAME", "backupd.log"), "Log filename, used when log-dir is set")

	fs.StringVar(&cfg.DataDir, "data-dir", envOrDefault("DATA_DIR", "./data"), "Directory for server data (JWT keys, etc.)")
	fs.StringVar(&cfg.LocalBackupDir, "local-backup-dir", envOrDefault("LOCAL_BACKUP_DIR", "./data/backups"), "Base path for the built-in local destination")
	fs.StringVar(&cfg.TempDir, "temp-dir", envOrDefault("TEMP_DIR", ""), "Scratch directory for staged artifacts (empty = os.TempDir())")
}

// DecodeMasterKey derives the 32-byte AES-256 key db.InitEncryption requires
// from the operator-supplied MASTER_ENCRYPTION_KEY. A key that is already a
// 32-byte base64 or raw string is used as-is; anything else (the common
// case — an operator-chosen passphrase) is stretched with SHA-256, matching
// §6.5's "derives the secret-at-rest key" wording.
func DecodeMasterKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("config: master key is empty")
	}

	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}

	sum := sha256.Sum256([]byte(raw))
	return sum[:], nil
}

// envOrDefault reads key from the environment, or, if key+"_FILE" is set,
// reads and trims the contents of that file instead (§6.5's `_FILE`
// indirection convention, used for credentials mounted from Docker/
// Kubernetes secrets). Falls back to defaultVal if neither is set.
func envOrDefault(key, defaultVal string) string {
	if path := os.Getenv(key + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := envOrDefault(key, "")
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool) bool {
	v := envOrDefault(key, "")
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// envDurationSeconds reads key as an integer number of seconds (§6.5
// RUNNER_INTERVAL is documented in seconds, not a Go duration string).
func envDurationSeconds(key string, defaultVal time.Duration) time.Duration {
	v := envOrDefault(key, "")
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(n) * time.Second
}
