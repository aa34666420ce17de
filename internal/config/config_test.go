package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDecodeMasterKeyRawLength32(t *testing.T) {
	raw := "01234567890123456789012345678901" // already 32 chars; the slice below keeps it so
	raw = raw[:32]
	key, err := DecodeMasterKey(raw)
	if err != nil {
		t.Fatalf("DecodeMasterKey: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(key))
	}
	if string(key) != raw {
		t.Fatalf("expected raw 32-byte key to be used as-is")
	}
}

func TestDecodeMasterKeyPassphraseIsStretched(t *testing.T) {
	key, err := DecodeMasterKey("not thirty two bytes long")
	if err != nil {
		t.Fatalf("DecodeMasterKey: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected stretched key to be 32 bytes, got %d", len(key))
	}
}

func TestDecodeMasterKeyEmpty(t *testing.T) {
	if _, err := DecodeMasterKey(""); err == nil {
		t.Fatal("expected error for empty master key")
	}
}

func TestEnvOrDefaultFileIndirection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("BACKUPD_TEST_KEY_FILE", path)
	t.Setenv("BACKUPD_TEST_KEY", "from-env")

	got := envOrDefault("BACKUPD_TEST_KEY", "default")
	if got != "from-file" {
		t.Fatalf("expected _FILE indirection to win, got %q", got)
	}
}

func TestEnvOrDefaultFallsBackToPlainVar(t *testing.T) {
	t.Setenv("BACKUPD_TEST_PLAIN", "plain-value")
	got := envOrDefault("BACKUPD_TEST_PLAIN", "default")
	if got != "plain-value" {
		t.Fatalf("expected plain env var, got %q", got)
	}
}

func TestEnvOrDefaultFallsBackToDefault(t *testing.T) {
	got := envOrDefault("BACKUPD_TEST_UNSET_VAR", "default")
	if got != "default" {
		t.Fatalf("expected default, got %q", got)
	}
}

func TestEnvIntAndBoolDefaults(t *testing.T) {
	if n := envInt("BACKUPD_TEST_UNSET_INT", 7); n != 7 {
		t.Fatalf("expected default int 7, got %d", n)
	}
	t.Setenv("BACKUPD_TEST_INT", "42")
	if n := envInt("BACKUPD_TEST_INT", 7); n != 42 {
		t.Fatalf("expected 42, got %d", n)
	}

	if b := envBool("BACKUPD_TEST_UNSET_BOOL", true); !b {
		t.Fatal("expected default true")
	}
	t.Setenv("BACKUPD_TEST_BOOL", "false")
	if b := envBool("BACKUPD_TEST_BOOL", true); b {
		t.Fatal("expected env override to false")
	}
}
