package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte("the quick brown fox jumps over the lazy dog, repeated:\n" +
		string(make([]byte, 3*chunkSize/2))) // exercise more than one chunk

	dir := t.TempDir()
	encPath := filepath.Join(dir, "artifact.sql.enc")

	encFile, err := os.Create(encPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := EncryptFile(encFile, bytes.NewReader(plaintext), "hunter2", 1000); err != nil {
		t.Fatalf("EncryptFile: %v", err)
	}
	if err := encFile.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	header, err := os.ReadFile(encPath)
	if err != nil {
		t.Fatalf("read encrypted: %v", err)
	}
	if !LooksEncrypted(header) {
		t.Fatalf("expected encrypted artifact to carry magic header")
	}

	outPath := filepath.Join(dir, "restored.sql")
	if err := DecryptFile(outPath, encPath, "hunter2"); err != nil {
		t.Fatalf("DecryptFile: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read decrypted: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(plaintext))
	}
}

func TestDecryptWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()
	encPath := filepath.Join(dir, "artifact.sql.enc")

	encFile, err := os.Create(encPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := EncryptFile(encFile, bytes.NewReader([]byte("select 1;")), "correct-password", 1000); err != nil {
		t.Fatalf("EncryptFile: %v", err)
	}
	encFile.Close()

	outPath := filepath.Join(dir, "restored.sql")
	err = DecryptFile(outPath, encPath, "wrong-password")
	if err == nil {
		t.Fatalf("expected decryption with wrong password to fail")
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected partial output to be removed on auth failure")
	}
}

func TestEncryptEmptyPasswordFailsBeforeIO(t *testing.T) {
	dir := t.TempDir()
	encPath := filepath.Join(dir, "artifact.sql.enc")
	encFile, err := os.Create(encPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer encFile.Close()

	if err := EncryptFile(encFile, bytes.NewReader([]byte("x")), "", 1000); err != ErrEmptyPassword {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestDecryptTruncatedArtifactFails(t *testing.T) {
	dir := t.TempDir()
	encPath := filepath.Join(dir, "artifact.sql.enc")
	if err := os.WriteFile(encPath, append(Magic[:], 0x01), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	outPath := filepath.Join(dir, "restored.sql")
	if err := DecryptFile(outPath, encPath, "anything"); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
