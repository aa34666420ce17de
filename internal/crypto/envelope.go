// Package crypto implements the streaming backup-artifact encryption
// envelope: AES-256-CTR for confidentiality, HMAC-SHA256 for integrity, and
// PBKDF2-HMAC-SHA256 for deriving both keys from a user-supplied password.
//
// This is distinct from internal/db.Secret, which protects small JSON blobs
// (target/destination credentials) stored as database columns with
// AES-256-GCM. This package protects whole backup artifact files that are
// uploaded to a storage provider and may be gigabytes in size, so it
// streams in fixed-size chunks rather than buffering the plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// Magic identifies an encrypted backup artifact. Callers sniff the first 8
// bytes of a downloaded artifact against this to decide whether decryption
// is required before restore.
var Magic = [8]byte{'B', 'R', 'B', 'K', 'E', 'N', 'C', '1'}

const (
	version = 0x01

	saltSize   = 16
	ivSize     = 16
	iterSize   = 4
	hmacSize   = 32
	headerSize = len(Magic) + 1 + saltSize + ivSize + iterSize

	// DefaultIterations is the PBKDF2 iteration count used when a caller
	// does not override it.
	DefaultIterations = 200_000

	// chunkSize is the streaming unit for both encryption and decryption.
	chunkSize = 1 << 20 // 1 MiB
)

// ErrEmptyPassword is returned before any I/O occurs when the supplied
// password is empty.
var ErrEmptyPassword = errors.New("crypto: password must not be empty")

// ErrTruncated is returned when an artifact being decrypted is shorter than
// the minimum valid envelope (header + HMAC tag).
var ErrTruncated = errors.New("crypto: truncated encrypted artifact")

// ErrAuthentication is returned when the trailing HMAC tag does not match —
// either the password is wrong or the artifact is corrupted. The two cases
// are indistinguishable by design.
var ErrAuthentication = errors.New("crypto: invalid password or corrupted backup")

// LooksEncrypted reports whether the first 8 bytes of data equal Magic.
func LooksEncrypted(data []byte) bool {
	if len(data) < len(Magic) {
		return false
	}
	return string(data[:len(Magic)]) == string(Magic[:])
}

// EncryptFile reads plaintext from src, encrypts it under password, and
// writes the envelope (header, streaming ciphertext, HMAC tag) to dst.
// A non-positive iterations value falls back to DefaultIterations.
func EncryptFile(dst io.Writer, src io.Reader, password string, iterations int) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("crypto: generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return fmt.Errorf("crypto: generate iv: %w", err)
	}

	aesKey, hmacKey := deriveKeys(password, salt, iterations)

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return fmt.Errorf("crypto: new cipher: %w", err)
	}
	stream := cipher.NewCTR(block, iv)
	mac := hmac.New(sha256.New, hmacKey)

	if _, err := dst.Write(Magic[:]); err != nil {
		return fmt.Errorf("crypto: write header: %w", err)
	}
	if _, err := dst.Write([]byte{version}); err != nil {
		return fmt.Errorf("crypto: write header: %w", err)
	}
	if _, err := dst.Write(salt); err != nil {
		return fmt.Errorf("crypto: write header: %w", err)
	}
	if _, err := dst.Write(iv); err != nil {
		return fmt.Errorf("crypto: write header: %w", err)
	}
	var iterBuf [iterSize]byte
	binary.BigEndian.PutUint32(iterBuf[:], uint32(iterations))
	if _, err := dst.Write(iterBuf[:]); err != nil {
		return fmt.Errorf("crypto: write header: %w", err)
	}

	buf := make([]byte, chunkSize)
	out := make([]byte, chunkSize)
	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			stream.XORKeyStream(out[:n], buf[:n])
			mac.Write(out[:n])
			if _, werr := dst.Write(out[:n]); werr != nil {
				return fmt.Errorf("crypto: write ciphertext: %w", werr)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("crypto: read plaintext: %w", rerr)
		}
	}

	if _, err := dst.Write(mac.Sum(nil)); err != nil {
		return fmt.Errorf("crypto: write hmac: %w", err)
	}
	return nil
}

// DecryptFile decrypts the envelope read from srcPath under password,
// writing the plaintext to a ".tmp" sibling of dstPath and atomically
// renaming it into place only once the HMAC has been verified. On any
// failure the partial output is removed.
func DecryptFile(dstPath, srcPath, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("crypto: stat source: %w", err)
	}
	if info.Size() < int64(headerSize+hmacSize) {
		return ErrTruncated
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("crypto: open source: %w", err)
	}
	defer src.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if !LooksEncrypted(header) {
		return errors.New("crypto: missing magic header")
	}
	if header[8] != version {
		return fmt.Errorf("crypto: unsupported envelope version %d", header[8])
	}
	salt := header[9 : 9+saltSize]
	iv := header[9+saltSize : 9+saltSize+ivSize]
	iterations := binary.BigEndian.Uint32(header[9+saltSize+ivSize:])

	aesKey, hmacKey := deriveKeys(password, salt, int(iterations))

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return fmt.Errorf("crypto: new cipher: %w", err)
	}
	stream := cipher.NewCTR(block, iv)
	mac := hmac.New(sha256.New, hmacKey)

	ciphertextLen := info.Size() - int64(headerSize) - int64(hmacSize)
	if ciphertextLen < 0 {
		return ErrTruncated
	}

	tmpPath := dstPath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("crypto: create output: %w", err)
	}
	cleanup := func() {
		out.Close()
		os.Remove(tmpPath)
	}

	buf := make([]byte, chunkSize)
	plain := make([]byte, chunkSize)
	remaining := ciphertextLen
	for remaining > 0 {
		want := int64(chunkSize)
		if remaining < want {
			want = remaining
		}
		n, rerr := io.ReadFull(src, buf[:want])
		if n > 0 {
			mac.Write(buf[:n])
			stream.XORKeyStream(plain[:n], buf[:n])
			if _, werr := out.Write(plain[:n]); werr != nil {
				cleanup()
				return fmt.Errorf("crypto: write plaintext: %w", werr)
			}
		}
		if rerr != nil {
			cleanup()
			return fmt.Errorf("%w: %v", ErrTruncated, rerr)
		}
		remaining -= int64(n)
	}

	tag := make([]byte, hmacSize)
	if _, err := io.ReadFull(src, tag); err != nil {
		cleanup()
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	if !hmac.Equal(mac.Sum(nil), tag) {
		cleanup()
		return ErrAuthentication
	}

	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("crypto: close output: %w", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("crypto: rename output: %w", err)
	}
	return nil
}

// deriveKeys runs PBKDF2-HMAC-SHA256 once and splits the 64-byte output
// into the AES-256 key (first 32 bytes) and the HMAC-SHA256 key (last 32).
func deriveKeys(password string, salt []byte, iterations int) (aesKey, hmacKey []byte) {
	derived := pbkdf2.Key([]byte(password), salt, iterations, 64, sha256.New)
	return derived[:32], derived[32:]
}
