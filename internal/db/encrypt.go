package db

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// encryptionKey is the package-level AES-256 key used by Secret to encrypt
// configuration fields at rest. It must be initialized once at startup via
// InitEncryption before any database operation involving Secret fields.
//
// This is a separate concern from internal/crypto, which encrypts backup
// artifact files with its own streaming AES-256-CTR+HMAC envelope — Secret
// only ever protects small JSON blobs stored as database columns.
var encryptionKey []byte

// InitEncryption sets the AES-256 master key used to encrypt and decrypt
// secret fields at rest (target/destination credentials, setting values).
// key must be exactly 32 bytes (AES-256). A target or destination whose
// mutation supplies secrets cannot be persisted before this is called — see
// apierr.ErrEncryptionNotConfigured.
//
// Call this once during application startup, before calling db.New:
//
//	if err := db.InitEncryption(masterKey); err != nil {
//	    log.Fatal(err)
//	}
func InitEncryption(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("db: encryption key must be exactly 32 bytes, got %d", len(key))
	}
	encryptionKey = make([]byte, 32)
	copy(encryptionKey, key)
	return nil
}

// EncryptionConfigured reports whether InitEncryption has been called.
// Repositories consult this before accepting a mutation that sets secrets.
func EncryptionConfigured() bool {
	return encryptionKey != nil
}

// Secret is a string type that is transparently encrypted with AES-256-GCM
// before being written to the database, and decrypted after being read. Use
// it for any sensitive field (target/destination credentials, setting
// values such as SMTP passwords or the Telegram bot token).
//
// The value stored in the database is a base64-encoded string in the format:
//
//	base64(nonce + ciphertext)
//
// An empty Secret is stored as an empty string without encryption, and reads
// back as empty — callers distinguish "no secret set" from "secret present"
// via len(value) == 0, never by attempting to decrypt.
type Secret string

// Value implements driver.Valuer. Called by GORM before writing to the database.
// Encrypts the string value with AES-256-GCM and encodes it as base64.
func (e Secret) Value() (driver.Value, error) {
	if e == "" {
		return "", nil
	}
	if encryptionKey == nil {
		return nil, errors.New("db: encryption key not initialized, call db.InitEncryption first")
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("db: failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("db: failed to create GCM: %w", err)
	}

	// Generate a random nonce. A unique nonce per encryption is critical for
	// GCM security — never reuse a nonce with the same key.
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("db: failed to generate nonce: %w", err)
	}

	// Seal appends the ciphertext and authentication tag to the nonce.
	ciphertext := gcm.Seal(nonce, nonce, []byte(e), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Scan implements sql.Scanner. Called by GORM after reading from the database.
// Decodes the base64 string and decrypts it with AES-256-GCM.
func (e *Secret) Scan(value interface{}) error {
	if value == nil {
		*e = ""
		return nil
	}

	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("db: Secret.Scan: expected string, got %T", value)
	}
	if str == "" {
		*e = ""
		return nil
	}
	if encryptionKey == nil {
		return errors.New("db: encryption key not initialized, call db.InitEncryption first")
	}

	data, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return fmt.Errorf("db: failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return fmt.Errorf("db: failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("db: failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return errors.New("db: encrypted data too short to contain nonce")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("db: failed to decrypt value: %w", err)
	}

	*e = Secret(plaintext)
	return nil
}

// Present reports whether a secret value is set, without decrypting it.
// Read paths use this to populate a boolean secrets_present field instead
// of ever returning decrypted secrets over the API.
func (e Secret) Present() bool {
	return e != ""
}
