package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSizeBytes    = 16
	pbkdf2Iterations = 100000
	pbkdf2KeyLength  = 32 // AES-256

	// EncryptedPrefix marks a configuration value holding base64 AES-GCM ciphertext.
	EncryptedPrefix = "enc:"
)

// loadSalt reads the salt file, creating it with a fresh random salt when missing.
func loadSalt(saltFilePath string) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(saltFilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to ensure salt directory exists: %w", err)
	}

	salt, err := os.ReadFile(saltFilePath)
	if os.IsNotExist(err) {
		salt = make([]byte, saltSizeBytes)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate random salt: %w", err)
		}
		if err := os.WriteFile(saltFilePath, salt, 0600); err != nil {
			return nil, fmt.Errorf("failed to save new salt to %s: %w", saltFilePath, err)
		}
		if err := os.Chmod(saltFilePath, 0600); err != nil {
			logrus.Warnf("Failed to chmod salt file %s: %v", saltFilePath, err)
		}
		return salt, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read salt from %s: %w", saltFilePath, err)
	}
	if len(salt) != saltSizeBytes {
		return nil, fmt.Errorf("salt file %s has incorrect size: expected %d, got %d", saltFilePath, saltSizeBytes, len(salt))
	}
	return salt, nil
}

// NewCipher derives an AES-GCM cipher from secret and the salt stored at saltFilePath.
func NewCipher(secret string, saltFilePath string) (cipher.AEAD, error) {
	if secret == "" {
		return nil, errors.New("secret cannot be empty")
	}
	if saltFilePath == "" {
		return nil, errors.New("saltFilePath cannot be empty")
	}
	salt, err := loadSalt(saltFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	key := pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, pbkdf2KeyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher block: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM AEAD mode: %w", err)
	}
	return aead, nil
}

// Encrypt seals data and prepends the random nonce.
func Encrypt(aead cipher.AEAD, data []byte) ([]byte, error) {
	if aead == nil {
		return nil, errors.New("AEAD cipher is nil")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens data produced by Encrypt.
func Decrypt(aead cipher.AEAD, encryptedData []byte) ([]byte, error) {
	if aead == nil {
		return nil, errors.New("AEAD cipher is nil")
	}
	nonceSize := aead.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, errors.New("encrypted data is too short to contain a nonce")
	}
	plaintext, err := aead.Open(nil, encryptedData[:nonceSize], encryptedData[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plaintext, nil
}

// EncryptValue returns "enc:" followed by the base64 ciphertext of value.
func EncryptValue(aead cipher.AEAD, value string) (string, error) {
	sealed, err := Encrypt(aead, []byte(value))
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// IsEncrypted reports whether value carries the encrypted prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// DecryptValue reverses EncryptValue. Values without the prefix are returned as is.
func DecryptValue(aead cipher.AEAD, value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if aead == nil {
		return "", errors.New("encrypted value found but no secret is configured")
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("invalid encrypted value: %w", err)
	}
	plain, err := Decrypt(aead, sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
