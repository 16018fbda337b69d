// Package envcrypt encrypts secrets files with a password-derived key.
//
// The key is PBKDF2-SHA256 over the password with a random 16-byte salt. The
// ciphertext file holds the XChaCha20-Poly1305 nonce followed by the sealed
// data; the salt is written next to it so the pair can be restored later.
package envcrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	Iterations = 480000
	SaltSize   = 16
	KeySize    = chacha20poly1305.KeySize

	// SaltFileName is the name of the salt file written next to the ciphertext.
	SaltFileName = "salt"
)

var (
	ErrEmptyPassword = errors.New("encryption password is empty")
	ErrDecrypt       = errors.New("decryption failed: wrong password or corrupted data")
)

// DeriveKey stretches password with salt into a KeySize key.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New)
}

// Encrypt seals plaintext with a key derived from password and a fresh salt.
func Encrypt(plaintext []byte, password string) (ciphertext, salt []byte, err error) {
	if password == "" {
		return nil, nil, ErrEmptyPassword
	}
	salt = make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("failed generating salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(DeriveKey(password, salt))
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), salt, nil
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertext []byte, password string, salt []byte) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	aead, err := chacha20poly1305.NewX(DeriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncryptFile writes {outDir}/{base(src)}.enc and {outDir}/salt.
func EncryptFile(src, outDir, password string) (encPath, saltPath string, err error) {
	plaintext, err := os.ReadFile(src)
	if err != nil {
		return "", "", fmt.Errorf("failed reading secrets file: %w", err)
	}
	ciphertext, salt, err := Encrypt(plaintext, password)
	if err != nil {
		return "", "", err
	}

	encPath = filepath.Join(outDir, filepath.Base(src)+".enc")
	saltPath = filepath.Join(outDir, SaltFileName)
	if err := os.WriteFile(encPath, ciphertext, 0o600); err != nil {
		return "", "", fmt.Errorf("failed writing %s: %w", encPath, err)
	}
	if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
		_ = os.Remove(encPath)
		return "", "", fmt.Errorf("failed writing %s: %w", saltPath, err)
	}
	return encPath, saltPath, nil
}

// DecryptFile reads a ciphertext and salt pair written by EncryptFile.
func DecryptFile(encPath, saltPath, password string) ([]byte, error) {
	ciphertext, err := os.ReadFile(encPath)
	if err != nil {
		return nil, err
	}
	salt, err := os.ReadFile(saltPath)
	if err != nil {
		return nil, err
	}
	return Decrypt(ciphertext, password, salt)
}
