package envcrypt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, ".env.prod")
	secrets := []byte("SECRET_KEY=abc\nPROD_DB_PASSWORD=hunter2\n")
	require.NoError(t, os.WriteFile(src, secrets, 0o600))

	outDir := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(outDir, 0o700))

	encPath, saltPath, err := EncryptFile(src, outDir, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, ".env.prod.enc"), encPath)
	assert.Equal(t, filepath.Join(outDir, "salt"), saltPath)

	salt, err := os.ReadFile(saltPath)
	require.NoError(t, err)
	assert.Len(t, salt, SaltSize)

	ciphertext, err := os.ReadFile(encPath)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "hunter2")

	plaintext, err := DecryptFile(encPath, saltPath, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, secrets, plaintext)
}

func TestDecryptWrongPassword(t *testing.T) {
	ciphertext, salt, err := Encrypt([]byte("payload"), "right")
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, "wrong", salt)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = Decrypt(ciphertext[:4], "right", salt)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestEncryptUsesFreshSalt(t *testing.T) {
	c1, s1, err := Encrypt([]byte("payload"), "pw")
	require.NoError(t, err)
	c2, s2, err := Encrypt([]byte("payload"), "pw")
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, c1, c2)
}

func TestEmptyPassword(t *testing.T) {
	_, _, err := Encrypt([]byte("x"), "")
	assert.ErrorIs(t, err, ErrEmptyPassword)
	_, err = Decrypt([]byte("x"), "", nil)
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	assert.Equal(t, DeriveKey("pw", salt), DeriveKey("pw", salt))
	assert.Len(t, DeriveKey("pw", salt), KeySize)
}
