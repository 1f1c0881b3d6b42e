package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"leadforge/config"
)

func withEncryptionKey(t *testing.T, key string) {
	t.Helper()
	prev := config.AppConfig.EncryptionKey
	config.AppConfig.EncryptionKey = key
	t.Cleanup(func() { config.AppConfig.EncryptionKey = prev })
}

func TestEncryptRoundTrip(t *testing.T) {
	withEncryptionKey(t, "0123456789abcdef0123456789abcdef")

	first, err := Encrypt("imap-secret")
	require.NoError(t, err)
	second, err := Encrypt("imap-secret")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "nonce must differ per call")
	assert.NotContains(t, first, "imap-secret")

	plain, err := Decrypt(first)
	require.NoError(t, err)
	assert.Equal(t, "imap-secret", plain)

	empty, err := Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)
	plain, err = Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestEncryptRejectsBadKey(t *testing.T) {
	for _, key := range []string{"", "short", "0123456789abcdef0"} {
		withEncryptionKey(t, key)

		_, err := Encrypt("imap-secret")
		assert.True(t, errors.Is(err, config.ErrInvalidEncryptionKey), "key %q: %v", key, err)
		_, err = Decrypt("AAAA")
		assert.True(t, errors.Is(err, config.ErrInvalidEncryptionKey), "key %q: %v", key, err)
	}
}

func TestDecryptDetectsTampering(t *testing.T) {
	withEncryptionKey(t, "0123456789abcdef")
	sealed, err := Encrypt("imap-secret")
	require.NoError(t, err)

	raw := []byte(sealed)
	if raw[len(raw)-3] == 'A' {
		raw[len(raw)-3] = 'B'
	} else {
		raw[len(raw)-3] = 'A'
	}
	_, err = Decrypt(string(raw))
	assert.True(t, errors.Is(err, ErrCorruptSecret))

	_, err = Decrypt("not base64!")
	assert.True(t, errors.Is(err, ErrCorruptSecret))
	_, err = Decrypt("AAAA")
	assert.True(t, errors.Is(err, ErrCorruptSecret))

	withEncryptionKey(t, "fedcba9876543210")
	_, err = Decrypt(sealed)
	assert.True(t, errors.Is(err, ErrCorruptSecret), "a different key must not open the secret")
}
