package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"leadforge/config"
)

// ErrCorruptSecret is returned when a stored secret cannot be opened with
// the configured key.
var ErrCorruptSecret = errors.New("stored secret cannot be decrypted")

// secretBox builds the AES-GCM sealer for the configured ENCRYPTION_KEY.
func secretBox() (cipher.AEAD, error) {
	key := config.AppConfig.EncryptionKey
	if err := config.ValidateEncryptionKey(key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals secrets stored at rest, such as inbox passwords. The output
// is base64(nonce || sealed); an empty secret stays empty.
func Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	box, err := secretBox()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, box.NonceSize(), box.NonceSize()+len(plaintext)+box.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := box.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	box, err := secretBox()
	if err != nil {
		return "", err
	}

	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptSecret, err)
	}
	if len(raw) < box.NonceSize()+box.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrCorruptSecret)
	}
	nonce, sealed := raw[:box.NonceSize()], raw[box.NonceSize():]
	plain, err := box.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptSecret, err)
	}
	return string(plain), nil
}
