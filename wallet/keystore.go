package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for the passphrase-derived key. Interactive-login
// strength; the ciphertext never leaves the local state document.
const (
	scryptN    = 32768
	scryptR    = 8
	scryptP    = 1
	keyLength  = 32
	saltLength = 16
)

var errDecryptFailed = errors.New("decryption failed")

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLength)
}

// sealSecret encrypts the plaintext secret under a passphrase-derived key.
// Returns base64 ciphertext, salt, and nonce for the persisted record.
func sealSecret(secret []byte, passphrase string) (ciphertext, salt, nonce string, err error) {
	saltBytes := make([]byte, saltLength)
	if _, err = io.ReadFull(rand.Reader, saltBytes); err != nil {
		return "", "", "", err
	}

	key, err := deriveKey(passphrase, saltBytes)
	if err != nil {
		return "", "", "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", "", "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", "", err
	}

	nonceBytes := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonceBytes); err != nil {
		return "", "", "", err
	}

	sealed := gcm.Seal(nil, nonceBytes, secret, nil)

	enc := base64.StdEncoding
	return enc.EncodeToString(sealed), enc.EncodeToString(saltBytes), enc.EncodeToString(nonceBytes), nil
}

// openSecret reverses sealSecret. Any malformed input or wrong passphrase
// yields the same opaque error; the caller maps it to the generic
// incorrect-passphrase failure to avoid oracle behavior.
func openSecret(ciphertext, salt, nonce, passphrase string) ([]byte, error) {
	enc := base64.StdEncoding
	sealed, err := enc.DecodeString(ciphertext)
	if err != nil {
		return nil, errDecryptFailed
	}
	saltBytes, err := enc.DecodeString(salt)
	if err != nil {
		return nil, errDecryptFailed
	}
	nonceBytes, err := enc.DecodeString(nonce)
	if err != nil {
		return nil, errDecryptFailed
	}

	key, err := deriveKey(passphrase, saltBytes)
	if err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errDecryptFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errDecryptFailed
	}
	if len(nonceBytes) != gcm.NonceSize() {
		return nil, errDecryptFailed
	}

	plain, err := gcm.Open(nil, nonceBytes, sealed, nil)
	if err != nil {
		return nil, errDecryptFailed
	}
	return plain, nil
}
