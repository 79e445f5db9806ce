package vault

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keyLen     = chacha20poly1305.KeySize
	saltLen    = 16
	kdfTime    = 1
	kdfThreads = 4

	// DefaultKDFMemory is the Argon2id memory cost in KiB.
	DefaultKDFMemory uint32 = 64 * 1024

	verifierPlaintext = "overlay-vault-verifier"
)

var errOpen = errors.New("vault: message authentication failed")

func deriveKey(password string, salt []byte, memory uint32) []byte {
	return argon2.IDKey([]byte(password), salt, kdfTime, memory, kdfThreads, keyLen)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("vault: read random: %w", err)
	}
	return b, nil
}

// seal encrypts plaintext and returns nonce||ciphertext. ad binds the blob to
// its row so sealed bodies cannot be swapped between ciphers.
func seal(key, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init aead: %w", err)
	}
	nonce, err := randomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

func open(key, blob, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init aead: %w", err)
	}
	if len(blob) < aead.NonceSize() {
		return nil, errOpen
	}
	nonce, ct := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, errOpen
	}
	return pt, nil
}
