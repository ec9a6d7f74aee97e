package cryptoutils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// sealerSalt domain-separates material sealing from any other use of the
// operator passphrase.
var sealerSalt = []byte("QKD-KME-MATERIAL-SEAL-v1")

// ErrUnsealFailed is returned when sealed material fails authentication.
var ErrUnsealFailed = errors.New("failed to unseal key material")

// Sealer encrypts key material at rest with XChaCha20-Poly1305.
//
// Sealed format: [24-byte nonce][ciphertext+tag]. The key id is bound as
// additional data so sealed material cannot be moved between records.
type Sealer struct {
	key []byte
}

// NewSealer derives the sealing key from a passphrase using Argon2id.
func NewSealer(passphrase []byte) (*Sealer, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty sealing passphrase")
	}
	// Parameters: time=1, memory=64*1024, threads=4, keyLen=32
	key := argon2.IDKey(passphrase, sealerSalt, 1, 64*1024, 4, chacha20poly1305.KeySize)
	return &Sealer{key: key}, nil
}

// Seal encrypts material for the record identified by keyID.
func (s *Sealer) Seal(keyID string, material []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(material)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, material, []byte(keyID)), nil
}

// Unseal reverses Seal.
func (s *Sealer) Unseal(keyID string, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrUnsealFailed
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(keyID))
	if err != nil {
		return nil, ErrUnsealFailed
	}
	return plaintext, nil
}
