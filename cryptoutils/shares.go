package cryptoutils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/shamir"
)

// The split secret is the passphrase followed by the first checksumLen bytes
// of its SHA-256, so a short or mixed set of shares is detected on combine.
// The checksum is inside the secret and no single share reveals it.
const checksumLen = 4

var (
	ErrInvalidShare       = errors.New("invalid seal share")
	ErrInsufficientShares = errors.New("seal shares do not reconstruct the passphrase")
)

// SplitPassphrase splits a sealing passphrase into hex encoded shares, any
// threshold of which reconstruct it.
func SplitPassphrase(passphrase []byte, shares, threshold int) ([]string, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty sealing passphrase")
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if shares < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	secret := append(bytes.Clone(passphrase), passphraseChecksum(passphrase)...)
	parts, err := shamir.Split(secret, shares, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split passphrase: %w", err)
	}

	encoded := make([]string, len(parts))
	for i, part := range parts {
		encoded[i] = hex.EncodeToString(part)
	}
	return encoded, nil
}

// CombineShares reconstructs the passphrase from shares produced by
// SplitPassphrase.
func CombineShares(shares []string) ([]byte, error) {
	if len(shares) < 2 {
		return nil, fmt.Errorf("%w: at least 2 shares are required", ErrInsufficientShares)
	}

	parts := make([][]byte, 0, len(shares))
	for i, s := range shares {
		part, err := hex.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: share %d: %v", ErrInvalidShare, i+1, err)
		}
		parts = append(parts, part)
	}

	secret, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	if len(secret) <= checksumLen {
		return nil, ErrInsufficientShares
	}
	passphrase, checksum := secret[:len(secret)-checksumLen], secret[len(secret)-checksumLen:]
	if !bytes.Equal(passphraseChecksum(passphrase), checksum) {
		return nil, ErrInsufficientShares
	}
	return passphrase, nil
}

func passphraseChecksum(passphrase []byte) []byte {
	sum := sha256.Sum256(passphrase)
	return sum[:checksumLen]
}
