// Package keygen produces fresh symmetric key records. A cryptographically
// secure random source stands in for the output of a QKD link.
package keygen

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/qkd-kme/interfaces"
)

// Generator creates unused keys. It is stateless apart from its sources and
// safe for concurrent use as long as the reader is.
type Generator struct {
	rand io.Reader
	now  func() time.Time
}

// NewGenerator returns a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader, now: time.Now}
}

// WithReader replaces the material source. Tests use it for deterministic keys.
func (g *Generator) WithReader(r io.Reader) *Generator {
	g.rand = r
	return g
}

// WithClock replaces the creation timestamp source.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate returns one unused key of sizeBits bits with a random UUID.
func (g *Generator) Generate(sizeBits int) (interfaces.Key, error) {
	if sizeBits <= 0 || sizeBits%8 != 0 {
		return interfaces.Key{}, &interfaces.ValidationError{
			Field:  "size",
			Reason: fmt.Sprintf("%d is not a positive multiple of 8", sizeBits),
		}
	}

	material := make([]byte, sizeBits/8)
	if _, err := io.ReadFull(g.rand, material); err != nil {
		return interfaces.Key{}, fmt.Errorf("failed to read key material: %w", err)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return interfaces.Key{}, fmt.Errorf("failed to generate key id: %w", err)
	}

	return interfaces.Key{
		ID:        id.String(),
		Material:  material,
		SizeBits:  sizeBits,
		CreatedAt: g.now().UTC(),
	}, nil
}

// GenerateN returns n keys of sizeBits bits.
func (g *Generator) GenerateN(n, sizeBits int) ([]interfaces.Key, error) {
	keys := make([]interfaces.Key, 0, n)
	for i := 0; i < n; i++ {
		key, err := g.Generate(sizeBits)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
