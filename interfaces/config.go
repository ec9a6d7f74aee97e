package interfaces

import "fmt"

// Defaults used when a KME is started without explicit configuration.
const (
	DefaultKMEID             = "KME_LAB_001"
	DefaultKeySizeBits       = 256
	DefaultMinKeySizeBits    = 64
	DefaultMaxKeySizeBits    = 1024
	DefaultMaxKeysPerRequest = 128
	DefaultMaxSAEIDCount     = 10
	DefaultPoolMaxSize       = 1000
	DefaultRefillThreshold   = 100
)

// KMEConfig carries every tunable of the key distribution service.
// It is validated once at startup and passed explicitly to the service.
type KMEConfig struct {
	// KMEID is reported as both source and target KME in status responses.
	KMEID string

	// DefaultKeySizeBits is the size of pooled keys and the size used when
	// a request does not name one.
	DefaultKeySizeBits int
	MinKeySizeBits     int
	MaxKeySizeBits     int

	MaxKeysPerRequest int
	MaxSAEIDCount     int

	// PoolMaxSize is the refill target; RefillThreshold the trigger.
	PoolMaxSize     int
	RefillThreshold int

	// CertificateExtension enables the caller certificate block in key
	// container extensions.
	CertificateExtension bool
}

// DefaultKMEConfig returns the configuration of a lab KME.
func DefaultKMEConfig() KMEConfig {
	return KMEConfig{
		KMEID:                DefaultKMEID,
		DefaultKeySizeBits:   DefaultKeySizeBits,
		MinKeySizeBits:       DefaultMinKeySizeBits,
		MaxKeySizeBits:       DefaultMaxKeySizeBits,
		MaxKeysPerRequest:    DefaultMaxKeysPerRequest,
		MaxSAEIDCount:        DefaultMaxSAEIDCount,
		PoolMaxSize:          DefaultPoolMaxSize,
		RefillThreshold:      DefaultRefillThreshold,
		CertificateExtension: true,
	}
}

// Validate checks internal consistency of the configuration.
func (c KMEConfig) Validate() error {
	if c.KMEID == "" {
		return &ValidationError{Field: "kme_id", Reason: "must not be empty"}
	}
	for _, s := range []struct {
		name string
		bits int
	}{
		{"default_key_size", c.DefaultKeySizeBits},
		{"min_key_size", c.MinKeySizeBits},
		{"max_key_size", c.MaxKeySizeBits},
	} {
		if s.bits <= 0 || s.bits%8 != 0 {
			return &ValidationError{Field: s.name, Reason: fmt.Sprintf("%d is not a positive multiple of 8", s.bits)}
		}
	}
	if c.MinKeySizeBits > c.DefaultKeySizeBits || c.DefaultKeySizeBits > c.MaxKeySizeBits {
		return &ValidationError{Field: "default_key_size", Reason: fmt.Sprintf("%d outside [%d, %d]", c.DefaultKeySizeBits, c.MinKeySizeBits, c.MaxKeySizeBits)}
	}
	if c.MaxKeysPerRequest < 1 {
		return &ValidationError{Field: "max_keys_per_request", Reason: "must be at least 1"}
	}
	if c.MaxSAEIDCount < 0 {
		return &ValidationError{Field: "max_sae_id_count", Reason: "must not be negative"}
	}
	if c.PoolMaxSize < 1 {
		return &ValidationError{Field: "pool_max_size", Reason: "must be at least 1"}
	}
	if c.RefillThreshold < 0 || c.RefillThreshold > c.PoolMaxSize {
		return &ValidationError{Field: "refill_threshold", Reason: fmt.Sprintf("%d outside [0, %d]", c.RefillThreshold, c.PoolMaxSize)}
	}
	return nil
}
