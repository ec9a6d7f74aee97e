package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ruteri/qkd-kme/cryptoutils"
	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/uptrace/bun"
)

const poolRowID = 1

type keyRow struct {
	bun.BaseModel `bun:"table:qkd_keys"`

	KeyID     string     `bun:"key_id,pk"`
	Seq       int64      `bun:"seq"`
	Material  []byte     `bun:"material"`
	Sealed    bool       `bun:"sealed"`
	SizeBits  int        `bun:"size_bits"`
	CreatedAt time.Time  `bun:"created_at"`
	ExpiresAt *time.Time `bun:"expires_at"`
	Used      bool       `bun:"used"`
	MasterID  string     `bun:"master_id"`
	SlaveIDs  string     `bun:"slave_ids"`
}

type sessionRow struct {
	bun.BaseModel `bun:"table:qkd_sessions"`

	SessionID string     `bun:"session_id,pk"`
	Seq       int64      `bun:"seq"`
	MasterID  string     `bun:"master_id"`
	SlaveIDs  string     `bun:"slave_ids"`
	KeyIDs    string     `bun:"key_ids"`
	CreatedAt time.Time  `bun:"created_at"`
	ExpiresAt *time.Time `bun:"expires_at"`
	Active    bool       `bun:"active"`
}

type saeRow struct {
	bun.BaseModel `bun:"table:sae_registry"`

	SAEID              string    `bun:"sae_id,pk"`
	CertificateSubject string    `bun:"certificate_subject"`
	CertificateSerial  string    `bun:"certificate_serial"`
	RegisteredAt       time.Time `bun:"registered_at"`
	LastSeenAt         time.Time `bun:"last_seen_at"`
	Active             bool      `bun:"active"`
}

type poolRow struct {
	bun.BaseModel `bun:"table:key_pool"`

	ID              int        `bun:"id,pk"`
	Revision        int64      `bun:"revision"`
	MaxSize         int        `bun:"max_size"`
	KeySizeBits     int        `bun:"key_size_bits"`
	RefillThreshold int        `bun:"refill_threshold"`
	CurrentSize     int        `bun:"current_size"`
	LastRefillAt    *time.Time `bun:"last_refill_at"`
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeIDs(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("malformed id list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

func newKeyRow(k interfaces.Key, seq int64, sealer *cryptoutils.Sealer) (keyRow, error) {
	slaves, err := encodeIDs(k.SlaveIDs)
	if err != nil {
		return keyRow{}, err
	}

	material := k.Material
	if sealer != nil {
		material, err = sealer.Seal(k.ID, k.Material)
		if err != nil {
			return keyRow{}, err
		}
	}

	return keyRow{
		KeyID:     k.ID,
		Seq:       seq,
		Material:  material,
		Sealed:    sealer != nil,
		SizeBits:  k.SizeBits,
		CreatedAt: k.CreatedAt.UTC(),
		ExpiresAt: k.ExpiresAt,
		Used:      k.Used,
		MasterID:  k.MasterID,
		SlaveIDs:  slaves,
	}, nil
}

func (r keyRow) toKey(sealer *cryptoutils.Sealer) (interfaces.Key, error) {
	slaves, err := decodeIDs(r.SlaveIDs)
	if err != nil {
		return interfaces.Key{}, fmt.Errorf("key %s: %w", r.KeyID, err)
	}

	material := r.Material
	if r.Sealed {
		if sealer == nil {
			return interfaces.Key{}, fmt.Errorf("key %s is sealed and no sealer is configured", r.KeyID)
		}
		material, err = sealer.Unseal(r.KeyID, r.Material)
		if err != nil {
			return interfaces.Key{}, fmt.Errorf("key %s: %w", r.KeyID, err)
		}
	}

	return interfaces.Key{
		ID:        r.KeyID,
		Material:  material,
		SizeBits:  r.SizeBits,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		Used:      r.Used,
		MasterID:  r.MasterID,
		SlaveIDs:  slaves,
	}, nil
}

func newSessionRow(s interfaces.Session, seq int64) (sessionRow, error) {
	slaves, err := encodeIDs(s.SlaveIDs)
	if err != nil {
		return sessionRow{}, err
	}
	keys, err := encodeIDs(s.KeyIDs)
	if err != nil {
		return sessionRow{}, err
	}
	return sessionRow{
		SessionID: s.ID,
		Seq:       seq,
		MasterID:  s.MasterID,
		SlaveIDs:  slaves,
		KeyIDs:    keys,
		CreatedAt: s.CreatedAt.UTC(),
		ExpiresAt: s.ExpiresAt,
		Active:    s.Active,
	}, nil
}

func (r sessionRow) toSession() (interfaces.Session, error) {
	slaves, err := decodeIDs(r.SlaveIDs)
	if err != nil {
		return interfaces.Session{}, fmt.Errorf("session %s: %w", r.SessionID, err)
	}
	keys, err := decodeIDs(r.KeyIDs)
	if err != nil {
		return interfaces.Session{}, fmt.Errorf("session %s: %w", r.SessionID, err)
	}
	return interfaces.Session{
		ID:        r.SessionID,
		MasterID:  r.MasterID,
		SlaveIDs:  slaves,
		KeyIDs:    keys,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		Active:    r.Active,
	}, nil
}

func (r saeRow) toIdentity() interfaces.SAEIdentity {
	return interfaces.SAEIdentity{
		ID:                 r.SAEID,
		CertificateSubject: r.CertificateSubject,
		CertificateSerial:  r.CertificateSerial,
		RegisteredAt:       r.RegisteredAt,
		LastSeenAt:         r.LastSeenAt,
		Active:             r.Active,
	}
}

func (r poolRow) toPool() interfaces.KeyPool {
	return interfaces.KeyPool{
		CurrentSize:        r.CurrentSize,
		MaxSize:            r.MaxSize,
		DefaultKeySizeBits: r.KeySizeBits,
		RefillThreshold:    r.RefillThreshold,
		LastRefillAt:       r.LastRefillAt,
	}
}
