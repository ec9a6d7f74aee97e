package interfaces

import (
	"encoding/base64"
	"slices"
	"time"
)

// Key is a single unit of symmetric key material held by the KME.
//
// Once Used is set the binding fields (MasterID, SlaveIDs) never change again
// and the material is only ever handed to the master or one of the slaves.
type Key struct {
	ID        string
	Material  []byte
	SizeBits  int
	CreatedAt time.Time
	ExpiresAt *time.Time

	Used     bool
	MasterID string
	SlaveIDs []string
}

// MaterialBase64 returns the standard base64 encoding of the key material.
func (k Key) MaterialBase64() string {
	return base64.StdEncoding.EncodeToString(k.Material)
}

// HasSlave reports whether saeID is one of the slaves the key is bound to.
func (k Key) HasSlave(saeID string) bool {
	return slices.Contains(k.SlaveIDs, saeID)
}

// KeyPool is the replenishment bookkeeping of the default-size key supply.
//
// CurrentSize counts unused keys of DefaultKeySizeBits only; it is recomputed
// by the store inside every refill or allocation.
type KeyPool struct {
	CurrentSize        int
	MaxSize            int
	DefaultKeySizeBits int
	RefillThreshold    int
	LastRefillAt       *time.Time
}

// NeedsRefill reports whether the pool has dropped under its threshold.
func (p KeyPool) NeedsRefill() bool {
	return p.CurrentSize < p.RefillThreshold
}

// Deficit is the number of keys needed to bring the pool back to MaxSize.
func (p KeyPool) Deficit() int {
	if p.CurrentSize >= p.MaxSize {
		return 0
	}
	return p.MaxSize - p.CurrentSize
}

// Session records one successful allocation.
type Session struct {
	ID        string
	MasterID  string
	SlaveIDs  []string
	KeyIDs    []string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Active    bool
}

// SAEIdentity is what the registry knows about a Secure Application Entity.
type SAEIdentity struct {
	ID                 string
	CertificateSubject string
	CertificateSerial  string
	RegisteredAt       time.Time
	LastSeenAt         time.Time
	Active             bool
}

// PoolStatus is the read-only view returned for a master/slave pair.
type PoolStatus struct {
	SourceKMEID       string
	TargetKMEID       string
	MasterSAEID       string
	SlaveSAEID        string
	KeySize           int
	StoredKeyCount    int
	MaxKeyCount       int
	MaxKeysPerRequest int
	MaxKeySize        int
	MinKeySize        int
	MaxSAEIDCount     int
}

// LedgerStats summarises the store for operators.
type LedgerStats struct {
	TotalKeys      int
	UnusedKeys     int
	UsedKeys       int
	ActiveSessions int
	RegisteredSAEs int
	LastRefillAt   *time.Time
}

// SlaveSet merges the primary slave with additional slaves, dropping
// duplicates and empty ids while keeping first-seen order.
func SlaveSet(slave string, additional []string) []string {
	out := make([]string, 0, 1+len(additional))
	for _, id := range append([]string{slave}, additional...) {
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
