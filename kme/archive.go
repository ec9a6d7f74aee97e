package kme

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/qkd-kme/interfaces"
)

// LedgerSnapshot is the archived form of the session ledger. It never
// contains key material.
type LedgerSnapshot struct {
	KMEID      string            `json:"kme_id" yaml:"kme_id"`
	ExportedAt time.Time         `json:"exported_at" yaml:"exported_at"`
	Stats      SnapshotStats     `json:"stats" yaml:"stats"`
	Sessions   []SessionSnapshot `json:"sessions" yaml:"sessions"`
}

type SnapshotStats struct {
	TotalKeys      int        `json:"total_keys" yaml:"total_keys"`
	UnusedKeys     int        `json:"unused_keys" yaml:"unused_keys"`
	UsedKeys       int        `json:"used_keys" yaml:"used_keys"`
	ActiveSessions int        `json:"active_sessions" yaml:"active_sessions"`
	RegisteredSAEs int        `json:"registered_saes" yaml:"registered_saes"`
	LastRefillAt   *time.Time `json:"last_refill_at,omitempty" yaml:"last_refill_at,omitempty"`
}

type SessionSnapshot struct {
	ID        string     `json:"session_id" yaml:"session_id"`
	MasterID  string     `json:"master_SAE_ID" yaml:"master_SAE_ID"`
	SlaveIDs  []string   `json:"slave_SAE_IDs" yaml:"slave_SAE_IDs"`
	KeyIDs    []string   `json:"key_IDs" yaml:"key_IDs"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Active    bool       `json:"active" yaml:"active"`
}

// RegistrySnapshot is the archived form of the SAE registry.
type RegistrySnapshot struct {
	KMEID      string        `json:"kme_id" yaml:"kme_id"`
	ExportedAt time.Time     `json:"exported_at" yaml:"exported_at"`
	SAEs       []SAESnapshot `json:"saes" yaml:"saes"`
}

type SAESnapshot struct {
	ID                 string    `json:"sae_id" yaml:"sae_id"`
	CertificateSubject string    `json:"certificate_subject" yaml:"certificate_subject"`
	CertificateSerial  string    `json:"certificate_serial" yaml:"certificate_serial"`
	RegisteredAt       time.Time `json:"registered_at" yaml:"registered_at"`
	LastSeenAt         time.Time `json:"last_seen_at" yaml:"last_seen_at"`
	Active             bool      `json:"active" yaml:"active"`
}

// LedgerArchiver writes content-addressed snapshots of the session ledger
// and the SAE registry to a storage backend.
type LedgerArchiver struct {
	kmeID   string
	store   interfaces.KeyStore
	backend interfaces.StorageBackend
	log     *slog.Logger
	now     func() time.Time
}

func NewLedgerArchiver(kmeID string, store interfaces.KeyStore, backend interfaces.StorageBackend, log *slog.Logger) *LedgerArchiver {
	return &LedgerArchiver{
		kmeID:   kmeID,
		store:   store,
		backend: backend,
		log:     log,
		now:     time.Now,
	}
}

// LedgerSnapshot builds the current ledger snapshot without storing it.
func (a *LedgerArchiver) LedgerSnapshot(ctx context.Context) (LedgerSnapshot, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return LedgerSnapshot{}, err
	}
	sessions, err := a.store.Sessions(ctx)
	if err != nil {
		return LedgerSnapshot{}, err
	}

	snapshot := LedgerSnapshot{
		KMEID:      a.kmeID,
		ExportedAt: a.now().UTC(),
		Stats: SnapshotStats{
			TotalKeys:      stats.TotalKeys,
			UnusedKeys:     stats.UnusedKeys,
			UsedKeys:       stats.UsedKeys,
			ActiveSessions: stats.ActiveSessions,
			RegisteredSAEs: stats.RegisteredSAEs,
			LastRefillAt:   stats.LastRefillAt,
		},
		Sessions: make([]SessionSnapshot, 0, len(sessions)),
	}
	for _, s := range sessions {
		snapshot.Sessions = append(snapshot.Sessions, SessionSnapshot{
			ID:        s.ID,
			MasterID:  s.MasterID,
			SlaveIDs:  s.SlaveIDs,
			KeyIDs:    s.KeyIDs,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Active:    s.Active,
		})
	}
	return snapshot, nil
}

// ArchiveLedger stores a ledger snapshot and returns its content id.
func (a *LedgerArchiver) ArchiveLedger(ctx context.Context) (interfaces.ContentID, error) {
	snapshot, err := a.LedgerSnapshot(ctx)
	if err != nil {
		return interfaces.ContentID{}, err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("failed to encode ledger snapshot: %w", err)
	}

	id, err := a.backend.Store(ctx, data, interfaces.SnapshotLedger)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("failed to store ledger snapshot in %s: %w", a.backend.Name(), err)
	}

	a.log.Info("Archived session ledger", "contentID", id.String(), "sessions", len(snapshot.Sessions), "backend", a.backend.Name())
	return id, nil
}

// ArchiveRegistry stores a registry snapshot and returns its content id.
func (a *LedgerArchiver) ArchiveRegistry(ctx context.Context) (interfaces.ContentID, error) {
	identities, err := a.store.SAEIdentities(ctx)
	if err != nil {
		return interfaces.ContentID{}, err
	}

	snapshot := RegistrySnapshot{
		KMEID:      a.kmeID,
		ExportedAt: a.now().UTC(),
		SAEs:       make([]SAESnapshot, 0, len(identities)),
	}
	for _, sae := range identities {
		snapshot.SAEs = append(snapshot.SAEs, SAESnapshot(sae))
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("failed to encode registry snapshot: %w", err)
	}

	id, err := a.backend.Store(ctx, data, interfaces.SnapshotRegistry)
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("failed to store registry snapshot in %s: %w", a.backend.Name(), err)
	}

	a.log.Info("Archived SAE registry", "contentID", id.String(), "saes", len(snapshot.SAEs), "backend", a.backend.Name())
	return id, nil
}

// FetchLedger loads a previously archived ledger snapshot.
func (a *LedgerArchiver) FetchLedger(ctx context.Context, id interfaces.ContentID) (LedgerSnapshot, error) {
	data, err := a.backend.Fetch(ctx, id, interfaces.SnapshotLedger)
	if err != nil {
		return LedgerSnapshot{}, err
	}

	var snapshot LedgerSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return LedgerSnapshot{}, fmt.Errorf("malformed ledger snapshot %s: %w", id, err)
	}
	return snapshot, nil
}

// Run archives the ledger and the registry every interval until ctx is
// done. Failures are logged and retried on the next tick.
func (a *LedgerArchiver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("archive interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.ArchiveLedger(ctx); err != nil {
				a.log.Error("Ledger archive failed", "err", err)
			}
			if _, err := a.ArchiveRegistry(ctx); err != nil {
				a.log.Error("Registry archive failed", "err", err)
			}
		}
	}
}
