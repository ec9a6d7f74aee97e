package kme

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruteri/qkd-kme/interfaces"
)

// Registry keeps audit records of the SAE identities that reached the KME.
// It trusts the identity it is handed and never inspects certificates.
type Registry struct {
	store interfaces.KeyStore
	log   *slog.Logger
	now   func() time.Time
}

func NewRegistry(store interfaces.KeyStore, log *slog.Logger) *Registry {
	return &Registry{store: store, log: log, now: time.Now}
}

// Upsert creates the identity on first sight and refreshes subject, serial
// and last-seen time afterwards.
func (r *Registry) Upsert(ctx context.Context, id, subject, serial string) (interfaces.SAEIdentity, error) {
	identity, err := r.store.UpsertSAE(ctx, id, subject, serial, r.now())
	if err != nil {
		return interfaces.SAEIdentity{}, err
	}

	if identity.RegisteredAt.Equal(identity.LastSeenAt) {
		r.log.Info("Registered SAE", "saeID", id, "subject", subject)
	}
	return identity, nil
}

func (r *Registry) List(ctx context.Context) ([]interfaces.SAEIdentity, error) {
	return r.store.SAEIdentities(ctx)
}
