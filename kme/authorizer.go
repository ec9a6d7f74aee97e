package kme

import (
	"context"
	"log/slog"

	"github.com/ruteri/qkd-kme/interfaces"
)

// authorizedFor is the single retrieval rule: slave must be one of the key's
// slaves and master must be the key's master.
func authorizedFor(k interfaces.Key, slave, master string) bool {
	return k.Used && k.MasterID != "" && k.MasterID == master && k.HasSlave(slave)
}

// Authorizer answers retrieval pre-checks without exposing key material.
// It only reads ownership fields.
type Authorizer struct {
	store interfaces.KeyStore
	log   *slog.Logger
}

func NewAuthorizer(store interfaces.KeyStore, log *slog.Logger) *Authorizer {
	return &Authorizer{store: store, log: log}
}

// IsAuthorized reports whether slave may fetch every key in keyIDs given
// master as the counterpart. Unknown ids, an empty list and store failures
// all yield false.
func (a *Authorizer) IsAuthorized(ctx context.Context, slave string, keyIDs []string, master string) bool {
	ids, err := uniqueKeyIDs(keyIDs)
	if err != nil {
		return false
	}

	found, err := a.store.KeysByID(ctx, ids)
	if err != nil {
		a.log.Error("Authorization lookup failed", "err", err)
		return false
	}

	for _, id := range ids {
		k, ok := found[id]
		if !ok || !authorizedFor(k, slave, master) {
			return false
		}
	}
	return true
}
