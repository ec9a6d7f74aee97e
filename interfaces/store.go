package interfaces

import (
	"context"
	"time"
)

// KeyStore is the single authoritative store behind a KME: the key pool,
// the session ledger and the SAE registry.
//
// Reads are not synchronized with writers but observe every committed
// write. All mutations of the key pool go through Update.
type KeyStore interface {
	// Update runs fn in one transaction. If fn returns an error nothing
	// fn wrote is persisted.
	Update(ctx context.Context, fn func(tx KeyStoreTx) error) error

	// Append persists freshly generated, unused keys.
	Append(ctx context.Context, keys []Key) error

	// All returns every key record in insertion order.
	All(ctx context.Context) ([]Key, error)
	// KeysByID returns the known keys among ids, indexed by id.
	KeysByID(ctx context.Context, ids []string) (map[string]Key, error)
	UnusedCount(ctx context.Context, sizeBits int) (int, error)
	Pool(ctx context.Context) (KeyPool, error)
	Sessions(ctx context.Context) ([]Session, error)
	Stats(ctx context.Context) (LedgerStats, error)

	// UpsertSAE creates or refreshes a registry entry.
	UpsertSAE(ctx context.Context, id, subject, serial string, seen time.Time) (SAEIdentity, error)
	SAEIdentities(ctx context.Context) ([]SAEIdentity, error)

	Close() error
}

// KeyStoreTx is the transactional view handed to KeyStore.Update.
type KeyStoreTx interface {
	// LockPool takes the store-wide writer lock and returns the pool
	// bookkeeping with CurrentSize recomputed. It must be the first call
	// of any transaction that appends or binds keys.
	LockPool(ctx context.Context) (KeyPool, error)
	SavePool(ctx context.Context, pool KeyPool) error

	UnusedCount(ctx context.Context, sizeBits int) (int, error)
	Append(ctx context.Context, keys []Key) error

	// SelectUnused returns up to limit unused keys of sizeBits in
	// insertion order.
	SelectUnused(ctx context.Context, sizeBits, limit int) ([]Key, error)

	// Bind marks keys used and records their owners. It fails with
	// ErrConflict if any key is no longer unused.
	Bind(ctx context.Context, keyIDs []string, masterID string, slaveIDs []string) error

	RecordSession(ctx context.Context, session Session) error
}

// KeyGenerator produces fresh, unused key records.
type KeyGenerator interface {
	GenerateN(n, sizeBits int) ([]Key, error)
}
