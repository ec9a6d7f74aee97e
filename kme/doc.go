// Package kme implements the key lifecycle of an ETSI GS QKD 014 Key
// Management Entity.
//
// # Service
//
// Service is the only entry point of the protocol adapter. It keeps the key
// pool filled, allocates keys to a master SAE and its slave set, hands keys
// back to authorized slaves and reports pool status:
//
//	svc, _ := kme.NewService(cfg, store, keygen.NewGenerator(), log)
//	keys, err := svc.Allocate(ctx, "SAE_001", "SAE_002", []string{"SAE_003"}, 1, 256)
//	same, err := svc.Retrieve(ctx, "SAE_003", "SAE_001", []string{keys[0].ID})
//
// A key is bound to exactly one master and slave set. Allocate selects and
// binds keys inside one store transaction that holds the pool lock, and the
// bind only succeeds on keys that are still unused, so concurrent callers in
// one or several processes never receive the same key.
//
// # Authorizer
//
// Authorizer answers the retrieval rule as a boolean so the adapter can
// reject a request before any material is read.
//
// # Registry
//
// Registry keeps the audit record of every SAE identity seen by the
// authentication boundary.
//
// # LedgerArchiver
//
// LedgerArchiver exports the session ledger and the SAE registry as JSON
// snapshots to a content-addressed storage backend.
package kme
