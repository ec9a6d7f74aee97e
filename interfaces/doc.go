// Package interfaces defines the domain types and contracts shared by the
// KME components, separating interface definitions from implementations.
//
// # Domain Types
//
// Key, KeyPool, Session and SAEIdentity model the records a KME keeps.
// PoolStatus and LedgerStats are read-only views built from them.
// KMEConfig carries the service tunables and validates them once at startup.
//
// # Errors
//
// The error taxonomy is transport independent: ValidationError,
// NotFoundError, AuthorizationError, StorageError and ErrPoolExhausted.
// Adapters map them onto their own status codes with errors.Is and
// errors.As.
//
// # Store Interfaces
//
// KeyStore is the single authoritative store for keys, sessions and SAE
// registrations. Mutations of the key pool happen inside KeyStore.Update,
// whose KeyStoreTx serializes writers through LockPool.
//
// # Archive Interfaces
//
// StorageBackend provides content-addressed storage (file, S3, IPFS, Vault)
// used to archive snapshots of the session ledger and the SAE registry.
package interfaces
