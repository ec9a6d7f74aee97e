// Package storage archives KME ledger and registry snapshots in
// content-addressed backends.
//
// An archive is identified by the SHA-256 of its bytes and lives at
// "<type>/<hex id>" inside the backend, where type is "ledger" or
// "registry". Fetch re-hashes what it reads and fails with
// ErrContentMismatch when a backend returns different bytes.
//
// Backends are selected by URI:
//
//   - file:///var/lib/kme/archive
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=eu-west-1&endpoint=...&path_style=true
//   - ipfs://host:5001/kme?timeout=30s (MFS path on the node)
//   - vault://host:8200/secret/kme?token=...&ca=/path/ca.pem
//
// Several URIs combine into a MultiStorageBackend that writes to every
// available backend and reads from the first that has the archive. Vault
// backends without a token log in with the KME TLS certificate configured
// through StorageBackendFactory.WithTLSAuth.
package storage
