// Package store persists the key pool, the session ledger and the SAE
// registry of a KME in a relational database through bun.
//
// # Databases
//
// Open accepts the database types sqlite (modernc.org/sqlite, the default
// and the only one needing no external server), postgres (pgx) and mysql
// (go-sql-driver). Schema migrations are embedded per dialect and applied
// on open, tracked in schema_migrations.
//
// # Concurrency
//
// All pool mutations run inside Store.Update. The transaction's LockPool
// writes the singleton key_pool row first, which serializes writers across
// connections and processes sharing the database: sqlite takes its database
// writer lock (callers wait up to the busy timeout), postgres and mysql take
// the row lock. Bind additionally refuses to bind a key that is no longer
// unused, so a lost race surfaces as interfaces.ErrConflict instead of a
// double allocation.
//
// Reads outside Update are unsynchronized and observe every committed write.
//
// # Sealing
//
// With WithSealer the material column holds XChaCha20-Poly1305 sealed bytes
// bound to the key id; reads unseal transparently.
package store
