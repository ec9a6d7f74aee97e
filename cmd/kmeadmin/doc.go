// Package main (cmd/kmeadmin) is the operator tool of a KME. It works on the
// store directly, so it takes the same --db-type/--db-dsn/--seal-passphrase
// or --seal-share flags (or --config file) as the server.
//
// Commands:
//
//	stats          key totals, unused keys, active sessions, registered SAEs
//	sessions       the session ledger as YAML (key ids, never key material)
//	saes           registered SAEs with certificate subject and last-seen time
//	refill         top the pool up outside of request traffic
//	export-ledger  archive ledger and registry to --archive-uri
//	show-ledger    print an archived ledger by content id
//	seal-split     split the sealing passphrase into --seal-share operator shares
package main
