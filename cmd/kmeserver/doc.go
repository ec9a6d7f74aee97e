// Package main (cmd/kmeserver) runs a Key Management Entity serving the
// ETSI GS QKD 014 key delivery API.
//
// On start the server opens the key store (sqlite by default, postgres or
// mysql through --db-type/--db-dsn), tops the key pool up and serves
// status, enc_keys and dec_keys under /api/v1/keys. SAEs are identified by
// their TLS client certificate, which must chain to --client-ca. For local
// experiments --insecure-sae-header trusts an X-SAE-ID header instead.
//
// Every flag can also be set through a KME_* environment variable or a YAML
// file passed with --config. Prometheus metrics are served on
// --metrics-addr. With --archive-uri the session ledger and SAE registry are
// archived periodically to file, s3, ipfs or vault storage.
//
// Example usage:
//
//	kme-server --kme-id=KME_A \
//	    --listen-addr=0.0.0.0:8443 \
//	    --tls-cert=kme-a.pem --tls-key=kme-a.key --client-ca=ca.pem \
//	    --db-dsn=/var/lib/kme/kme.db --seal-passphrase="$PASSPHRASE" \
//	    --archive-uri=file:///var/lib/kme/archive
//
// Operators holding shares from "kme-admin seal-split" pass them instead of
// the passphrase, as repeated --seal-share flags or a comma separated
// KME_SEAL_SHARES.
package main
