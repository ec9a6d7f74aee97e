// Package etsihandler adapts the ETSI GS QKD 014 key delivery API onto the
// KME service.
//
// The adapter owns everything HTTP: wire field names, defaults for absent
// request fields, extension handling and the mapping of KME errors to status
// codes. Callers are identified by IdentityMiddleware from the verified TLS
// client certificate (common name, falling back to the first organizational
// unit) and registered with the SAE registry on every request.
//
// The master of enc_keys and status is always the caller; the slave comes
// from the path. For dec_keys the caller is the slave and the path names the
// master.
package etsihandler
