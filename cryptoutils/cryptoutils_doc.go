// Package cryptoutils provides the cryptographic helpers around the KME:
// at-rest sealing of key material and the X.509 plumbing of the mutually
// authenticated ETSI API.
//
// # Material Sealing
//
// Sealer encrypts key material before it reaches the store. The sealing key
// is derived from an operator passphrase with Argon2id and used with
// XChaCha20-Poly1305:
//
//   - Argon2id (time=1, memory=64MiB, threads=4) for key derivation
//   - a random 24-byte nonce per record
//   - the key id bound as additional data
//
// The passphrase can be held by operators as Shamir shares instead.
// SplitPassphrase produces them and CombineShares reconstructs the
// passphrase from any threshold of them at startup.
//
// # SAE Identity
//
// SAEIdentityFromCertificate turns a verified client certificate into the
// SAE id the KME authorizes against: the subject common name, or the first
// organizational unit when no common name is set.
//
// # Lab Certificate Authority
//
// CertificateAuthority creates a self-signed P-256 CA and issues server
// certificates for KMEs and client certificates for SAEs, either from a CSR
// or from a freshly generated key.
//
// # PEM Types
//
//   - TLSCSR: Certificate signing request
//   - TLSCert: Leaf certificate
//   - CACert: CA certificate, also usable as a trust pool
package cryptoutils
