package api

import (
	"github.com/ruteri/qkd-kme/interfaces"
)

// APIPrefix is the root of the ETSI GS QKD 014 key delivery API.
const APIPrefix = "/api/v1/keys"

// SAEIDHeader carries the caller identity when the KME runs without client
// certificates. Development only.
const SAEIDHeader = "X-SAE-ID"

// Status is the response body of GET /{slave_SAE_ID}/status.
type Status struct {
	SourceKMEID      string `json:"source_KME_ID"`
	TargetKMEID      string `json:"target_KME_ID"`
	MasterSAEID      string `json:"master_SAE_ID"`
	SlaveSAEID       string `json:"slave_SAE_ID"`
	KeySize          int    `json:"key_size"`
	StoredKeyCount   int    `json:"stored_key_count"`
	MaxKeyCount      int    `json:"max_key_count"`
	MaxKeyPerRequest int    `json:"max_key_per_request"`
	MaxKeySize       int    `json:"max_key_size"`
	MinKeySize       int    `json:"min_key_size"`
	MaxSAEIDCount    int    `json:"max_SAE_ID_count"`

	StatusExtension map[string]any `json:"status_extension,omitempty"`
}

// StatusFromPool converts the service view to the wire form.
func StatusFromPool(s interfaces.PoolStatus) Status {
	return Status{
		SourceKMEID:      s.SourceKMEID,
		TargetKMEID:      s.TargetKMEID,
		MasterSAEID:      s.MasterSAEID,
		SlaveSAEID:       s.SlaveSAEID,
		KeySize:          s.KeySize,
		StoredKeyCount:   s.StoredKeyCount,
		MaxKeyCount:      s.MaxKeyCount,
		MaxKeyPerRequest: s.MaxKeysPerRequest,
		MaxKeySize:       s.MaxKeySize,
		MinKeySize:       s.MinKeySize,
		MaxSAEIDCount:    s.MaxSAEIDCount,
	}
}

// KeyRequest is the body of POST /{slave_SAE_ID}/enc_keys. Absent number
// and size fall back to one key of the default size.
type KeyRequest struct {
	Number                *int             `json:"number,omitempty"`
	Size                  *int             `json:"size,omitempty"`
	AdditionalSlaveSAEIDs []string         `json:"additional_slave_SAE_IDs,omitempty"`
	ExtensionMandatory    []map[string]any `json:"extension_mandatory,omitempty"`
	ExtensionOptional     []map[string]any `json:"extension_optional,omitempty"`
}

// KeyIDs is the body of POST /{master_SAE_ID}/dec_keys.
type KeyIDs struct {
	KeyIDs          []KeyID `json:"key_IDs"`
	KeyIDsExtension any     `json:"key_IDs_extension,omitempty"`
}

type KeyID struct {
	KeyID          string `json:"key_ID"`
	KeyIDExtension any    `json:"key_ID_extension,omitempty"`
}

// IDs returns the key ids in request order.
func (k KeyIDs) IDs() []string {
	ids := make([]string, 0, len(k.KeyIDs))
	for _, id := range k.KeyIDs {
		ids = append(ids, id.KeyID)
	}
	return ids
}

// KeyContainer is the response body of enc_keys and dec_keys.
type KeyContainer struct {
	Keys                  []Key          `json:"keys"`
	KeyContainerExtension map[string]any `json:"key_container_extension,omitempty"`
}

type Key struct {
	KeyID          string `json:"key_ID"`
	Key            string `json:"key"`
	KeyIDExtension any    `json:"key_ID_extension,omitempty"`
	KeyExtension   any    `json:"key_extension,omitempty"`
}

// NewKeyContainer encodes keys with base64 material in the given order.
func NewKeyContainer(keys []interfaces.Key) KeyContainer {
	out := KeyContainer{Keys: make([]Key, 0, len(keys))}
	for _, k := range keys {
		out.Keys = append(out.Keys, Key{KeyID: k.ID, Key: k.MaterialBase64()})
	}
	return out
}

// CertificateExtension describes the certificate a caller authenticated with.
type CertificateExtension struct {
	SAEID   string `json:"sae_id"`
	Subject string `json:"subject,omitempty"`
	Serial  string `json:"serial,omitempty"`
}

// Error is the ETSI error body.
type Error struct {
	Message string           `json:"message"`
	Details []map[string]any `json:"details,omitempty"`
}
