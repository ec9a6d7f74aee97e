package interfaces

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ContentID addresses an archived snapshot by the SHA-256 of its bytes.
type ContentID [sha256.Size]byte

// ComputeID returns the id data is archived under.
func ComputeID(data []byte) ContentID {
	return sha256.Sum256(data)
}

// ParseContentID parses the hex form printed by ContentID.String.
func ParseContentID(s string) (ContentID, error) {
	var id ContentID
	if len(s) != hex.EncodedLen(len(id)) {
		return id, fmt.Errorf("invalid content id %q: want %d hex characters", s, hex.EncodedLen(len(id)))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ContentID{}, fmt.Errorf("invalid content id %q: %w", s, err)
	}
	return id, nil
}

func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Matches reports whether data is the content id addresses.
func (id ContentID) Matches(data []byte) bool {
	return ComputeID(data) == id
}

// SnapshotKind namespaces archived snapshots inside a backend.
type SnapshotKind string

const (
	SnapshotLedger   SnapshotKind = "ledger"
	SnapshotRegistry SnapshotKind = "registry"
)

// SnapshotKinds lists every kind a backend must be able to hold.
var SnapshotKinds = []SnapshotKind{SnapshotLedger, SnapshotRegistry}

func (k SnapshotKind) Validate() error {
	switch k {
	case SnapshotLedger, SnapshotRegistry:
		return nil
	default:
		return fmt.Errorf("unsupported snapshot kind %q", string(k))
	}
}

var (
	ErrContentNotFound    = errors.New("content not found")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	// ErrInvalidLocationURI wraps every archive location parse failure.
	ErrInvalidLocationURI = errors.New("invalid archive location")
)

// ArchiveScheme selects the backend of an archive location.
type ArchiveScheme string

const (
	SchemeFile  ArchiveScheme = "file"
	SchemeS3    ArchiveScheme = "s3"
	SchemeIPFS  ArchiveScheme = "ipfs"
	SchemeVault ArchiveScheme = "vault"
)

// ArchiveLocation is a parsed --archive-uri value.
//
//	file:///var/lib/kme/archive
//	s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=&endpoint=&path_style=
//	ipfs://host:5001/kme?timeout=30s
//	vault://host:8200/mount/path?token=&ca=&tls=
type ArchiveLocation struct {
	URI    string
	Scheme ArchiveScheme
	Host   string
	Path   string
	User   *url.Userinfo

	params url.Values
}

// ParseArchiveLocation parses uri and checks that it names everything its
// scheme needs.
func ParseArchiveLocation(uri string) (ArchiveLocation, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return ArchiveLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	loc := ArchiveLocation{
		URI:    uri,
		Scheme: ArchiveScheme(strings.ToLower(u.Scheme)),
		Host:   u.Host,
		Path:   u.Path,
		User:   u.User,
		params: u.Query(),
	}

	switch loc.Scheme {
	case SchemeFile:
		if loc.Host == "" && loc.Path == "" {
			return ArchiveLocation{}, fmt.Errorf("%w: %s has no directory", ErrInvalidLocationURI, uri)
		}
	case SchemeS3:
		if loc.Host == "" {
			return ArchiveLocation{}, fmt.Errorf("%w: %s has no bucket", ErrInvalidLocationURI, uri)
		}
	case SchemeIPFS:
		if loc.Host == "" {
			return ArchiveLocation{}, fmt.Errorf("%w: %s has no API host", ErrInvalidLocationURI, uri)
		}
	case SchemeVault:
		if loc.Host == "" || strings.Trim(loc.Path, "/") == "" {
			return ArchiveLocation{}, fmt.Errorf("%w: %s needs a host and a KV mount", ErrInvalidLocationURI, uri)
		}
	default:
		return ArchiveLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, u.Scheme)
	}
	return loc, nil
}

func (loc ArchiveLocation) String() string {
	return loc.URI
}

// Param returns a query parameter, or "" when absent.
func (loc ArchiveLocation) Param(name string) string {
	return loc.params.Get(name)
}

// BoolParam returns a boolean query parameter, def when absent.
func (loc ArchiveLocation) BoolParam(name string, def bool) (bool, error) {
	raw := loc.params.Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidLocationURI, name, raw)
	}
	return v, nil
}

// DurationParam returns a duration query parameter, def when absent.
func (loc ArchiveLocation) DurationParam(name string, def time.Duration) (time.Duration, error) {
	raw := loc.params.Get(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s=%q is not a positive duration", ErrInvalidLocationURI, name, raw)
	}
	return d, nil
}

// StorageBackend stores snapshots under their content id.
type StorageBackend interface {
	Fetch(ctx context.Context, id ContentID, kind SnapshotKind) ([]byte, error)
	Store(ctx context.Context, data []byte, kind SnapshotKind) (ContentID, error)
	Available(ctx context.Context) bool
	// Name identifies the backend in logs.
	Name() string
	LocationURI() string
}

// StorageBackendFactory turns archive locations into backends.
type StorageBackendFactory interface {
	StorageBackendFor(loc ArchiveLocation) (StorageBackend, error)
	// CreateMultiBackend replicates over every location it can instantiate.
	CreateMultiBackend(locs []ArchiveLocation) (StorageBackend, error)
	// WithTLSAuth sets the client certificate backends authenticate with.
	WithTLSAuth(func() (tls.Certificate, error)) StorageBackendFactory
}
