package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/qkd-kme/interfaces"
)

// StorageBackendFactory creates archive backends from location URIs.
type StorageBackendFactory struct {
	log     *slog.Logger
	tlsAuth func() (tls.Certificate, error)
}

var _ interfaces.StorageBackendFactory = (*StorageBackendFactory)(nil)

func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: logger}
}

// WithTLSAuth sets the client certificate Vault backends log in with.
func (sf *StorageBackendFactory) WithTLSAuth(fn func() (tls.Certificate, error)) interfaces.StorageBackendFactory {
	return &StorageBackendFactory{log: sf.log, tlsAuth: fn}
}

// StorageBackendFor creates the backend loc names. See
// interfaces.ArchiveLocation for the URI forms.
func (sf *StorageBackendFactory) StorageBackendFor(loc interfaces.ArchiveLocation) (interfaces.StorageBackend, error) {
	switch loc.Scheme {
	case interfaces.SchemeFile:
		return sf.createFileBackend(loc)
	case interfaces.SchemeS3:
		return sf.createS3Backend(loc)
	case interfaces.SchemeIPFS:
		return sf.createIPFSBackend(loc)
	case interfaces.SchemeVault:
		return sf.createVaultBackend(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateMultiBackend creates a replicating backend over every location that
// could be instantiated. Locations that fail are logged and skipped.
func (sf *StorageBackendFactory) CreateMultiBackend(locs []interfaces.ArchiveLocation) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locs))
	for _, loc := range locs {
		backend, err := sf.StorageBackendFor(loc)
		if err != nil {
			sf.log.Warn("Failed to create storage backend", "err", err, slog.String("location", loc.String()))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewMultiStorageBackend(backends, sf.log), nil
}

// file:///abs/path or file://./relative/path
func (sf *StorageBackendFactory) createFileBackend(loc interfaces.ArchiveLocation) (interfaces.StorageBackend, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, loc)
	}
	return NewFileBackend(path, sf.log)
}

func (sf *StorageBackendFactory) createS3Backend(loc interfaces.ArchiveLocation) (interfaces.StorageBackend, error) {
	pathStyle, err := loc.BoolParam("path_style", false)
	if err != nil {
		return nil, err
	}
	cfg := S3Config{
		Bucket:    loc.Host,
		Prefix:    strings.TrimPrefix(loc.Path, "/"),
		Region:    loc.Param("region"),
		Endpoint:  loc.Param("endpoint"),
		PathStyle: pathStyle,
	}
	if loc.User != nil {
		cfg.AccessKey = loc.User.Username()
		cfg.SecretKey, _ = loc.User.Password()
	}
	return NewS3Backend(cfg, sf.log)
}

func (sf *StorageBackendFactory) createIPFSBackend(loc interfaces.ArchiveLocation) (interfaces.StorageBackend, error) {
	host, port, _ := strings.Cut(loc.Host, ":")
	timeout, err := loc.DurationParam("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	return NewIPFSBackend(host, port, loc.Path, timeout, sf.log)
}

// The first path segment is the KV v2 mount, the rest the data path.
func (sf *StorageBackendFactory) createVaultBackend(loc interfaces.ArchiveLocation) (interfaces.StorageBackend, error) {
	useTLS, err := loc.BoolParam("tls", true)
	if err != nil {
		return nil, err
	}
	scheme := "https"
	if !useTLS {
		scheme = "http"
	}
	mount, dataPath, _ := strings.Cut(strings.Trim(loc.Path, "/"), "/")

	cfg := VaultConfig{
		Address:    scheme + "://" + loc.Host,
		Mount:      mount,
		Path:       dataPath,
		Token:      loc.Param("token"),
		CACertFile: loc.Param("ca"),
	}
	if cfg.Token == "" && sf.tlsAuth != nil {
		cert, err := sf.tlsAuth()
		if err != nil {
			return nil, fmt.Errorf("failed to load Vault client certificate: %w", err)
		}
		cfg.ClientCert = &cert
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return NewVaultBackend(ctx, cfg, sf.log)
}
