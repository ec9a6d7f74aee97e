package storage

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/qkd-kme/interfaces"
)

// VaultConfig locates a KV v2 mount used for ledger archives.
type VaultConfig struct {
	// Address of the Vault server, e.g. https://vault.example.com:8200.
	Address string
	// Mount is the KV v2 mount, "secret" by default.
	Mount string
	// Path within the mount archives are written under.
	Path string

	// Token authenticates directly. Without it the client logs in through
	// the TLS certificate auth method using ClientCert.
	Token      string
	ClientCert *tls.Certificate
	// CACertFile verifies the Vault server certificate.
	CACertFile string
}

// VaultBackend stores archives in a Vault KV v2 mount. Blobs are base64
// encoded under the "content" key.
type VaultBackend struct {
	client      *api.Client
	mount       string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

func NewVaultBackend(ctx context.Context, cfg VaultConfig, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	if config.Error != nil {
		return nil, fmt.Errorf("failed to configure Vault client: %w", config.Error)
	}
	config.Address = cfg.Address
	config.Timeout = 30 * time.Second

	if cfg.CACertFile != "" {
		if err := config.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACertFile}); err != nil {
			return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
		}
	}
	if cfg.ClientCert != nil {
		transport, ok := config.HttpClient.Transport.(*http.Transport)
		if !ok || transport.TLSClientConfig == nil {
			return nil, errors.New("unexpected Vault HTTP transport")
		}
		transport.TLSClientConfig.Certificates = []tls.Certificate{*cfg.ClientCert}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	switch {
	case cfg.Token != "":
		client.SetToken(cfg.Token)
	case cfg.ClientCert != nil:
		secret, err := client.Logical().WriteWithContext(ctx, "auth/cert/login", nil)
		if err != nil {
			return nil, fmt.Errorf("%w: Vault certificate login failed: %v", interfaces.ErrBackendUnavailable, err)
		}
		if secret == nil || secret.Auth == nil {
			return nil, errors.New("vault certificate login returned no token")
		}
		client.SetToken(secret.Auth.ClientToken)
	}

	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	dataPath := strings.Trim(cfg.Path, "/")

	return &VaultBackend{
		client:      client,
		mount:       mount,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(cfg.Address, "https://"), "http://"), mount, dataPath),
	}, nil
}

func (b *VaultBackend) Fetch(ctx context.Context, id interfaces.ContentID, kind interfaces.SnapshotKind) ([]byte, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	secretPath := b.secretPath(id, kind)
	secret, err := b.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("path", secretPath), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrContentNotFound
	}

	// KV v2 wraps the stored map in "data".
	fields, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response for %s", secretPath)
	}
	encoded, ok := fields["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data for %s", secretPath)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid content encoding in Vault: %w", err)
	}
	if err := verifyContent(id, data); err != nil {
		return nil, err
	}

	b.log.Debug("Fetched archive from Vault", slog.String("path", secretPath))
	return data, nil
}

func (b *VaultBackend) Store(ctx context.Context, data []byte, kind interfaces.SnapshotKind) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	if err := kind.Validate(); err != nil {
		return id, err
	}

	secretPath := b.secretPath(id, kind)
	_, err := b.client.Logical().WriteWithContext(ctx, secretPath, map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(data),
			"kind":    string(kind),
		},
	})
	if err != nil {
		b.log.Error("Failed to write to Vault", slog.String("path", secretPath), "err", err)
		return id, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored archive in Vault", slog.String("path", secretPath))
	return id, nil
}

// Available requires Vault to be initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mount, b.dataPath)
}

func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath(id interfaces.ContentID, kind interfaces.SnapshotKind) string {
	if b.dataPath == "" {
		return fmt.Sprintf("%s/data/%s", b.mount, objectName(id, kind))
	}
	return fmt.Sprintf("%s/data/%s/%s", b.mount, b.dataPath, objectName(id, kind))
}
