package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/qkd-kme/interfaces"
)

// IPFSBackend stores archives in the mutable file system (MFS) of an IPFS
// node under /<root>/<type>/<hex id>. Archives stay addressable by their
// sha256 content id while the node pins and replicates the underlying
// blocks.
type IPFSBackend struct {
	shell       *shell.Shell
	apiAddr     string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend connects to the node API at host:port. root defaults to
// /kme.
func NewIPFSBackend(host, port, root string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: ipfs host is required", interfaces.ErrInvalidLocationURI)
	}
	if port == "" {
		port = "5001"
	}
	root = "/" + strings.Trim(root, "/")
	if root == "/" {
		root = "/kme"
	}

	apiAddr := host + ":" + port
	sh := shell.NewShell(apiAddr)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}

	return &IPFSBackend{
		shell:       sh,
		apiAddr:     apiAddr,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s?timeout=%s", apiAddr, root, timeout),
	}, nil
}

func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID, kind interfaces.SnapshotKind) ([]byte, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	mfsPath := b.mfsPath(id, kind)

	reader, err := b.shell.FilesRead(ctx, mfsPath)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil, interfaces.ErrContentNotFound
		}
		b.log.Error("Failed to read archive from IPFS", slog.String("path", mfsPath), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive from IPFS: %w", err)
	}
	if err := verifyContent(id, data); err != nil {
		return nil, err
	}

	b.log.Debug("Fetched archive from IPFS",
		slog.String("path", mfsPath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

func (b *IPFSBackend) Store(ctx context.Context, data []byte, kind interfaces.SnapshotKind) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	if err := kind.Validate(); err != nil {
		return id, err
	}

	mfsPath := b.mfsPath(id, kind)
	err := b.shell.FilesWrite(ctx, mfsPath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true),
	)
	if err != nil {
		return id, fmt.Errorf("%w: failed to write archive to IPFS: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored archive in IPFS", slog.String("path", mfsPath), slog.String("contentID", id.String()))
	return id, nil
}

func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

func (b *IPFSBackend) Name() string {
	return "ipfs-" + b.apiAddr
}

func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) mfsPath(id interfaces.ContentID, kind interfaces.SnapshotKind) string {
	return path.Join(b.root, objectName(id, kind))
}
