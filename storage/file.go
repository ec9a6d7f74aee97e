package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/qkd-kme/interfaces"
)

// FileBackend stores archives under a local directory, one subdirectory per
// snapshot kind. Files are written through a temporary file and renamed into
// place so readers never see partial archives.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	for _, kind := range interfaces.SnapshotKinds {
		if err := os.MkdirAll(filepath.Join(baseDir, string(kind)), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", kind, err)
		}
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: "file://" + baseDir,
	}, nil
}

// Fetch returns ErrContentNotFound when no archive with id exists.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ContentID, kind interfaces.SnapshotKind) ([]byte, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	filePath := b.path(id, kind)
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrContentNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	if err := verifyContent(id, data); err != nil {
		b.log.Error("Archive on disk is corrupted", slog.String("path", filePath))
		return nil, err
	}

	b.log.Debug("Fetched archive from file", slog.String("path", filePath), slog.Int("size", len(data)))
	return data, nil
}

func (b *FileBackend) Store(ctx context.Context, data []byte, kind interfaces.SnapshotKind) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	if err := kind.Validate(); err != nil {
		return id, err
	}

	filePath := b.path(id, kind)
	if _, err := os.Stat(filePath); err == nil {
		return id, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".archive-*")
	if err != nil {
		return id, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return id, fmt.Errorf("failed to write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return id, fmt.Errorf("failed to write archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return id, fmt.Errorf("failed to move archive into place: %w", err)
	}

	b.log.Debug("Stored archive in file", slog.String("path", filePath), slog.String("contentID", id.String()))
	return id, nil
}

func (b *FileBackend) Available(ctx context.Context) bool {
	info, err := os.Stat(b.baseDir)
	if err != nil || !info.IsDir() {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *FileBackend) Name() string {
	return "file-" + filepath.Base(b.baseDir)
}

func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) path(id interfaces.ContentID, kind interfaces.SnapshotKind) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(objectName(id, kind)))
}
