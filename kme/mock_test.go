package kme

import (
	"context"
	"time"

	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockKeyStore mocks interfaces.KeyStore for failure paths.
type MockKeyStore struct {
	mock.Mock
}

func (m *MockKeyStore) Update(ctx context.Context, fn func(tx interfaces.KeyStoreTx) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

func (m *MockKeyStore) Append(ctx context.Context, keys []interfaces.Key) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func (m *MockKeyStore) All(ctx context.Context) ([]interfaces.Key, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.Key), args.Error(1)
}

func (m *MockKeyStore) KeysByID(ctx context.Context, ids []string) (map[string]interfaces.Key, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interfaces.Key), args.Error(1)
}

func (m *MockKeyStore) UnusedCount(ctx context.Context, sizeBits int) (int, error) {
	args := m.Called(ctx, sizeBits)
	return args.Int(0), args.Error(1)
}

func (m *MockKeyStore) Pool(ctx context.Context) (interfaces.KeyPool, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.KeyPool), args.Error(1)
}

func (m *MockKeyStore) Sessions(ctx context.Context) ([]interfaces.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.Session), args.Error(1)
}

func (m *MockKeyStore) Stats(ctx context.Context) (interfaces.LedgerStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.LedgerStats), args.Error(1)
}

func (m *MockKeyStore) UpsertSAE(ctx context.Context, id, subject, serial string, seen time.Time) (interfaces.SAEIdentity, error) {
	args := m.Called(ctx, id, subject, serial, seen)
	return args.Get(0).(interfaces.SAEIdentity), args.Error(1)
}

func (m *MockKeyStore) SAEIdentities(ctx context.Context) ([]interfaces.SAEIdentity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.SAEIdentity), args.Error(1)
}

func (m *MockKeyStore) Close() error {
	return m.Called().Error(0)
}

// MockStorageBackend mocks interfaces.StorageBackend.
type MockStorageBackend struct {
	mock.Mock
}

func (m *MockStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, kind interfaces.SnapshotKind) ([]byte, error) {
	args := m.Called(ctx, id, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorageBackend) Store(ctx context.Context, data []byte, kind interfaces.SnapshotKind) (interfaces.ContentID, error) {
	args := m.Called(ctx, data, kind)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}

func (m *MockStorageBackend) Available(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockStorageBackend) Name() string {
	return "mock"
}

func (m *MockStorageBackend) LocationURI() string {
	return "mock:"
}
