package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockStorageBackend struct {
	mock.Mock
	name string
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
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStorageBackend) Name() string {
	return m.name
}

func (m *MockStorageBackend) LocationURI() string {
	return "mock://" + m.name
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMultiStorageBackend_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{"all backends available", []bool{true, true, true}, true},
		{"some backends available", []bool{false, true, false}, true},
		{"no backends available", []bool{false, false, false}, false},
		{"no backends", []bool{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.StorageBackend
			for i, available := range tt.backends {
				m := &MockStorageBackend{name: fmt.Sprintf("mock-%d", i)}
				m.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, m)
			}

			multi := NewMultiStorageBackend(backends, discardLogger())
			assert.Equal(t, tt.expected, multi.Available(context.Background()))
		})
	}
}

func TestMultiStorageBackend_Fetch(t *testing.T) {
	testData := []byte(`{"kme_id":"KME_A"}`)
	testID := interfaces.ComputeID(testData)
	testErr := errors.New("connection reset")
	ledger := interfaces.SnapshotLedger

	tests := []struct {
		name        string
		setupMocks  func() []interfaces.StorageBackend
		expected    []byte
		expectedErr error
		anyErr      bool
	}{
		{
			name: "first backend successful",
			setupMocks: func() []interfaces.StorageBackend {
				a := &MockStorageBackend{name: "a"}
				a.On("Available", mock.Anything).Return(true)
				a.On("Fetch", mock.Anything, testID, ledger).Return(testData, nil)
				b := &MockStorageBackend{name: "b"}
				return []interfaces.StorageBackend{a, b}
			},
			expected: testData,
		},
		{
			name: "first backend fails, second succeeds",
			setupMocks: func() []interfaces.StorageBackend {
				a := &MockStorageBackend{name: "a"}
				a.On("Available", mock.Anything).Return(true)
				a.On("Fetch", mock.Anything, testID, ledger).Return(nil, testErr)
				b := &MockStorageBackend{name: "b"}
				b.On("Available", mock.Anything).Return(true)
				b.On("Fetch", mock.Anything, testID, ledger).Return(testData, nil)
				return []interfaces.StorageBackend{a, b}
			},
			expected: testData,
		},
		{
			name: "not found everywhere",
			setupMocks: func() []interfaces.StorageBackend {
				a := &MockStorageBackend{name: "a"}
				a.On("Available", mock.Anything).Return(true)
				a.On("Fetch", mock.Anything, testID, ledger).Return(nil, interfaces.ErrContentNotFound)
				b := &MockStorageBackend{name: "b"}
				b.On("Available", mock.Anything).Return(true)
				b.On("Fetch", mock.Anything, testID, ledger).Return(nil, interfaces.ErrContentNotFound)
				return []interfaces.StorageBackend{a, b}
			},
			expectedErr: interfaces.ErrContentNotFound,
		},
		{
			name: "mixed failures",
			setupMocks: func() []interfaces.StorageBackend {
				a := &MockStorageBackend{name: "a"}
				a.On("Available", mock.Anything).Return(true)
				a.On("Fetch", mock.Anything, testID, ledger).Return(nil, interfaces.ErrContentNotFound)
				b := &MockStorageBackend{name: "b"}
				b.On("Available", mock.Anything).Return(true)
				b.On("Fetch", mock.Anything, testID, ledger).Return(nil, testErr)
				return []interfaces.StorageBackend{a, b}
			},
			expectedErr: testErr,
		},
		{
			name: "unavailable backends are skipped",
			setupMocks: func() []interfaces.StorageBackend {
				a := &MockStorageBackend{name: "a"}
				a.On("Available", mock.Anything).Return(false)
				b := &MockStorageBackend{name: "b"}
				b.On("Available", mock.Anything).Return(true)
				b.On("Fetch", mock.Anything, testID, ledger).Return(testData, nil)
				return []interfaces.StorageBackend{a, b}
			},
			expected: testData,
		},
		{
			name: "nothing available",
			setupMocks: func() []interfaces.StorageBackend {
				a := &MockStorageBackend{name: "a"}
				a.On("Available", mock.Anything).Return(false)
				return []interfaces.StorageBackend{a}
			},
			expectedErr: interfaces.ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			multi := NewMultiStorageBackend(backends, discardLogger())

			data, err := multi.Fetch(context.Background(), testID, ledger)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, data)

			for _, backend := range backends {
				backend.(*MockStorageBackend).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_Store(t *testing.T) {
	testData := []byte(`{"kme_id":"KME_A"}`)
	testID := interfaces.ComputeID(testData)
	testErr := errors.New("access denied")
	registry := interfaces.SnapshotRegistry

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.StorageBackend
		expectedError bool
	}{
		{
			name: "all backends successful",
			setupMocks: func() []interfaces.StorageBackend {
				a := &MockStorageBackend{name: "a"}
				a.On("Available", mock.Anything).Return(true)
				a.On("Store", mock.Anything, testData, registry).Return(testID, nil)
				b := &MockStorageBackend{name: "b"}
				b.On("Available", mock.Anything).Return(true)
				b.On("Store", mock.Anything, testData, registry).Return(testID, nil)
				return []interfaces.StorageBackend{a, b}
			},
		},
		{
			name: "some backends fail",
			setupMocks: func() []interfaces.StorageBackend {
				a := &MockStorageBackend{name: "a"}
				a.On("Available", mock.Anything).Return(true)
				a.On("Store", mock.Anything, testData, registry).Return(testID, nil)
				b := &MockStorageBackend{name: "b"}
				b.On("Available", mock.Anything).Return(true)
				b.On("Store", mock.Anything, testData, registry).Return(interfaces.ContentID{}, testErr)
				return []interfaces.StorageBackend{a, b}
			},
		},
		{
			name: "all backends fail",
			setupMocks: func() []interfaces.StorageBackend {
				a := &MockStorageBackend{name: "a"}
				a.On("Available", mock.Anything).Return(true)
				a.On("Store", mock.Anything, testData, registry).Return(interfaces.ContentID{}, testErr)
				b := &MockStorageBackend{name: "b"}
				b.On("Available", mock.Anything).Return(true)
				b.On("Store", mock.Anything, testData, registry).Return(interfaces.ContentID{}, testErr)
				return []interfaces.StorageBackend{a, b}
			},
			expectedError: true,
		},
		{
			name: "mismatching id does not count as stored",
			setupMocks: func() []interfaces.StorageBackend {
				a := &MockStorageBackend{name: "a"}
				a.On("Available", mock.Anything).Return(true)
				a.On("Store", mock.Anything, testData, registry).Return(interfaces.ContentID{1}, nil)
				return []interfaces.StorageBackend{a}
			},
			expectedError: true,
		},
		{
			name: "unavailable backends are skipped",
			setupMocks: func() []interfaces.StorageBackend {
				a := &MockStorageBackend{name: "a"}
				a.On("Available", mock.Anything).Return(false)
				b := &MockStorageBackend{name: "b"}
				b.On("Available", mock.Anything).Return(true)
				b.On("Store", mock.Anything, testData, registry).Return(testID, nil)
				return []interfaces.StorageBackend{a, b}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends := tt.setupMocks()
			multi := NewMultiStorageBackend(backends, discardLogger())

			id, err := multi.Store(context.Background(), testData, registry)
			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, testID, id)

			for _, backend := range backends {
				backend.(*MockStorageBackend).AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageBackend_LocationURI(t *testing.T) {
	multi := NewMultiStorageBackend([]interfaces.StorageBackend{
		&MockStorageBackend{name: "a"},
		&MockStorageBackend{name: "b"},
	}, nil)
	assert.Equal(t, "multi:[mock://a,mock://b]", multi.LocationURI())
}
