package kme

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestArchiveLedger(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, nil)

	keys, err := svc.Allocate(ctx, "M", "S", []string{"T"}, 2, 256)
	require.NoError(t, err)

	var stored []byte
	backend := &MockStorageBackend{}
	backend.On("Store", ctx, mock.Anything, interfaces.SnapshotLedger).
		Run(func(args mock.Arguments) { stored = args.Get(1).([]byte) }).
		Return(interfaces.ContentID{1}, nil)

	archiver := NewLedgerArchiver("KME_TEST", st, backend, testLogger())
	archiver.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	id, err := archiver.ArchiveLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ContentID{1}, id)

	var snapshot LedgerSnapshot
	require.NoError(t, json.Unmarshal(stored, &snapshot))
	assert.Equal(t, "KME_TEST", snapshot.KMEID)
	assert.Equal(t, 10, snapshot.Stats.TotalKeys)
	assert.Equal(t, 2, snapshot.Stats.UsedKeys)
	require.Len(t, snapshot.Sessions, 1)
	assert.Equal(t, "M", snapshot.Sessions[0].MasterID)
	assert.Equal(t, []string{"S", "T"}, snapshot.Sessions[0].SlaveIDs)
	assert.Equal(t, []string{keys[0].ID, keys[1].ID}, snapshot.Sessions[0].KeyIDs)

	// Material never leaves the store through the archive.
	assert.NotContains(t, string(stored), keys[0].MaterialBase64())

	backend.On("Fetch", ctx, id, interfaces.SnapshotLedger).Return(stored, nil)
	fetched, err := archiver.FetchLedger(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Sessions, fetched.Sessions)

	backend.AssertExpectations(t)
}

func TestArchiveRegistry(t *testing.T) {
	ctx := context.Background()
	_, st := newTestService(t, nil)
	_, err := NewRegistry(st, testLogger()).Upsert(ctx, "SAE_001", "CN=SAE_001", "01")
	require.NoError(t, err)

	var stored []byte
	backend := &MockStorageBackend{}
	backend.On("Store", ctx, mock.Anything, interfaces.SnapshotRegistry).
		Run(func(args mock.Arguments) { stored = args.Get(1).([]byte) }).
		Return(interfaces.ContentID{2}, nil)

	_, err = NewLedgerArchiver("KME_TEST", st, backend, testLogger()).ArchiveRegistry(ctx)
	require.NoError(t, err)

	var snapshot RegistrySnapshot
	require.NoError(t, json.Unmarshal(stored, &snapshot))
	require.Len(t, snapshot.SAEs, 1)
	assert.Equal(t, "SAE_001", snapshot.SAEs[0].ID)
	assert.Equal(t, "01", snapshot.SAEs[0].CertificateSerial)
}

func TestArchiveBackendFailure(t *testing.T) {
	ctx := context.Background()
	_, st := newTestService(t, nil)

	backend := &MockStorageBackend{}
	backend.On("Store", ctx, mock.Anything, interfaces.SnapshotLedger).
		Return(interfaces.ContentID{}, interfaces.ErrBackendUnavailable)

	_, err := NewLedgerArchiver("KME_TEST", st, backend, testLogger()).ArchiveLedger(ctx)
	assert.True(t, errors.Is(err, interfaces.ErrBackendUnavailable))
}

func TestFetchLedgerRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	_, st := newTestService(t, nil)

	backend := &MockStorageBackend{}
	backend.On("Fetch", ctx, interfaces.ContentID{3}, interfaces.SnapshotLedger).Return([]byte("not json"), nil)

	_, err := NewLedgerArchiver("KME_TEST", st, backend, testLogger()).FetchLedger(ctx, interfaces.ContentID{3})
	assert.Error(t, err)
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	_, st := newTestService(t, nil)
	archiver := NewLedgerArchiver("KME_TEST", st, &MockStorageBackend{}, testLogger())

	assert.Error(t, archiver.Run(t.Context(), 0))
	assert.Error(t, archiver.Run(t.Context(), -time.Second))
}

func TestRunArchivesOnEveryTick(t *testing.T) {
	_, st := newTestService(t, nil)

	stored := make(chan interfaces.SnapshotKind, 8)
	backend := &MockStorageBackend{}
	backend.On("Store", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			select {
			case stored <- args.Get(2).(interfaces.SnapshotKind):
			default:
			}
		}).
		Return(interfaces.ContentID{1}, nil)
	backend.On("Name").Return("mock")

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- NewLedgerArchiver("KME_TEST", st, backend, testLogger()).Run(ctx, 5*time.Millisecond) }()

	assert.Equal(t, interfaces.SnapshotLedger, <-stored)
	assert.Equal(t, interfaces.SnapshotRegistry, <-stored)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("archiver did not stop after cancel")
	}
}
