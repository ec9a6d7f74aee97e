package storage

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kvServer serves the subset of the Vault HTTP API the backend uses: KV v2
// reads and writes and sys/health.
type kvServer struct {
	token string

	mu      sync.Mutex
	secrets map[string]map[string]any
}

func newKVServer(t *testing.T, token string) (*kvServer, *httptest.Server) {
	kv := &kvServer{token: token, secrets: map[string]map[string]any{}}
	srv := httptest.NewServer(kv)
	t.Cleanup(srv.Close)
	return kv, srv
}

func (kv *kvServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/v1/sys/health" {
		_ = json.NewEncoder(w).Encode(map[string]any{"initialized": true, "sealed": false})
		return
	}
	if r.Header.Get("X-Vault-Token") != kv.token {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	kv.mu.Lock()
	defer kv.mu.Unlock()

	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var body struct {
			Data map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		kv.secrets[path] = body.Data
		_, _ = w.Write([]byte(`{"data":{"version":1}}`))
	case http.MethodGet:
		fields, ok := kv.secrets[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"data": fields, "metadata": map[string]any{"version": 1}},
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (kv *kvServer) tamper(path, content string) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.secrets[path]["content"] = content
}

func newTestVaultBackend(t *testing.T, addr, token string) *VaultBackend {
	t.Helper()
	b, err := NewVaultBackend(t.Context(), VaultConfig{Address: addr, Mount: "secret", Path: "kme", Token: token}, discardLogger())
	require.NoError(t, err)
	return b
}

func TestVaultBackendRoundTrip(t *testing.T) {
	kv, srv := newKVServer(t, "root")
	b := newTestVaultBackend(t, srv.URL, "root")
	assert.True(t, b.Available(t.Context()))
	assert.Equal(t, "vault-secret-kme", b.Name())

	data := []byte(`{"kme_id":"KME_A","sessions":[]}`)
	id, err := b.Store(t.Context(), data, interfaces.SnapshotLedger)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)

	path := "secret/data/kme/ledger/" + id.String()
	kv.mu.Lock()
	stored := kv.secrets[path]
	kv.mu.Unlock()
	require.NotNil(t, stored, "archive is written under <mount>/data/<path>/<kind>/<id>")
	assert.Equal(t, "ledger", stored["kind"])

	got, err := b.Fetch(t.Context(), id, interfaces.SnapshotLedger)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = b.Fetch(t.Context(), id, interfaces.SnapshotRegistry)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	kv.tamper(path, "dGFtcGVyZWQ=")
	_, err = b.Fetch(t.Context(), id, interfaces.SnapshotLedger)
	assert.ErrorIs(t, err, ErrContentMismatch)
}

func TestVaultBackendRejectedToken(t *testing.T) {
	_, srv := newKVServer(t, "root")
	b := newTestVaultBackend(t, srv.URL, "wrong")

	_, err := b.Store(t.Context(), []byte("x"), interfaces.SnapshotRegistry)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	_, err = b.Fetch(t.Context(), interfaces.ComputeID([]byte("x")), interfaces.SnapshotRegistry)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}

func TestVaultBackendThroughFactory(t *testing.T) {
	_, srv := newKVServer(t, "root")
	host := strings.TrimPrefix(srv.URL, "http://")

	loc, err := interfaces.ParseArchiveLocation("vault://" + host + "/secret/kme?token=root&tls=false")
	require.NoError(t, err)
	b, err := NewStorageBackendFactory(discardLogger()).StorageBackendFor(loc)
	require.NoError(t, err)

	id, err := b.Store(t.Context(), []byte(`{"saes":[]}`), interfaces.SnapshotRegistry)
	require.NoError(t, err)
	got, err := b.Fetch(t.Context(), id, interfaces.SnapshotRegistry)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"saes":[]}`), got)
}
