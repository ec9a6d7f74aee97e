package etsihandler

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/qkd-kme/api"
	"github.com/ruteri/qkd-kme/cryptoutils"
	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/ruteri/qkd-kme/keygen"
	"github.com/ruteri/qkd-kme/kme"
	"github.com/ruteri/qkd-kme/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router   http.Handler
	store    *store.Store
	registry *kme.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(store.SQLite, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := interfaces.DefaultKMEConfig()
	cfg.KMEID = "KME_TEST"
	cfg.PoolMaxSize = 10
	cfg.RefillThreshold = 5

	svc, err := kme.NewService(cfg, st, keygen.NewGenerator(), logger)
	require.NoError(t, err)
	registry := kme.NewRegistry(st, logger)
	identity := NewIdentityMiddleware(registry, logger).WithInsecureHeader(true)

	mux := chi.NewRouter()
	NewHandler(svc, kme.NewAuthorizer(st, logger), identity, cfg, logger).RegisterRoutes(mux)
	return &testEnv{router: mux, store: st, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req.Header.Set(SAEIDHeader, caller)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func intPtr(n int) *int { return &n }

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/keys/SAE_B/status", "SAE_A", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	status := decode[api.Status](t, w)
	assert.Equal(t, api.Status{
		SourceKMEID:      "KME_TEST",
		TargetKMEID:      "KME_TEST",
		MasterSAEID:      "SAE_A",
		SlaveSAEID:       "SAE_B",
		KeySize:          256,
		StoredKeyCount:   0,
		MaxKeyCount:      10,
		MaxKeyPerRequest: 128,
		MaxKeySize:       1024,
		MinKeySize:       64,
		MaxSAEIDCount:    10,
	}, status)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	for _, field := range []string{"source_KME_ID", "target_KME_ID", "master_SAE_ID", "slave_SAE_ID", "key_size", "stored_key_count", "max_key_count", "max_key_per_request", "max_key_size", "min_key_size", "max_SAE_ID_count"} {
		assert.Contains(t, raw, field)
	}
}

func TestEncKeysThenDecKeys(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", "SAE_A", api.KeyRequest{Number: intPtr(2), Size: intPtr(256)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	container := decode[api.KeyContainer](t, w)
	require.Len(t, container.Keys, 2)
	for _, k := range container.Keys {
		material, err := base64.StdEncoding.DecodeString(k.Key)
		require.NoError(t, err)
		assert.Len(t, material, 32)
	}

	req := api.KeyIDs{KeyIDs: []api.KeyID{{KeyID: container.Keys[0].KeyID}, {KeyID: container.Keys[1].KeyID}}}
	w = env.do(t, http.MethodPost, "/api/v1/keys/SAE_A/dec_keys", "SAE_B", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, container.Keys, decode[api.KeyContainer](t, w).Keys)

	// Another SAE, or the right slave naming the wrong master.
	w = env.do(t, http.MethodPost, "/api/v1/keys/SAE_A/dec_keys", "SAE_X", req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/keys/SAE_Y/dec_keys", "SAE_B", req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not authorized for requested keys", decode[api.Error](t, w).Message)

	w = env.do(t, http.MethodGet, "/api/v1/keys/SAE_B/status", "SAE_A", nil)
	assert.Equal(t, 8, decode[api.Status](t, w).StoredKeyCount)
}

func TestEncKeysDefaults(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []any{nil, "{}"} {
		w := env.do(t, http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", "SAE_A", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		container := decode[api.KeyContainer](t, w)
		require.Len(t, container.Keys, 1)
		material, err := base64.StdEncoding.DecodeString(container.Keys[0].Key)
		require.NoError(t, err)
		assert.Len(t, material, 32)
	}
}

func TestAdditionalSlaves(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/keys/SAE_002/enc_keys", "SAE_001", api.KeyRequest{
		Number:                intPtr(1),
		AdditionalSlaveSAEIDs: []string{"SAE_003"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	keyID := decode[api.KeyContainer](t, w).Keys[0].KeyID

	w = env.do(t, http.MethodGet, "/api/v1/keys/SAE_001/dec_keys?key_ID="+keyID, "SAE_003", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, keyID, decode[api.KeyContainer](t, w).Keys[0].KeyID)
}

func TestEncKeysRejections(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		code    int
		message string
	}{
		{"unknown field", http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", `{"number":1,"colour":"blue"}`, http.StatusBadRequest, ""},
		{"malformed json", http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", `{"number":`, http.StatusBadRequest, ""},
		{"mandatory extension", http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", `{"extension_mandatory":[{"abc_route_type":"direct"}]}`, http.StatusBadRequest, "not all extension_mandatory parameters are supported"},
		{"zero number", http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", api.KeyRequest{Number: intPtr(0)}, http.StatusBadRequest, "invalid number: must be at least 1"},
		{"size not multiple of 8", http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", api.KeyRequest{Size: intPtr(100)}, http.StatusBadRequest, "invalid size: shall be a multiple of 8"},
		{"size over max", http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", api.KeyRequest{Size: intPtr(2048)}, http.StatusBadRequest, ""},
		{"number over max", http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", api.KeyRequest{Number: intPtr(129)}, http.StatusBadRequest, ""},
		{"too many additional slaves", http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", api.KeyRequest{AdditionalSlaveSAEIDs: strings.Split("a,b,c,d,e,f,g,h,i,j,k", ",")}, http.StatusBadRequest, ""},
		{"exhausted", http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", api.KeyRequest{Number: intPtr(11)}, http.StatusServiceUnavailable, "insufficient keys available"},
		{"bad query number", http.MethodGet, "/api/v1/keys/SAE_B/enc_keys?number=many", nil, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(t, tt.method, tt.path, "SAE_A", tt.body)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			body := decode[api.Error](t, w)
			assert.NotEmpty(t, body.Message)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Message)
			}

			stats, err := env.store.Stats(t.Context())
			require.NoError(t, err)
			assert.Equal(t, 0, stats.ActiveSessions)
		})
	}
}

func TestOptionalExtensionsAreIgnored(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", "SAE_A", `{"number":1,"extension_optional":[{"route":"x"}]}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestGetEncKeysAndDecKeys(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/keys/SAE_B/enc_keys?number=2&size=512", "SAE_A", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	keys := decode[api.KeyContainer](t, w).Keys
	require.Len(t, keys, 2)
	material, err := base64.StdEncoding.DecodeString(keys[0].Key)
	require.NoError(t, err)
	assert.Len(t, material, 64)

	w = env.do(t, http.MethodGet, "/api/v1/keys/SAE_A/dec_keys?key_ID="+keys[1].KeyID+"&key_ID="+keys[0].KeyID, "SAE_B", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[api.KeyContainer](t, w).Keys
	require.Len(t, got, 2)
	assert.Equal(t, keys[1], got[0])
	assert.Equal(t, keys[0], got[1])
}

func TestDecKeysRejections(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/keys/SAE_B/enc_keys", "SAE_A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	keyID := decode[api.KeyContainer](t, w).Keys[0].KeyID

	tests := []struct {
		name string
		body any
		code int
	}{
		{"empty list", api.KeyIDs{}, http.StatusBadRequest},
		{"empty id", api.KeyIDs{KeyIDs: []api.KeyID{{KeyID: ""}}}, http.StatusBadRequest},
		{"unknown field", `{"key_IDs":[{"key_ID":"x"}],"extra":1}`, http.StatusBadRequest},
		{"unknown id", api.KeyIDs{KeyIDs: []api.KeyID{{KeyID: keyID}, {KeyID: "unknown"}}}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/keys/SAE_A/dec_keys", "SAE_B", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	w = env.do(t, http.MethodGet, "/api/v1/keys/SAE_A/dec_keys", "SAE_B", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestsWithoutIdentity(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/v1/keys/SAE_B/status", "/api/v1/keys/SAE_B/enc_keys"} {
		w := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "client certificate required", decode[api.Error](t, w).Message)
	}
}

func TestCertificateIdentity(t *testing.T) {
	env := newTestEnv(t)

	ca, err := cryptoutils.NewCertificateAuthority("Test CA", "Lab", time.Hour)
	require.NoError(t, err)
	_, certPEM, err := ca.IssueKeyPair("SAE_001", "", cryptoutils.ClientCert, nil, time.Hour)
	require.NoError(t, err)
	cert, err := certPEM.GetX509Cert()
	require.NoError(t, err)
	caCert, err := ca.CertPEM().GetX509Cert()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/keys/SAE_002/enc_keys", strings.NewReader(`{"number":1}`))
	req.TLS = &tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{cert, caCert}}}
	// The header is ignored when a verified certificate is present.
	req.Header.Set(SAEIDHeader, "SAE_999")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var container struct {
		Keys                  []api.Key `json:"keys"`
		KeyContainerExtension struct {
			Certificate api.CertificateExtension `json:"certificate"`
		} `json:"key_container_extension"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &container))
	assert.Equal(t, "SAE_001", container.KeyContainerExtension.Certificate.SAEID)
	assert.Equal(t, cert.SerialNumber.Text(16), container.KeyContainerExtension.Certificate.Serial)

	sessions, err := env.store.Sessions(t.Context())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "SAE_001", sessions[0].MasterID)

	saes, err := env.registry.List(t.Context())
	require.NoError(t, err)
	require.Len(t, saes, 1)
	assert.Equal(t, "SAE_001", saes[0].ID)
	assert.Equal(t, cert.Subject.String(), saes[0].CertificateSubject)
}

func TestIdentityMiddlewareWithoutHeaderMode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(store.SQLite, ":memory:", logger)
	require.NoError(t, err)
	defer st.Close()

	mw := NewIdentityMiddleware(kme.NewRegistry(st, logger), logger)
	called := false
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SAEIDHeader, "SAE_A")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}
