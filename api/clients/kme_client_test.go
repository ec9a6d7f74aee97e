package clients

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/qkd-kme/api"
	"github.com/ruteri/qkd-kme/api/etsihandler"
	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/ruteri/qkd-kme/keygen"
	"github.com/ruteri/qkd-kme/kme"
	"github.com/ruteri/qkd-kme/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKME(t *testing.T) *httptest.Server {
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
	identity := etsihandler.NewIdentityMiddleware(kme.NewRegistry(st, logger), logger).WithInsecureHeader(true)

	mux := chi.NewRouter()
	etsihandler.NewHandler(svc, kme.NewAuthorizer(st, logger), identity, cfg, logger).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, baseURL, saeID string) *KMEClient {
	t.Helper()
	c, err := NewKMEClient(baseURL, WithSAEHeader(saeID))
	require.NoError(t, err)
	return c
}

func TestKeyExchangeRoundTrip(t *testing.T) {
	srv := newTestKME(t)
	master := newClient(t, srv.URL, "SAE_001")
	slave := newClient(t, srv.URL, "SAE_002")

	status, err := master.Status(t.Context(), "SAE_002")
	require.NoError(t, err)
	assert.Equal(t, "KME_TEST", status.SourceKMEID)
	assert.Equal(t, "SAE_001", status.MasterSAEID)
	assert.Equal(t, 256, status.KeySize)

	number, size := 2, 128
	enc, err := master.EncKeys(t.Context(), "SAE_002", api.KeyRequest{Number: &number, Size: &size})
	require.NoError(t, err)
	require.Len(t, enc.Keys, 2)
	for _, k := range enc.Keys {
		material, err := base64.StdEncoding.DecodeString(k.Key)
		require.NoError(t, err)
		assert.Len(t, material, 16)
	}

	dec, err := slave.DecKeys(t.Context(), "SAE_001", []string{enc.Keys[1].KeyID, enc.Keys[0].KeyID})
	require.NoError(t, err)
	require.Len(t, dec.Keys, 2)
	assert.Equal(t, enc.Keys[1], dec.Keys[0])
	assert.Equal(t, enc.Keys[0], dec.Keys[1])

	get, err := master.GetEncKeys(t.Context(), "SAE_002", 0, 0)
	require.NoError(t, err)
	require.Len(t, get.Keys, 1)
}

func TestErrorsCarryETSIBody(t *testing.T) {
	srv := newTestKME(t)
	master := newClient(t, srv.URL, "SAE_001")
	intruder := newClient(t, srv.URL, "SAE_003")

	size := 100
	_, err := master.EncKeys(t.Context(), "SAE_002", api.KeyRequest{Size: &size})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body.Message, "size")

	enc, err := master.EncKeys(t.Context(), "SAE_002", api.KeyRequest{})
	require.NoError(t, err)

	_, err = intruder.DecKeys(t.Context(), "SAE_001", []string{enc.Keys[0].KeyID})
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	anonymous, err := NewKMEClient(srv.URL)
	require.NoError(t, err)
	_, err = anonymous.Status(t.Context(), "SAE_002")
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Contains(t, err.Error(), "client certificate required")
}

func TestTransportFailure(t *testing.T) {
	srv := newTestKME(t)
	url := srv.URL
	srv.Close()

	c := newClient(t, url, "SAE_001")
	_, err := c.Status(t.Context(), "SAE_002")
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestOptionsRejectMissingFiles(t *testing.T) {
	_, err := NewKMEClient("https://kme.invalid", WithClientCertificate("/nonexistent.pem", "/nonexistent.key"))
	assert.Error(t, err)

	_, err = NewKMEClient("https://kme.invalid", WithRootCA("/nonexistent-ca.pem"))
	assert.Error(t, err)
}
