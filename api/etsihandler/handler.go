package etsihandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/qkd-kme/api"
	"github.com/ruteri/qkd-kme/interfaces"
)

// maxBodyBytes bounds request bodies of enc_keys and dec_keys.
const maxBodyBytes = 1 << 20

// KeyService is the part of kme.Service the adapter drives.
type KeyService interface {
	Allocate(ctx context.Context, master, slave string, additional []string, count, sizeBits int) ([]interfaces.Key, error)
	Retrieve(ctx context.Context, requester, counterpart string, keyIDs []string) ([]interfaces.Key, error)
	Status(ctx context.Context, master, slave string) (interfaces.PoolStatus, error)
}

// Authorizer pre-checks dec_keys requests.
type Authorizer interface {
	IsAuthorized(ctx context.Context, slave string, keyIDs []string, master string) bool
}

// Handler serves the ETSI GS QKD 014 key delivery API.
type Handler struct {
	svc      KeyService
	auth     Authorizer
	identity *IdentityMiddleware
	cfg      interfaces.KMEConfig
	log      *slog.Logger
}

func NewHandler(svc KeyService, auth Authorizer, identity *IdentityMiddleware, cfg interfaces.KMEConfig, log *slog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		auth:     auth,
		identity: identity,
		cfg:      cfg,
		log:      log,
	}
}

// RegisterRoutes mounts the key delivery API under /api/v1/keys:
//   - GET  /{slave_SAE_ID}/status
//   - GET  /{slave_SAE_ID}/enc_keys?number=&size=
//   - POST /{slave_SAE_ID}/enc_keys
//   - GET  /{master_SAE_ID}/dec_keys?key_ID=
//   - POST /{master_SAE_ID}/dec_keys
//
// Every route requires an identified caller.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route(api.APIPrefix, func(r chi.Router) {
		r.Use(h.identity.Handler)
		r.Get("/{sae_ID}/status", h.HandleStatus)
		r.Get("/{sae_ID}/enc_keys", h.HandleGetEncKeys)
		r.Post("/{sae_ID}/enc_keys", h.HandlePostEncKeys)
		r.Get("/{sae_ID}/dec_keys", h.HandleGetDecKeys)
		r.Post("/{sae_ID}/dec_keys", h.HandlePostDecKeys)
	})
}

// HandleStatus reports pool status for the caller (master) and the slave
// named in the path.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	slave := r.PathValue("sae_ID")

	status, err := h.svc.Status(r.Context(), caller.SAEID, slave)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := api.StatusFromPool(status)
	resp.StatusExtension = h.certificateExtension(caller)
	writeJSON(w, h.log, http.StatusOK, resp)
}

// HandlePostEncKeys allocates keys for the caller (master) and the slave
// named in the path.
func (h *Handler) HandlePostEncKeys(w http.ResponseWriter, r *http.Request) {
	var req api.KeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, api.Error{Message: err.Error()})
		return
	}

	if len(req.ExtensionMandatory) > 0 {
		writeJSON(w, h.log, http.StatusBadRequest, api.Error{
			Message: "not all extension_mandatory parameters are supported",
			Details: req.ExtensionMandatory,
		})
		return
	}
	if len(req.ExtensionOptional) > 0 {
		h.log.Info("Ignoring extension_optional parameters", "count", len(req.ExtensionOptional))
	}

	number, size := 1, h.cfg.DefaultKeySizeBits
	if req.Number != nil {
		number = *req.Number
	}
	if req.Size != nil {
		size = *req.Size
	}
	h.encKeys(w, r, number, size, req.AdditionalSlaveSAEIDs)
}

// HandleGetEncKeys is the query-string form of enc_keys.
func (h *Handler) HandleGetEncKeys(w http.ResponseWriter, r *http.Request) {
	number, err := queryInt(r, "number", 1)
	if err != nil {
		h.writeError(w, err)
		return
	}
	size, err := queryInt(r, "size", h.cfg.DefaultKeySizeBits)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.encKeys(w, r, number, size, nil)
}

func (h *Handler) encKeys(w http.ResponseWriter, r *http.Request, number, size int, additional []string) {
	caller, _ := IdentityFrom(r.Context())
	slave := r.PathValue("sae_ID")

	if number < 1 {
		h.writeError(w, &interfaces.ValidationError{Field: "number", Reason: "must be at least 1"})
		return
	}
	if size < 8 || size%8 != 0 {
		h.writeError(w, &interfaces.ValidationError{Field: "size", Reason: "shall be a multiple of 8"})
		return
	}

	keys, err := h.svc.Allocate(r.Context(), caller.SAEID, slave, additional, number, size)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := api.NewKeyContainer(keys)
	resp.KeyContainerExtension = h.certificateExtension(caller)
	writeJSON(w, h.log, http.StatusOK, resp)
}

// HandlePostDecKeys returns keys the master named in the path allocated to
// the caller.
func (h *Handler) HandlePostDecKeys(w http.ResponseWriter, r *http.Request) {
	var req api.KeyIDs
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, api.Error{Message: err.Error()})
		return
	}
	h.decKeys(w, r, req.IDs())
}

// HandleGetDecKeys is the query-string form of dec_keys; key_ID may repeat.
func (h *Handler) HandleGetDecKeys(w http.ResponseWriter, r *http.Request) {
	h.decKeys(w, r, r.URL.Query()["key_ID"])
}

func (h *Handler) decKeys(w http.ResponseWriter, r *http.Request, ids []string) {
	caller, _ := IdentityFrom(r.Context())
	master := r.PathValue("sae_ID")

	if len(ids) == 0 {
		h.writeError(w, &interfaces.ValidationError{Field: "key_IDs", Reason: "must not be empty"})
		return
	}
	for i, id := range ids {
		if id == "" {
			h.writeError(w, &interfaces.ValidationError{Field: "key_ID", Reason: fmt.Sprintf("entry %d is empty", i)})
			return
		}
	}

	if !h.auth.IsAuthorized(r.Context(), caller.SAEID, ids, master) {
		h.log.Warn("Unauthorized dec_keys request", "slave", caller.SAEID, "master", master, "count", len(ids))
		writeJSON(w, h.log, http.StatusUnauthorized, api.Error{Message: "not authorized for requested keys"})
		return
	}

	keys, err := h.svc.Retrieve(r.Context(), caller.SAEID, master, ids)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := api.NewKeyContainer(keys)
	resp.KeyContainerExtension = h.certificateExtension(caller)
	writeJSON(w, h.log, http.StatusOK, resp)
}

func (h *Handler) certificateExtension(caller Identity) map[string]any {
	if !h.cfg.CertificateExtension || caller.Subject == "" {
		return nil
	}
	return map[string]any{
		"certificate": api.CertificateExtension{
			SAEID:   caller.SAEID,
			Subject: caller.Subject,
			Serial:  caller.Serial,
		},
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := api.StatusCodeFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
	}
	writeJSON(w, h.log, code, api.ErrorFor(err))
}

// decodeBody decodes a JSON body into v, rejecting unknown fields. An empty
// body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &interfaces.ValidationError{Field: name, Reason: fmt.Sprintf("%q is not an integer", raw)}
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response", "err", err)
	}
}
