package etsihandler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ruteri/qkd-kme/api"
	"github.com/ruteri/qkd-kme/cryptoutils"
	"github.com/ruteri/qkd-kme/interfaces"
)

const SAEIDHeader = api.SAEIDHeader

type identityKey struct{}

// Identity is the authenticated caller of a request.
type Identity struct {
	SAEID   string
	Subject string
	Serial  string
}

// IdentityFrom returns the caller identity stored by IdentityMiddleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.SAEID != ""
}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// SAERegistry records identities seen by the middleware.
type SAERegistry interface {
	Upsert(ctx context.Context, id, subject, serial string) (interfaces.SAEIdentity, error)
}

// IdentityMiddleware authenticates callers from their verified TLS client
// certificate and registers them with the SAE registry.
type IdentityMiddleware struct {
	registry     SAERegistry
	log          *slog.Logger
	headerIdents bool
}

func NewIdentityMiddleware(registry SAERegistry, log *slog.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{registry: registry, log: log}
}

// WithInsecureHeader makes the middleware trust the X-SAE-ID header when no
// verified certificate is present.
func (m *IdentityMiddleware) WithInsecureHeader(enabled bool) *IdentityMiddleware {
	m.headerIdents = enabled
	return m
}

func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := m.identify(r)
		if !ok {
			writeJSON(w, m.log, http.StatusUnauthorized, api.Error{Message: "client certificate required"})
			return
		}

		if _, err := m.registry.Upsert(r.Context(), id.SAEID, id.Subject, id.Serial); err != nil {
			m.log.Error("Failed to register SAE", "err", err, "saeID", id.SAEID)
			writeJSON(w, m.log, api.StatusCodeFor(err), api.ErrorFor(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m *IdentityMiddleware) identify(r *http.Request) (Identity, bool) {
	if r.TLS != nil && len(r.TLS.VerifiedChains) > 0 && len(r.TLS.VerifiedChains[0]) > 0 {
		info, err := cryptoutils.SAEIdentityFromCertificate(r.TLS.VerifiedChains[0][0])
		if err != nil {
			m.log.Warn("Client certificate carries no SAE identity", "err", err)
			return Identity{}, false
		}
		return Identity{SAEID: info.SAEID, Subject: info.Subject, Serial: info.Serial}, true
	}

	if m.headerIdents {
		if saeID := r.Header.Get(SAEIDHeader); saeID != "" {
			return Identity{SAEID: saeID}, true
		}
	}
	return Identity{}, false
}
