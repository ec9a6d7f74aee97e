package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ruteri/qkd-kme/interfaces"
	"github.com/stretchr/testify/assert"
)

func TestStatusCodeFor(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"validation", &interfaces.ValidationError{Field: "size", Reason: "bad"}, http.StatusBadRequest, "invalid size: bad"},
		{"wrapped validation", fmt.Errorf("enc_keys: %w", &interfaces.ValidationError{Field: "number", Reason: "bad"}), http.StatusBadRequest, "invalid number: bad"},
		{"not found", &interfaces.NotFoundError{KeyID: "k"}, http.StatusBadRequest, "key not found"},
		{"authorization", &interfaces.AuthorizationError{SAEID: "s", KeyID: "k"}, http.StatusUnauthorized, "not authorized for requested keys"},
		{"exhausted", fmt.Errorf("%w: 0 left", interfaces.ErrPoolExhausted), http.StatusServiceUnavailable, "insufficient keys available"},
		{"storage", interfaces.NewStorageError("bind", errors.New("locked")), http.StatusServiceUnavailable, "internal server error"},
		{"other", errors.New("boom"), http.StatusServiceUnavailable, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, StatusCodeFor(tt.err))
			assert.Equal(t, tt.message, ErrorFor(tt.err).Message)
		})
	}

	assert.Equal(t, http.StatusOK, StatusCodeFor(nil))
}

func TestErrorDetailsDoNotLeakStorageErrors(t *testing.T) {
	body := ErrorFor(interfaces.NewStorageError("bind", errors.New("dsn=postgres://user:secret@db")))
	assert.Empty(t, body.Details)
	assert.NotContains(t, body.Message, "secret")
}

func TestKeyIDs(t *testing.T) {
	req := KeyIDs{KeyIDs: []KeyID{{KeyID: "b"}, {KeyID: "a"}}}
	assert.Equal(t, []string{"b", "a"}, req.IDs())

	c := NewKeyContainer([]interfaces.Key{{ID: "k1", Material: []byte{0xde, 0xad}}})
	assert.Equal(t, []Key{{KeyID: "k1", Key: "3q0="}}, c.Keys)
	assert.Empty(t, NewKeyContainer(nil).Keys)
}
