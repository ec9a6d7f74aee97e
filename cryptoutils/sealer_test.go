package cryptoutils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	sealer, err := NewSealer([]byte("operator passphrase"))
	require.NoError(t, err)

	material := bytes.Repeat([]byte{0xab}, 32)
	sealed, err := sealer.Seal("key-1", material)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), string(material))

	opened, err := sealer.Unseal("key-1", sealed)
	require.NoError(t, err)
	assert.Equal(t, material, opened)
}

func TestSealerBindsKeyID(t *testing.T) {
	sealer, err := NewSealer([]byte("operator passphrase"))
	require.NoError(t, err)

	sealed, err := sealer.Seal("key-1", []byte("secret"))
	require.NoError(t, err)

	_, err = sealer.Unseal("key-2", sealed)
	assert.ErrorIs(t, err, ErrUnsealFailed)
}

func TestSealerWrongPassphrase(t *testing.T) {
	a, err := NewSealer([]byte("one"))
	require.NoError(t, err)
	b, err := NewSealer([]byte("two"))
	require.NoError(t, err)

	sealed, err := a.Seal("key-1", []byte("secret"))
	require.NoError(t, err)

	_, err = b.Unseal("key-1", sealed)
	assert.ErrorIs(t, err, ErrUnsealFailed)

	_, err = a.Unseal("key-1", sealed[:10])
	assert.ErrorIs(t, err, ErrUnsealFailed)

	_, err = NewSealer(nil)
	assert.Error(t, err)
}
