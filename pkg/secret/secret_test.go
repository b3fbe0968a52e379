package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBox(pass string) *Box {
	b := New(pass)
	b.n = 1 << 10
	return b
}

func Test_SealOpen(t *testing.T) {
	b := fastBox("correct horse")

	sealed, err := b.Seal("eyJhbGciOi.token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, prefix))
	assert.NotContains(t, sealed, "token")

	again, err := b.Seal("eyJhbGciOi.token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "every seal uses a fresh salt and nonce")

	plain, err := b.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOi.token", plain)

	_, err = fastBox("wrong").Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = New("").Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func Test_Passthrough(t *testing.T) {
	b := New("")
	assert.False(t, b.Enabled())

	v, err := b.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	v, err = fastBox("x").Open("legacy-plain")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plain", v)

	_, err = fastBox("x").Open(prefix + "!!!")
	assert.ErrorIs(t, err, ErrDecrypt)
}
