package randx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionToken(t *testing.T) {
	a, err := SessionToken()
	require.NoError(t, err)
	b, err := SessionToken()
	require.NoError(t, err)

	assert.True(t, IsValidSessionToken(a))
	assert.True(t, IsValidSessionToken(b))
	assert.NotEqual(t, a, b)
}

func TestIsValidSessionToken(t *testing.T) {
	assert.False(t, IsValidSessionToken(""))
	assert.False(t, IsValidSessionToken("sess_short"))
	assert.False(t, IsValidSessionToken("tok_abcdefghijklmnopqrstuvwx"))
	assert.False(t, IsValidSessionToken("sess_abcdefghijklmnopqrstuv-x"))
	assert.True(t, IsValidSessionToken("sess_abcdefghijklmnopqrstuvwx"))
}

func TestIdentityColor(t *testing.T) {
	for range 20 {
		c, err := IdentityColor()
		require.NoError(t, err)
		assert.Contains(t, IdentityColors, c)
	}
}

func TestNewID(t *testing.T) {
	id := NewID()
	assert.True(t, IsValidID(id))
	assert.False(t, IsValidID("nope"))
}
