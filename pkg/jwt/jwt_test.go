package jwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceToken(t *testing.T) {
	token, err := GenerateServiceToken("chat-core", "secret", 1)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseServiceToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "chat-core", claims.Role)
	assert.Equal(t, "orbit-core", claims.Issuer)

	t.Run("wrong secret is rejected", func(t *testing.T) {
		_, err := ParseServiceToken(token, "other")
		assert.Error(t, err)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		expired, err := GenerateServiceToken("chat-core", "secret", -1)
		require.NoError(t, err)
		_, err = ParseServiceToken(expired, "secret")
		assert.Error(t, err)
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := ParseServiceToken("not.a.token", "secret")
		assert.Error(t, err)
	})
}
