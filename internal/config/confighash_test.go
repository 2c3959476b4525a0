package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParseConfigToken_RoundTrips(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignConfigToken("install-1", ConfigClaims{
		PreferredLanguages: []string{"en", "fr"},
		ExcludeHI:          true,
	}, secret)
	require.NoError(t, err)

	claims, err := ParseConfigToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "install-1", claims.Subject)
	assert.Equal(t, []string{"en", "fr"}, claims.PreferredLanguages)
	assert.True(t, claims.ExcludeHI)
}

func TestParseConfigToken_RejectsWrongSecret(t *testing.T) {
	token, err := SignConfigToken("install-1", ConfigClaims{}, []byte("secret-a"))
	require.NoError(t, err)

	_, err = ParseConfigToken(token, []byte("secret-b"))
	assert.ErrorIs(t, err, ErrInvalidConfigToken)
}

func TestComputeConfigHash_DeterministicAndOrderInsensitive(t *testing.T) {
	secret := []byte("test-secret")
	tokenA, err := SignConfigToken("install-1", ConfigClaims{PreferredLanguages: []string{"en", "fr"}}, secret)
	require.NoError(t, err)
	tokenB, err := SignConfigToken("install-1", ConfigClaims{PreferredLanguages: []string{"fr", "en"}}, secret)
	require.NoError(t, err)

	hashA, err := ComputeConfigHash(tokenA, secret)
	require.NoError(t, err)
	hashB, err := ComputeConfigHash(tokenB, secret)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
	assert.Len(t, hashA, 32)
}

func TestComputeConfigHash_DiffersOnExcludeHI(t *testing.T) {
	secret := []byte("test-secret")
	withHI, err := SignConfigToken("install-1", ConfigClaims{ExcludeHI: true}, secret)
	require.NoError(t, err)
	withoutHI, err := SignConfigToken("install-1", ConfigClaims{ExcludeHI: false}, secret)
	require.NoError(t, err)

	hashA, err := ComputeConfigHash(withHI, secret)
	require.NoError(t, err)
	hashB, err := ComputeConfigHash(withoutHI, secret)
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestComputeConfigHash_RejectsInvalidToken(t *testing.T) {
	_, err := ComputeConfigHash("not-a-jwt", []byte("secret"))
	assert.Error(t, err)
}
