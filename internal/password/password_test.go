package password_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trentmillar/keystone-net/internal/password"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := password.Hash("hunter2!")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, err := password.Verify("hunter2!", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = password.Verify("wrong", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	_, err := password.Verify("anything", "not-a-hash")
	require.Error(t, err)
}

func TestHashesAreSalted(t *testing.T) {
	first, err := password.Hash("same")
	require.NoError(t, err)
	second, err := password.Hash("same")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}
