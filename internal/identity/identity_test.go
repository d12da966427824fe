package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "alice", Normalize("Alice"))
	require.Equal(t, "alice", Normalize("  ALICE "))
	require.Equal(t, "alice", Normalize("alice"))
}

func TestEqual(t *testing.T) {
	t.Parallel()

	require.True(t, Equal("Bob", "bob"))
	require.True(t, Equal(" bob", "BOB "))
	require.False(t, Equal("bob", "bobby"))
}

func TestReserved(t *testing.T) {
	t.Parallel()

	require.True(t, Reserved("undefined"))
	require.True(t, Reserved("null"))
	require.True(t, Reserved(""))
	require.True(t, Reserved("   "))
	require.False(t, Reserved("alice"))
	require.False(t, Reserved("NULLable"))
}
