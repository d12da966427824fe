package localstate

import (
	"path/filepath"
	"testing"

	"kios-chat/internal/identity"
	"kios-chat/internal/storage"

	"github.com/stretchr/testify/require"
)

func bootstrap(t *testing.T) *DB {
	db, err := New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoadSeedsReservedKeys(t *testing.T) {
	t.Parallel()

	db := bootstrap(t)

	state, err := db.Load("alice")
	require.NoError(t, err)
	for _, key := range identity.ReservedKeys() {
		require.Contains(t, state.Deleted, key)
	}
	require.Empty(t, state.Archived)
}

func TestDeleteAndRevive(t *testing.T) {
	t.Parallel()

	db := bootstrap(t)

	require.NoError(t, db.MarkDeleted("alice", "bob"))

	state, err := db.Load("alice")
	require.NoError(t, err)
	require.Contains(t, state.Deleted, "bob")

	require.NoError(t, db.Revive("alice", "bob"))

	state, err = db.Load("alice")
	require.NoError(t, err)
	require.NotContains(t, state.Deleted, "bob")
}

func TestMarkDeletedIdempotent(t *testing.T) {
	t.Parallel()

	db := bootstrap(t)

	require.NoError(t, db.MarkDeleted("alice", "bob"))
	require.NoError(t, db.MarkDeleted("alice", "bob"))

	state, err := db.Load("alice")
	require.NoError(t, err)
	require.Contains(t, state.Deleted, "bob")
}

func TestFiltersNamespacedPerOwner(t *testing.T) {
	t.Parallel()

	db := bootstrap(t)

	require.NoError(t, db.MarkDeleted("alice", "bob"))

	state, err := db.Load("carol")
	require.NoError(t, err)
	require.NotContains(t, state.Deleted, "bob")
}

func TestOwnerAndKeyCaseFolded(t *testing.T) {
	t.Parallel()

	db := bootstrap(t)

	require.NoError(t, db.MarkDeleted("Alice", "BOB"))

	state, err := db.Load("alice")
	require.NoError(t, err)
	require.Contains(t, state.Deleted, "bob")
}

func TestArchive(t *testing.T) {
	t.Parallel()

	db := bootstrap(t)

	require.NoError(t, db.MarkArchived("alice", "bob"))

	state, err := db.Load("alice")
	require.NoError(t, err)
	require.Contains(t, state.Archived, "bob")
	require.NotContains(t, state.Deleted, "bob")

	require.NoError(t, db.Unarchive("alice", "bob"))

	state, err = db.Load("alice")
	require.NoError(t, err)
	require.NotContains(t, state.Archived, "bob")
}

func TestGroupCacheRoundTrip(t *testing.T) {
	t.Parallel()

	db := bootstrap(t)

	g := storage.Group{
		ID:      "group_abc",
		Name:    "team",
		Creator: "alice",
		Members: []string{"alice", "bob"},
		Avatar:  storage.DefaultGroupAvatar,
	}
	require.NoError(t, db.CacheGroup("alice", g))

	groups, err := db.CachedGroups("alice")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, g.ID, groups[0].ID)
	require.Equal(t, g.Members, groups[0].Members)
}

func TestCacheGroupRefreshesPayload(t *testing.T) {
	t.Parallel()

	db := bootstrap(t)

	g := storage.Group{ID: "group_abc", Name: "team", Creator: "alice", Members: []string{"alice"}}
	require.NoError(t, db.CacheGroup("alice", g))

	g.Name = "renamed"
	require.NoError(t, db.CacheGroup("alice", g))

	groups, err := db.CachedGroups("alice")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "renamed", groups[0].Name)
}

func TestCachedGroupsNamespacedPerOwner(t *testing.T) {
	t.Parallel()

	db := bootstrap(t)

	require.NoError(t, db.CacheGroup("alice", storage.Group{ID: "group_abc", Name: "team"}))

	groups, err := db.CachedGroups("bob")
	require.NoError(t, err)
	require.Empty(t, groups)
}
