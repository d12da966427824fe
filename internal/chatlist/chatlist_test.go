package chatlist

import (
	"testing"
	"time"

	"kios-chat/internal/storage"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func direct(seq int64, from, to, body string, at time.Time) storage.Message {
	return storage.Message{
		Seq:          seq,
		ID:           "m" + string(rune('0'+seq)),
		Kind:         storage.KindDirect,
		FromUsername: from,
		To:           to,
		Body:         body,
		SentAt:       at,
	}
}

func TestReconcileCounterpartResolution(t *testing.T) {
	t.Parallel()

	log := []storage.Message{
		direct(1, "alice", "bob", "hi bob", base),
		direct(2, "carol", "alice", "hi alice", base.Add(time.Minute)),
		direct(3, "dave", "erin", "not ours", base.Add(2*time.Minute)),
	}

	entries := Reconcile("alice", log, NewState(), nil)
	require.Len(t, entries, 2)
	require.Equal(t, "carol", entries[0].Name)
	require.Equal(t, "bob", entries[1].Name)
}

func TestReconcileLatestWins(t *testing.T) {
	t.Parallel()

	log := []storage.Message{
		direct(1, "alice", "bob", "first", base),
		direct(2, "bob", "alice", "second", base.Add(time.Minute)),
		direct(3, "alice", "bob", "third", base.Add(2*time.Minute)),
	}

	entries := Reconcile("alice", log, NewState(), nil)
	require.Len(t, entries, 1)
	require.Equal(t, "third", entries[0].Preview)
	require.Equal(t, 3, entries[0].Messages)
}

func TestReconcileEqualTimestampsAppendOrderWins(t *testing.T) {
	t.Parallel()

	log := []storage.Message{
		direct(1, "alice", "bob", "earlier append", base),
		direct(2, "bob", "alice", "later append", base),
	}

	entries := Reconcile("alice", log, NewState(), nil)
	require.Len(t, entries, 1)
	require.Equal(t, "later append", entries[0].Preview)
}

func TestReconcileCaseInsensitiveBuckets(t *testing.T) {
	t.Parallel()

	log := []storage.Message{
		direct(1, "Alice", "Bob", "one", base),
		direct(2, "bob", "ALICE", "two", base.Add(time.Minute)),
	}

	entries := Reconcile("alice", log, NewState(), nil)
	require.Len(t, entries, 1)
	require.Equal(t, "bob", entries[0].Key)
	require.Equal(t, 2, entries[0].Messages)
}

func TestReconcileReservedKeysNeverListed(t *testing.T) {
	t.Parallel()

	log := []storage.Message{
		direct(1, "alice", "undefined", "lost", base),
		direct(2, "null", "alice", "lost", base.Add(time.Minute)),
		direct(3, "alice", "", "lost", base.Add(2*time.Minute)),
		direct(4, "alice", "bob", "kept", base.Add(3*time.Minute)),
	}

	// reserved keys are filtered even with an empty Deleted set
	state := State{Deleted: map[string]struct{}{}, Archived: map[string]struct{}{}}
	entries := Reconcile("alice", log, state, nil)
	require.Len(t, entries, 1)
	require.Equal(t, "bob", entries[0].Key)
}

func TestReconcileDeletedAndArchivedSuppressed(t *testing.T) {
	t.Parallel()

	log := []storage.Message{
		direct(1, "alice", "bob", "hi", base),
		direct(2, "alice", "carol", "hi", base.Add(time.Minute)),
		direct(3, "alice", "dave", "hi", base.Add(2*time.Minute)),
	}

	state := NewState()
	state.Deleted["bob"] = struct{}{}
	state.Archived["carol"] = struct{}{}

	entries := Reconcile("alice", log, state, nil)
	require.Len(t, entries, 1)
	require.Equal(t, "dave", entries[0].Key)
}

func TestReconcileMostRecentFirst(t *testing.T) {
	t.Parallel()

	log := []storage.Message{
		direct(1, "alice", "bob", "old", base),
		direct(2, "alice", "carol", "newer", base.Add(time.Hour)),
		direct(3, "alice", "dave", "newest", base.Add(2*time.Hour)),
	}

	entries := Reconcile("alice", log, NewState(), nil)
	require.Len(t, entries, 3)
	require.Equal(t, "dave", entries[0].Key)
	require.Equal(t, "carol", entries[1].Key)
	require.Equal(t, "bob", entries[2].Key)
}

func TestReconcileAvatarFromPresence(t *testing.T) {
	t.Parallel()

	log := []storage.Message{
		direct(1, "alice", "bob", "hi", base),
		direct(2, "alice", "carol", "hi", base.Add(time.Minute)),
	}

	presence := map[string]storage.User{
		"bob": {Username: "bob", Avatar: "🦊", Online: true},
	}

	entries := Reconcile("alice", log, NewState(), presence)
	require.Len(t, entries, 2)
	require.Equal(t, DefaultAvatar, entries[0].Avatar) // carol offline
	require.Equal(t, "🦊", entries[1].Avatar)
}

func TestReconcileIdempotent(t *testing.T) {
	t.Parallel()

	log := []storage.Message{
		direct(1, "alice", "bob", "one", base),
		direct(2, "carol", "alice", "two", base.Add(time.Minute)),
		direct(3, "bob", "alice", "three", base.Add(2*time.Minute)),
	}

	state := NewState()
	first := Reconcile("alice", log, state, nil)
	second := Reconcile("alice", log, state, nil)
	require.Equal(t, first, second)
}

func TestReconcileOfflineReplay(t *testing.T) {
	t.Parallel()

	// alice sent "hi" while bob was offline; bob fetches history later
	log := []storage.Message{
		direct(1, "alice", "bob", "hi", base),
	}

	entries := Reconcile("bob", log, NewState(), nil)
	require.Len(t, entries, 1)
	require.Equal(t, "alice", entries[0].Key)
	require.Equal(t, "hi", entries[0].Preview)
}

func TestApplySynthesizesEntry(t *testing.T) {
	t.Parallel()

	m := direct(1, "bob", "alice", "hello", base)

	entries, revived := Apply(nil, "alice", m, NewState(), nil, nil)
	require.False(t, revived)
	require.Len(t, entries, 1)
	require.Equal(t, "bob", entries[0].Key)
	require.Equal(t, "hello", entries[0].Preview)
	require.Equal(t, 1, entries[0].Messages)
}

func TestApplyMovesExistingEntryToTop(t *testing.T) {
	t.Parallel()

	log := []storage.Message{
		direct(1, "alice", "bob", "old", base),
		direct(2, "alice", "carol", "newer", base.Add(time.Hour)),
	}
	state := NewState()
	entries := Reconcile("alice", log, state, nil)
	require.Equal(t, "carol", entries[0].Key)

	m := direct(3, "bob", "alice", "fresh", base.Add(2*time.Hour))
	entries, revived := Apply(entries, "alice", m, state, nil, nil)
	require.False(t, revived)
	require.Len(t, entries, 2)
	require.Equal(t, "bob", entries[0].Key)
	require.Equal(t, "fresh", entries[0].Preview)
	require.Equal(t, 2, entries[0].Messages)
}

func TestApplyAutoRevivesDeleted(t *testing.T) {
	t.Parallel()

	state := NewState()
	state.Deleted["bob"] = struct{}{}

	m := direct(1, "bob", "alice", "i am back", base)
	entries, revived := Apply(nil, "alice", m, state, nil, nil)
	require.True(t, revived)
	require.NotContains(t, state.Deleted, "bob")
	require.Len(t, entries, 1)
	require.Equal(t, "bob", entries[0].Key)
}

func TestApplyReservedKeyNeverRevived(t *testing.T) {
	t.Parallel()

	state := NewState()

	m := direct(1, "undefined", "alice", "ghost", base)
	entries, revived := Apply(nil, "alice", m, state, nil, nil)
	require.False(t, revived)
	require.Empty(t, entries)
	require.Contains(t, state.Deleted, "undefined")
}

func TestApplyGroupMessage(t *testing.T) {
	t.Parallel()

	m := storage.Message{
		Seq:          1,
		ID:           "g1",
		Kind:         storage.KindGroup,
		FromUsername: "bob",
		GroupID:      "group_abc",
		Body:         "hello group",
		SentAt:       base,
	}

	names := map[string]string{"group_abc": "team"}
	entries, _ := Apply(nil, "alice", m, NewState(), nil, names)
	require.Len(t, entries, 1)
	require.Equal(t, "group_abc", entries[0].Key)
	require.Equal(t, "team", entries[0].Name)
	require.True(t, entries[0].IsGroup)
	require.Equal(t, storage.DefaultGroupAvatar, entries[0].Avatar)
}

func TestApplyOwnMessageDoesNotRevive(t *testing.T) {
	t.Parallel()

	state := NewState()
	state.Deleted["bob"] = struct{}{}

	m := direct(1, "Alice", "bob", "are you there", base)

	entries, revived := Apply(nil, "alice", m, state, nil, nil)
	require.False(t, revived)
	require.Empty(t, entries)
	require.Contains(t, state.Deleted, "bob")

	// the counterpart answering still revives
	reply := direct(2, "bob", "alice", "i am", base.Add(time.Minute))
	entries, revived = Apply(entries, "alice", reply, state, nil, nil)
	require.True(t, revived)
	require.Len(t, entries, 1)
	require.NotContains(t, state.Deleted, "bob")
}

func TestSurfaceGroupAppendsFreshEntry(t *testing.T) {
	t.Parallel()

	log := []storage.Message{direct(1, "bob", "alice", "hi", base)}
	entries := Reconcile("alice", log, NewState(), nil)

	entries = SurfaceGroup(entries, "group_abc", "team", NewState())
	require.Len(t, entries, 2)
	require.Equal(t, "bob", entries[0].Key)
	require.Equal(t, "group_abc", entries[1].Key)
	require.Equal(t, "team", entries[1].Name)
	require.True(t, entries[1].IsGroup)
	require.Equal(t, storage.DefaultGroupAvatar, entries[1].Avatar)
	require.Zero(t, entries[1].Messages)
}

func TestSurfaceGroupIdempotent(t *testing.T) {
	t.Parallel()

	entries := SurfaceGroup(nil, "group_abc", "team", NewState())
	entries = SurfaceGroup(entries, "group_abc", "team", NewState())
	require.Len(t, entries, 1)
}

func TestSurfaceGroupDeletedAndArchivedSuppressed(t *testing.T) {
	t.Parallel()

	state := NewState()
	state.Deleted["group_abc"] = struct{}{}
	state.Archived["group_def"] = struct{}{}

	entries := SurfaceGroup(nil, "group_abc", "team", state)
	entries = SurfaceGroup(entries, "group_def", "announcements", state)
	require.Empty(t, entries)
}
