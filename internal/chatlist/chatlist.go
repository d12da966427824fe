package chatlist

import (
	"sort"
	"time"

	"kios-chat/internal/identity"
	"kios-chat/internal/storage"
)

// DefaultAvatar is shown for direct counterparts with no live presence.
const DefaultAvatar = "😊"

// State is the locally persisted filter state for one logged-in username.
// Deleted is a soft filter: a key in it is suppressed from the list but
// revived the moment a new inbound message for that key arrives. Reserved
// keys stay filtered forever.
type State struct {
	Deleted  map[string]struct{}
	Archived map[string]struct{}
}

// NewState returns an empty State with the reserved keys pre-seeded into
// Deleted so they never surface regardless of history content.
func NewState() State {
	s := State{
		Deleted:  make(map[string]struct{}),
		Archived: make(map[string]struct{}),
	}
	for _, key := range identity.ReservedKeys() {
		s.Deleted[key] = struct{}{}
	}
	return s
}

// Entry is one rendered chat-list row. Key buckets messages into the
// conversation: a case-folded username for direct chats, a group id for
// group chats.
type Entry struct {
	Key      string
	Name     string
	Avatar   string
	Preview  string
	LastAt   time.Time
	Messages int
	IsGroup  bool
}

type bucket struct {
	entry   Entry
	lastSeq int64
}

// Reconcile derives the chat list from the raw direct-message log. The log
// must be in append order, oldest first; on equal timestamps the later
// append wins as "latest". The result is a pure function of its inputs:
// replaying the same log with the same state yields the same list.
func Reconcile(me string, log []storage.Message, state State, presence map[string]storage.User) []Entry {
	folded := identity.Normalize(me)

	buckets := make(map[string]*bucket)
	order := make([]string, 0)

	for _, m := range log {
		if m.Kind != storage.KindDirect {
			continue
		}

		var counterpart string
		switch {
		case identity.Equal(m.FromUsername, folded):
			counterpart = m.To
		case identity.Equal(m.To, folded):
			counterpart = m.FromUsername
		default:
			continue
		}

		key := identity.Normalize(counterpart)
		if identity.Reserved(key) {
			continue
		}

		b, ok := buckets[key]
		if !ok {
			b = &bucket{entry: Entry{Key: key}}
			buckets[key] = b
			order = append(order, key)
		}

		b.entry.Messages++
		if b.entry.Messages == 1 || !m.SentAt.Before(b.entry.LastAt) {
			b.entry.Name = counterpart
			b.entry.Preview = m.Body
			b.entry.LastAt = m.SentAt
			b.lastSeq = m.Seq
		}
	}

	entries := make([]Entry, 0, len(buckets))
	seqs := make(map[string]int64, len(buckets))
	for _, key := range order {
		if _, deleted := state.Deleted[key]; deleted {
			continue
		}
		if _, archived := state.Archived[key]; archived {
			continue
		}

		b := buckets[key]
		b.entry.Avatar = resolveAvatar(key, presence)
		entries = append(entries, b.entry)
		seqs[key] = b.lastSeq
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].LastAt.Equal(entries[j].LastAt) {
			return seqs[entries[i].Key] > seqs[entries[j].Key]
		}
		return entries[i].LastAt.After(entries[j].LastAt)
	})

	return entries
}

// Apply folds one live message into an already reconciled list. If the
// conversation key sits in state.Deleted it is removed (auto-revive) and the
// second return value reports it so the caller can persist the change. A
// missing entry is synthesized; an existing one gets its preview updated and
// moves to the top. groupNames resolves group ids to display names and may
// be nil.
func Apply(entries []Entry, me string, m storage.Message, state State, presence map[string]storage.User, groupNames map[string]string) ([]Entry, bool) {
	var key, name, avatar string
	isGroup := m.Kind == storage.KindGroup

	if isGroup {
		key = m.GroupID
		name = m.GroupID
		if groupNames != nil {
			if n, ok := groupNames[key]; ok {
				name = n
			}
		}
		avatar = storage.DefaultGroupAvatar
	} else {
		counterpart := m.FromUsername
		if identity.Equal(m.FromUsername, me) {
			counterpart = m.To
		}
		key = identity.Normalize(counterpart)
		name = counterpart
		avatar = resolveAvatar(key, presence)
	}

	if identity.Reserved(key) {
		return entries, false
	}

	// only a new inbound message revives a deleted conversation; the
	// sender's own outbound copy leaves the suppression in place
	revived := false
	if _, deleted := state.Deleted[key]; deleted {
		if identity.Equal(m.FromUsername, me) {
			return entries, false
		}
		delete(state.Deleted, key)
		revived = true
	}

	for i := range entries {
		if entries[i].Key != key {
			continue
		}

		e := entries[i]
		e.Preview = m.Body
		e.LastAt = m.SentAt
		e.Messages++

		updated := make([]Entry, 0, len(entries))
		updated = append(updated, e)
		updated = append(updated, entries[:i]...)
		updated = append(updated, entries[i+1:]...)
		return updated, revived
	}

	fresh := Entry{
		Key:      key,
		Name:     name,
		Avatar:   avatar,
		Preview:  m.Body,
		LastAt:   m.SentAt,
		Messages: 1,
		IsGroup:  isGroup,
	}
	return append([]Entry{fresh}, entries...), revived
}

// SurfaceGroup ensures a known group conversation is listed even before any
// message for it exists. A fresh row is appended at the bottom with an empty
// preview; deleted and archived groups stay suppressed and an already listed
// group is left untouched.
func SurfaceGroup(entries []Entry, groupID, name string, state State) []Entry {
	if _, deleted := state.Deleted[groupID]; deleted {
		return entries
	}
	if _, archived := state.Archived[groupID]; archived {
		return entries
	}

	for i := range entries {
		if entries[i].Key == groupID {
			return entries
		}
	}

	return append(entries, Entry{
		Key:     groupID,
		Name:    name,
		Avatar:  storage.DefaultGroupAvatar,
		IsGroup: true,
	})
}

func resolveAvatar(key string, presence map[string]storage.User) string {
	if u, ok := presence[key]; ok && u.Online && u.Avatar != "" {
		return u.Avatar
	}
	return DefaultAvatar
}
