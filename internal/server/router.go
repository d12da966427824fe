package server

import (
	"context"
	"errors"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"kios-chat/internal/group"
	"kios-chat/internal/identity"
	"kios-chat/internal/session"
	"kios-chat/internal/storage"
)

var (
	errEmptyGroupName = errors.New("group name must not be empty")
	errNoMembers      = errors.New("group must have at least one member")
)

// routerStore is the slice of the persistent store the router writes through.
type routerStore interface {
	AppendMessage(ctx context.Context, m *storage.Message) error
	CreateGroup(ctx context.Context, g storage.Group) error
}

// router validates and dispatches direct and group messages. Every message is
// appended to the store before any fan-out: a failed write aborts the whole
// send, an offline recipient does not.
type router struct {
	logger    *zap.SugaredLogger
	store     routerStore
	registry  *session.Registry
	directory *group.Directory
	send      sender
}

// sendDirect persists a direct message and fans it out: exactly one delivery
// to the recipient's live session if there is one, and always a message-sent
// ack back to the sender so its UI can render without waiting for an echo.
func (rt *router) sendDirect(ctx context.Context, from session.Session, to, body string) (storage.Message, error) {
	m := storage.Message{
		ID:           xid.New().String(),
		Kind:         storage.KindDirect,
		FromUsername: from.Username,
		To:           to,
		Body:         body,
		SentAt:       time.Now(),
	}

	if err := rt.store.AppendMessage(ctx, &m); err != nil {
		rt.logger.Errorf("appending direct message from %s: %v", from.Username, err)
		return storage.Message{}, err
	}

	payload, err := encodeEvent(evReceiveMsg, m)
	if err != nil {
		return storage.Message{}, err
	}

	if connID, ok := rt.registry.Lookup(to); ok {
		rt.send.deliver(connID, payload)
	} else {
		rt.logger.Debugf("Recipient %s offline, message %s stored only", to, m.ID)
	}

	ack, err := encodeEvent(evMessageSent, m)
	if err != nil {
		return storage.Message{}, err
	}
	rt.send.deliver(from.ConnID, ack)

	return m, nil
}

// sendGroup persists a group message and delivers exactly one copy to every
// connection joined to the room. The broadcast excludes the sender and the
// sender then gets one explicit copy, so nobody receives the message twice.
func (rt *router) sendGroup(ctx context.Context, from session.Session, groupID, body string) (storage.Message, error) {
	m := storage.Message{
		ID:           xid.New().String(),
		Kind:         storage.KindGroup,
		FromUsername: from.Username,
		GroupID:      groupID,
		Body:         body,
		SentAt:       time.Now(),
	}

	if err := rt.store.AppendMessage(ctx, &m); err != nil {
		rt.logger.Errorf("appending group message from %s: %v", from.Username, err)
		return storage.Message{}, err
	}

	payload, err := encodeEvent(evReceiveGroupMsg, m)
	if err != nil {
		return storage.Message{}, err
	}

	for _, connID := range rt.directory.Peers(groupID) {
		if connID == from.ConnID {
			continue
		}
		rt.send.deliver(connID, payload)
	}
	rt.send.deliver(from.ConnID, payload)

	return m, nil
}

// createGroup persists a new group with the creator always included, opens
// its fan-out room, and notifies online members. The creator receives
// group-created; every other member with a live session is joined to the room
// and receives new-group. Offline members learn about the group from their
// cached group list on next login.
func (rt *router) createGroup(ctx context.Context, creator session.Session, name string, members []string) (storage.Group, error) {
	if name == "" {
		return storage.Group{}, errEmptyGroupName
	}
	if len(members) == 0 {
		return storage.Group{}, errNoMembers
	}

	withCreator := members
	found := false
	for _, m := range members {
		if identity.Equal(m, creator.Username) {
			found = true
			break
		}
	}
	if !found {
		withCreator = append(append([]string{}, members...), creator.Username)
	}

	g := storage.Group{
		ID:        "group_" + xid.New().String(),
		Name:      name,
		Creator:   creator.Username,
		Members:   withCreator,
		Avatar:    storage.DefaultGroupAvatar,
		CreatedAt: time.Now(),
	}

	if err := rt.store.CreateGroup(ctx, g); err != nil {
		rt.logger.Errorf("creating group %q: %v", name, err)
		return storage.Group{}, err
	}

	rt.directory.Join(creator.ConnID, g.ID)

	created, err := encodeEvent(evGroupCreated, g)
	if err != nil {
		return storage.Group{}, err
	}
	rt.send.deliver(creator.ConnID, created)

	invite, err := encodeEvent(evNewGroup, g)
	if err != nil {
		return storage.Group{}, err
	}
	for _, member := range g.Members {
		if identity.Equal(member, creator.Username) {
			continue
		}
		connID, ok := rt.registry.Lookup(member)
		if !ok {
			continue
		}
		rt.directory.Join(connID, g.ID)
		rt.send.deliver(connID, invite)
	}

	rt.logger.Infof("Group %q (%s) created by %s with %d members", g.Name, g.ID, creator.Username, len(g.Members))

	return g, nil
}

// relayTyping forwards an ephemeral typing signal. Nothing is persisted.
func (rt *router) relayTyping(from session.Session, to string, isGroup, stop bool) {
	name := evUserTyping
	if stop {
		name = evUserStopTyping
	}

	payload, err := encodeEvent(name, typingPayload{From: from.Username, IsGroup: isGroup})
	if err != nil {
		rt.logger.Errorf("encoding typing event: %v", err)
		return
	}

	if isGroup {
		for _, connID := range rt.directory.Peers(to) {
			if connID == from.ConnID {
				continue
			}
			rt.send.deliver(connID, payload)
		}
		return
	}

	if connID, ok := rt.registry.Lookup(to); ok {
		rt.send.deliver(connID, payload)
	}
}
