package server

import (
	"time"

	"go.uber.org/zap"

	"kios-chat/internal/session"
)

// sender is the delivery surface the notifier and router fan out through.
// Implemented by hub; tests substitute a recording fake.
type sender interface {
	deliver(connID string, payload []byte) bool
	broadcast(payload []byte, exceptConnID string)
}

// notifier broadcasts connect/disconnect events derived from the session
// registry. The users-list sent to a new connection is sourced from the
// registry snapshot, so it reflects live sessions only.
type notifier struct {
	logger   *zap.SugaredLogger
	send     sender
	registry *session.Registry
}

func sessionUser(s session.Session) wireUser {
	return wireUser{
		ID:       s.ConnID,
		Username: s.Username,
		Avatar:   s.Avatar,
		Online:   true,
		LastSeen: s.AdmittedAt,
	}
}

// connected confirms the admission to the new connection, hands it the list
// of currently live users (excluding itself), and announces it to everyone
// else.
func (n *notifier) connected(s session.Session) {
	self := sessionUser(s)

	confirmed, err := encodeEvent(evRegistered, registeredPayload{Success: true, User: self})
	if err != nil {
		n.logger.Errorf("encoding registered event: %v", err)
		return
	}
	n.send.deliver(s.ConnID, confirmed)

	live := n.registry.Snapshot()
	others := make([]wireUser, 0, len(live))
	for _, sess := range live {
		if sess.ConnID == s.ConnID {
			continue
		}
		others = append(others, sessionUser(sess))
	}

	list, err := encodeEvent(evUsersList, others)
	if err != nil {
		n.logger.Errorf("encoding users-list event: %v", err)
		return
	}
	n.send.deliver(s.ConnID, list)

	announce, err := encodeEvent(evUserConnected, self)
	if err != nil {
		n.logger.Errorf("encoding user-connected event: %v", err)
		return
	}
	n.send.broadcast(announce, s.ConnID)
}

// disconnected announces a released session to everyone.
func (n *notifier) disconnected(username string, lastSeen time.Time) {
	payload, err := encodeEvent(evUserDisconnected, disconnectedPayload{Username: username, LastSeen: lastSeen})
	if err != nil {
		n.logger.Errorf("encoding user-disconnected event: %v", err)
		return
	}
	n.send.broadcast(payload, "")
}
