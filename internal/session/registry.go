// Package session implements the in-memory registry binding live connections
// to usernames. It enforces the single invariant the rest of the system leans
// on: at most one live session per case-folded username, latest login wins.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"kios-chat/internal/identity"
)

// Session is the ephemeral binding of one connection to one username.
type Session struct {
	ConnID     string
	Username   string
	Avatar     string
	AdmittedAt time.Time
}

// Registry owns the username -> connection mapping. All methods are safe for
// concurrent use; mutation is serialized by a single mutex so a race between
// two logins for the same username deterministically leaves one session.
type Registry struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	byUser map[string]*Session // keyed by folded username
	byConn map[string]*Session
}

// NewRegistry returns an empty Registry logging through the provided zap.SugaredLogger
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		logger: logger,
		byUser: make(map[string]*Session),
		byConn: make(map[string]*Session),
	}
}

// Admit installs a session for connID. If another connection already holds a
// session for the same folded username it is evicted atomically; the evicted
// session is returned so the caller can decide what to do with the stale
// connection (the evicted peer itself is not notified). Re-admitting the same
// connection for the same username is a no-op on the mapping.
func (r *Registry) Admit(connID, username, avatar string) (Session, *Session) {
	key := identity.Normalize(username)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted *Session
	if prior, ok := r.byUser[key]; ok && prior.ConnID != connID {
		delete(r.byConn, prior.ConnID)
		evicted = prior
		r.logger.Infof("Session for %q evicted from connection %s", prior.Username, prior.ConnID)
	}

	// A connection re-registering under a new name drops its old binding.
	if prior, ok := r.byConn[connID]; ok && identity.Normalize(prior.Username) != key {
		delete(r.byUser, identity.Normalize(prior.Username))
	}

	s := &Session{
		ConnID:     connID,
		Username:   username,
		Avatar:     avatar,
		AdmittedAt: time.Now(),
	}
	r.byUser[key] = s
	r.byConn[connID] = s

	r.logger.Infof("Session admitted: %q on connection %s", username, connID)

	return *s, evicted
}

// Lookup returns the connection id currently bound to the username.
func (r *Registry) Lookup(username string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byUser[identity.Normalize(username)]
	if !ok {
		return "", false
	}
	return s.ConnID, true
}

// SessionFor returns the session currently bound to a connection, if any.
// An evicted connection has no session, so its sends resolve to nothing.
func (r *Registry) SessionFor(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Release removes the session bound to connID and returns it. Releasing a
// connection that was never admitted, or whose session was already evicted by
// a newer login, is a no-op.
func (r *Registry) Release(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}

	delete(r.byConn, connID)
	key := identity.Normalize(s.Username)
	// Only clear the username binding if it still points at this connection;
	// a newer login may have replaced it already.
	if current, ok := r.byUser[key]; ok && current.ConnID == connID {
		delete(r.byUser, key)
	}

	r.logger.Infof("Session released: %q on connection %s", s.Username, connID)

	return *s, true
}

// Snapshot returns a copy of all live sessions. The presence list sent to a
// newly admitted client is built from this, not from the durable user store.
func (r *Registry) Snapshot() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]Session, 0, len(r.byUser))
	for _, s := range r.byUser {
		sessions = append(sessions, *s)
	}
	return sessions
}
