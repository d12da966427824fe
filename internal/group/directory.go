// Package group maintains the ephemeral fan-out rooms used for group message
// broadcast. Room membership is a cache of live connections only; durable
// group records live in storage.
package group

import (
	"sync"

	"go.uber.org/zap"
)

// Directory maps group ids to the set of connections currently joined to the
// room. Joining performs no membership validation: clients redundantly join
// whenever they open a group conversation, so Join must be idempotent.
type Directory struct {
	logger *zap.SugaredLogger

	mu    sync.Mutex
	rooms map[string]map[string]struct{} // group id -> conn id set
}

// NewDirectory returns an empty Directory logging through the provided zap.SugaredLogger
func NewDirectory(logger *zap.SugaredLogger) *Directory {
	return &Directory{
		logger: logger,
		rooms:  make(map[string]map[string]struct{}),
	}
}

// Join binds a connection to a room, creating the room on first use.
// Joining twice is a no-op.
func (d *Directory) Join(connID, groupID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, ok := d.rooms[groupID]
	if !ok {
		room = make(map[string]struct{})
		d.rooms[groupID] = room
	}

	if _, ok := room[connID]; ok {
		return
	}

	room[connID] = struct{}{}
	d.logger.Debugf("Connection %s joined room %s (%d members)", connID, groupID, len(room))
}

// Drop removes the connection from every room it joined. Called once on
// connection teardown; empty rooms are kept, their lifetime is the process.
func (d *Directory) Drop(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for groupID, room := range d.rooms {
		if _, ok := room[connID]; ok {
			delete(room, connID)
			d.logger.Debugf("Connection %s left room %s", connID, groupID)
		}
	}
}

// Peers returns the connections currently joined to the room.
func (d *Directory) Peers(groupID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	room := d.rooms[groupID]
	peers := make([]string, 0, len(room))
	for connID := range room {
		peers = append(peers, connID)
	}
	return peers
}

// Contains reports whether the connection is joined to the room.
func (d *Directory) Contains(connID, groupID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.rooms[groupID][connID]
	return ok
}
