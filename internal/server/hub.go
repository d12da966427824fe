package server

import (
	"sync"

	"go.uber.org/zap"
)

// hub tracks every open WebSocket peer by connection id and is the single
// place payloads are handed to a peer's send queue. It carries no identity:
// who a connection belongs to is the session registry's business.
type hub struct {
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	peers map[string]*peer
}

func newHub(logger *zap.SugaredLogger) *hub {
	return &hub{
		logger: logger,
		peers:  make(map[string]*peer),
	}
}

func (h *hub) add(p *peer) {
	h.mu.Lock()
	h.peers[p.id] = p
	total := len(h.peers)
	h.mu.Unlock()

	h.logger.Infof("Connection %s opened. Total connections: %d", p.id, total)
}

// remove detaches the peer and closes its send queue. Safe to call once per
// connection; a second call for the same id is a no-op.
func (h *hub) remove(connID string) {
	h.mu.Lock()
	p, ok := h.peers[connID]
	if ok {
		delete(h.peers, connID)
		close(p.send)
	}
	total := len(h.peers)
	h.mu.Unlock()

	if !ok {
		return
	}

	h.logger.Infof("Connection %s closed. Total connections: %d", connID, total)
}

// deliver queues a payload for one connection. A full send queue drops the
// payload rather than blocking other connections. The read lock is held
// across the channel send: remove closes the queue under the write lock, so
// a peer resolved here cannot have its queue closed before the send lands.
func (h *hub) deliver(connID string, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	p, ok := h.peers[connID]
	if !ok {
		return false
	}

	select {
	case p.send <- payload:
		return true
	default:
		h.logger.Warnf("Send queue full for connection %s; payload dropped", connID)
		return false
	}
}

// broadcast queues a payload for every connection except the given one.
// Pass an empty string to reach everyone.
func (h *hub) broadcast(payload []byte, exceptConnID string) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		if id != exceptConnID {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.deliver(id, payload)
	}
}

// closeAll closes every peer's underlying connection; used on shutdown.
func (h *hub) closeAll() {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		_ = p.conn.Close()
	}
}
