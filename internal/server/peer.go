package server

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

// peer wraps one WebSocket connection with a buffered send queue. Reads are
// pumped by the connection's own goroutine; writes go through writePump so a
// single writer owns the connection.
type peer struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.SugaredLogger
}

func newPeer(id string, conn *websocket.Conn, logger *zap.SugaredLogger) *peer {
	conn.SetReadLimit(maxMessageSize)
	return &peer{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger,
	}
}

// readPump delivers every inbound frame to handle and returns when the
// connection dies. The caller runs teardown exactly once after return.
func (p *peer) readPump(handle func(raw []byte)) {
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.logger.Warnf("Unexpected close on connection %s: %v", p.id, err)
			}
			return
		}

		handle(raw)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
// It exits when the send queue is closed by hub.remove or a write fails.
func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				p.logger.Debugf("Write to connection %s failed: %v", p.id, err)
				return
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
