package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/valyala/fastjson"

	"kios-chat/internal/identity"
	"kios-chat/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ws upgrades the connection and runs its read loop. Each connection gets a
// fresh xid and one goroutine per pump; all shared state mutation goes
// through the registry, directory and hub.
func (h *handler) ws(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	p := newPeer(xid.New().String(), conn, h.logger)
	h.hub.add(p)

	go p.writePump()
	go func() {
		p.readPump(func(raw []byte) {
			h.dispatch(p.id, raw)
		})
		h.teardown(p.id)
	}()
}

// teardown releases everything a connection held: room memberships, session,
// hub registration. Invoked exactly once when the read pump exits. The
// session may already be gone if a newer login evicted it.
func (h *handler) teardown(connID string) {
	h.directory.Drop(connID)

	if s, ok := h.registry.Release(connID); ok {
		lastSeen, err := h.store.MarkOffline(context.Background(), s.Username)
		if err != nil {
			h.logger.Errorf("marking %s offline: %v", s.Username, err)
			lastSeen = time.Now()
		}
		h.notifier.disconnected(s.Username, lastSeen)
	}

	h.hub.remove(connID)
}

// dispatch routes one inbound envelope to its event handler.
func (h *handler) dispatch(connID string, raw []byte) {
	parser := h.parsers.eventPool.Get()
	defer h.parsers.eventPool.Put(parser)

	v, err := parser.ParseBytes(raw)
	if err != nil {
		h.logger.Debugf("Malformed frame from connection %s: %v", connID, err)
		return
	}

	name := string(v.GetStringBytes("event"))
	data := v.Get("data")

	switch name {
	case evRegister:
		h.onRegister(connID, data)
	case evRegisterUser:
		h.onRegisterUser(connID, data)
	case evLoginUser:
		h.onLoginUser(connID, data)
	case evGetUsers:
		h.onGetUsers(connID)
	case evPrivateMsg:
		h.onPrivateMessage(connID, data)
	case evCreateGroup:
		h.onCreateGroup(connID, data)
	case evJoinGroup:
		h.onJoinGroup(connID, data)
	case evGroupMsg:
		h.onGroupMessage(connID, data)
	case evTyping:
		h.onTyping(connID, data, false)
	case evStopTyping:
		h.onTyping(connID, data, true)
	default:
		h.logger.Debugf("Unknown event %q from connection %s", name, connID)
	}
}

func (h *handler) onRegister(connID string, data *fastjson.Value) {
	username := string(data.GetStringBytes("username"))
	avatar := string(data.GetStringBytes("avatar"))

	if identity.Reserved(username) {
		h.logger.Warnf("Register with invalid username from connection %s ignored", connID)
		return
	}
	if avatar == "" {
		avatar = storage.DefaultUserAvatar
	}

	s, evicted := h.registry.Admit(connID, username, avatar)
	if evicted != nil {
		// latest login wins; the stale connection keeps its socket but no
		// longer resolves to a session
		h.directory.Drop(evicted.ConnID)
	}

	if _, err := h.store.UpsertPresence(context.Background(), username, avatar); err != nil {
		h.logger.Errorf("recording presence for %s: %v", username, err)
	}

	h.notifier.connected(s)
}

func (h *handler) onRegisterUser(connID string, data *fastjson.Value) {
	username := string(data.GetStringBytes("username"))
	password := string(data.GetStringBytes("password"))
	avatar := string(data.GetStringBytes("avatar"))

	if identity.Reserved(username) || password == "" {
		h.ack(connID, evRegisterResponse, ackPayload{Success: false, Message: "Username and password are required"})
		return
	}

	_, err := h.store.CreateUser(context.Background(), username, password, avatar)
	switch {
	case err == nil:
		h.ack(connID, evRegisterResponse, ackPayload{Success: true, Message: "User registered"})
	case err == storage.ErrUserExists:
		h.ack(connID, evRegisterResponse, ackPayload{Success: false, Message: "Username already in use"})
	default:
		h.logger.Errorf("creating user %s: %v", username, err)
		h.ack(connID, evRegisterResponse, ackPayload{Success: false, Message: "Registration failed"})
	}
}

func (h *handler) onLoginUser(connID string, data *fastjson.Value) {
	username := string(data.GetStringBytes("username"))
	password := string(data.GetStringBytes("password"))

	u, err := h.store.Authenticate(context.Background(), username, password)
	switch {
	case err == nil:
		h.ack(connID, evLoginResponse, ackPayload{Success: true, Message: "Login successful", Username: u.Username, Avatar: u.Avatar})
	case err == storage.ErrInvalidCredentials:
		h.ack(connID, evLoginResponse, ackPayload{Success: false, Message: "Invalid username or password"})
	default:
		h.logger.Errorf("authenticating %s: %v", username, err)
		h.ack(connID, evLoginResponse, ackPayload{Success: false, Message: "Login failed"})
	}
}

func (h *handler) onGetUsers(connID string) {
	users, err := h.store.Users(context.Background())
	if err != nil {
		h.logger.Errorf("listing users: %v", err)
		return
	}

	list := make([]wireUser, 0, len(users))
	for _, u := range users {
		list = append(list, wireUser{Username: u.Username, Avatar: u.Avatar, Online: u.Online, LastSeen: u.LastSeen})
	}
	h.ack(connID, evUsersList, list)
}

func (h *handler) onPrivateMessage(connID string, data *fastjson.Value) {
	s, ok := h.registry.SessionFor(connID)
	if !ok {
		h.logger.Debugf("private-message from connection %s without session dropped", connID)
		return
	}

	to := string(data.GetStringBytes("to"))
	body := string(data.GetStringBytes("message"))
	if to == "" || body == "" {
		return
	}

	if _, err := h.router.sendDirect(context.Background(), s, to, body); err != nil {
		h.logger.Errorf("sending direct message from %s: %v", s.Username, err)
	}
}

func (h *handler) onCreateGroup(connID string, data *fastjson.Value) {
	s, ok := h.registry.SessionFor(connID)
	if !ok {
		h.logger.Debugf("create-group from connection %s without session dropped", connID)
		return
	}

	name := string(data.GetStringBytes("groupName"))
	var members []string
	for _, mv := range data.GetArray("members") {
		if b, err := mv.StringBytes(); err == nil {
			members = append(members, string(b))
		}
	}

	_, err := h.router.createGroup(context.Background(), s, name, members)
	switch err {
	case nil:
	case errEmptyGroupName:
		h.ack(connID, evGroupCreated, ackPayload{Success: false, Message: "Group name must not be empty"})
	case errNoMembers:
		h.ack(connID, evGroupCreated, ackPayload{Success: false, Message: "Select at least one member"})
	default:
		h.ack(connID, evGroupCreated, ackPayload{Success: false, Message: "Could not create group"})
	}
}

func (h *handler) onJoinGroup(connID string, data *fastjson.Value) {
	// clients emit either the bare group id or {"groupId": ...}
	groupID := string(data.GetStringBytes())
	if groupID == "" {
		groupID = string(data.GetStringBytes("groupId"))
	}
	if groupID == "" {
		return
	}

	h.directory.Join(connID, groupID)
}

func (h *handler) onGroupMessage(connID string, data *fastjson.Value) {
	s, ok := h.registry.SessionFor(connID)
	if !ok {
		h.logger.Debugf("group-message from connection %s without session dropped", connID)
		return
	}

	groupID := string(data.GetStringBytes("groupId"))
	body := string(data.GetStringBytes("message"))
	if groupID == "" || body == "" {
		return
	}

	if _, err := h.router.sendGroup(context.Background(), s, groupID, body); err != nil {
		h.logger.Errorf("sending group message from %s: %v", s.Username, err)
	}
}

func (h *handler) onTyping(connID string, data *fastjson.Value, stop bool) {
	s, ok := h.registry.SessionFor(connID)
	if !ok {
		return
	}

	to := string(data.GetStringBytes("to"))
	if to == "" {
		return
	}

	h.router.relayTyping(s, to, data.GetBool("isGroup"), stop)
}

func (h *handler) ack(connID, event string, data interface{}) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		h.logger.Errorf("encoding %s event: %v", event, err)
		return
	}
	h.hub.deliver(connID, payload)
}
