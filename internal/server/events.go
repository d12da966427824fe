package server

import (
	"encoding/json"
	"time"
)

// Event names carried over the WebSocket channel. Inbound names match what
// clients emit; outbound names are what clients subscribe to.
const (
	// inbound
	evRegister     = "register"
	evRegisterUser = "register-user"
	evLoginUser    = "login-user"
	evGetUsers     = "get-users"
	evPrivateMsg   = "private-message"
	evCreateGroup  = "create-group"
	evJoinGroup    = "join-group"
	evGroupMsg     = "group-message"
	evTyping       = "typing"
	evStopTyping   = "stop-typing"

	// outbound
	evRegistered       = "registered"
	evRegisterResponse = "register-response"
	evLoginResponse    = "login-response"
	evUsersList        = "users-list"
	evUserConnected    = "user-connected"
	evUserDisconnected = "user-disconnected"
	evReceiveMsg       = "receive-message"
	evMessageSent      = "message-sent"
	evGroupCreated     = "group-created"
	evNewGroup         = "new-group"
	evReceiveGroupMsg  = "receive-group-message"
	evUserTyping       = "user-typing"
	evUserStopTyping   = "user-stop-typing"
)

// wireUser is the presence representation sent over the channel. It reflects
// a live session, not the durable user record.
type wireUser struct {
	ID       string    `json:"id,omitempty"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

type ackPayload struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type registeredPayload struct {
	Success bool     `json:"success"`
	User    wireUser `json:"user"`
}

type disconnectedPayload struct {
	Username string    `json:"username"`
	LastSeen time.Time `json:"lastSeen"`
}

type typingPayload struct {
	From    string `json:"from"`
	IsGroup bool   `json:"isGroup,omitempty"`
}

// encodeEvent wraps a payload in the {"event": ..., "data": ...} envelope.
func encodeEvent(name string, data interface{}) ([]byte, error) {
	return json.Marshal(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{name, data})
}
