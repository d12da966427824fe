package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"sort"
	"sync"
	"time"

	"kios-chat/internal/chatlist"
	"kios-chat/internal/identity"
	"kios-chat/internal/localstate"
	"kios-chat/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// Event names as carried over the channel; must stay in sync with what the
// server emits and accepts.
const (
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

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	ServerURL string `env:"SERVER_URL" envDefault:"ws://127.0.0.1:9000/ws"`
	HTTPURL   string `env:"HTTP_URL" envDefault:"http://127.0.0.1:9000"`
	StatePath string `env:"STATE_PATH" envDefault:"kioschat-client.db"`
	Username  string `env:"CHAT_USERNAME"`
	Avatar    string `env:"CHAT_AVATAR"`
}

// Client is one logged-in chat session: the channel connection, the locally
// persisted filter state, and the reconciled chat list.
type Client struct {
	logger   *zap.SugaredLogger
	conn     *websocket.Conn
	httpURL  string
	http     *http.Client
	local    *localstate.DB
	username string
	avatar   string

	writeMu sync.Mutex

	mu       sync.Mutex
	state    chatlist.State
	entries  []chatlist.Entry
	presence map[string]storage.User
	groups   map[string]storage.Group

	typing *typingSignaler
	pool   fastjson.ParserPool
}

// Dial opens the channel, announces the session with a register event and
// returns the Client. Run must be called to start processing events.
func Dial(logger *zap.SugaredLogger, cfg EnvConfig, username, avatar string) (*Client, error) {
	local, err := localstate.New(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("opening local state: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(cfg.ServerURL, nil)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("dialing %s: %w", cfg.ServerURL, err)
	}

	c := &Client{
		logger:   logger,
		conn:     conn,
		httpURL:  cfg.HTTPURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		local:    local,
		username: username,
		avatar:   avatar,
		state:    chatlist.NewState(),
		presence: make(map[string]storage.User),
		groups:   make(map[string]storage.Group),
	}
	c.typing = newTypingSignaler(c.sendTyping)

	if err := c.sendEvent(evRegister, map[string]string{"username": username, "avatar": avatar}); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// Close tears the session down: pending typing timers are cancelled, the
// channel and the local state database are closed.
func (c *Client) Close() error {
	c.typing.stopAll()
	c.conn.Close()
	return c.local.Close()
}

// Run reads events until the connection fails or is closed.
func (c *Client) Run() error {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	parser := c.pool.Get()
	defer c.pool.Put(parser)

	v, err := parser.ParseBytes(raw)
	if err != nil {
		c.logger.Warnf("Malformed event dropped: %v", err)
		return
	}

	name := string(v.GetStringBytes("event"))
	data := v.Get("data")
	if data == nil {
		return
	}
	payload := data.MarshalTo(nil)

	switch name {
	case evRegistered:
		c.onRegistered()
	case evUsersList:
		c.onUsersList(payload)
	case evUserConnected:
		c.onUserConnected(payload)
	case evUserDisconnected:
		c.onUserDisconnected(payload)
	case evReceiveMsg, evMessageSent, evReceiveGroupMsg:
		c.onMessage(payload)
	case evGroupCreated, evNewGroup:
		c.onGroup(payload)
	case evRegisterResponse, evLoginResponse:
		c.logger.Infof("%s: %s", name, payload)
	case evUserTyping, evUserStopTyping:
		c.logger.Debugf("%s: %s", name, payload)
	default:
		c.logger.Debugf("Unknown event %q dropped", name)
	}
}

// onRegistered runs once the server confirms admission: load the persisted
// filter state, rejoin cached group rooms, then rebuild the chat list from
// the durable message log.
func (c *Client) onRegistered() {
	state, err := c.local.Load(c.username)
	if err != nil {
		c.logger.Errorf("loading local state: %v", err)
		state = chatlist.NewState()
	}

	cached, err := c.local.CachedGroups(c.username)
	if err != nil {
		c.logger.Errorf("loading cached groups: %v", err)
	}

	c.mu.Lock()
	c.state = state
	for _, g := range cached {
		c.groups[g.ID] = g
	}
	c.mu.Unlock()

	for _, groupID := range replayTargets(c.username, cached, state) {
		if err := c.sendEvent(evJoinGroup, map[string]string{"groupId": groupID}); err != nil {
			c.logger.Errorf("rejoining group %s: %v", groupID, err)
		}
	}

	if err := c.refresh(); err != nil {
		c.logger.Errorf("rebuilding chat list: %v", err)
	}
}

// replayTargets selects the cached groups worth rejoining: the user must be
// a member (case-insensitive) and the conversation must not be locally
// deleted or archived.
func replayTargets(me string, cached []storage.Group, state chatlist.State) []string {
	targets := make([]string, 0, len(cached))
	for _, g := range cached {
		if !memberOf(g, me) {
			continue
		}
		if _, ok := state.Deleted[g.ID]; ok {
			continue
		}
		if _, ok := state.Archived[g.ID]; ok {
			continue
		}
		targets = append(targets, g.ID)
	}
	return targets
}

func memberOf(g storage.Group, me string) bool {
	for _, m := range g.Members {
		if identity.Equal(m, me) {
			return true
		}
	}
	return false
}

// refresh refetches users and the direct-message log and reconciles the chat
// list from scratch. Known groups are surfaced below the direct
// conversations so a group chat is visible before its first message.
func (c *Client) refresh() error {
	var users []storage.User
	if err := c.post("/users/get", map[string]string{}, &users); err != nil {
		return err
	}

	var log []storage.Message
	if err := c.post("/messages/user/get", map[string]string{"user": c.username}, &log); err != nil {
		return err
	}

	// the endpoint returns newest first; reconciliation wants append order
	for i, j := 0, len(log)-1; i < j; i, j = i+1, j-1 {
		log[i], log[j] = log[j], log[i]
	}

	presence := make(map[string]storage.User, len(users))
	for _, u := range users {
		presence[identity.Normalize(u.Username)] = u
	}

	c.mu.Lock()
	c.presence = presence
	entries := chatlist.Reconcile(c.username, log, c.state, presence)

	ids := make([]string, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		g := c.groups[id]
		if !memberOf(g, c.username) {
			continue
		}
		entries = chatlist.SurfaceGroup(entries, g.ID, g.Name, c.state)
	}

	c.entries = entries
	c.mu.Unlock()

	return nil
}

func (c *Client) onUsersList(payload []byte) {
	var users []storage.User
	if err := json.Unmarshal(payload, &users); err != nil {
		c.logger.Warnf("Malformed users-list dropped: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range users {
		c.presence[identity.Normalize(u.Username)] = u
	}
}

func (c *Client) onUserConnected(payload []byte) {
	var u storage.User
	if err := json.Unmarshal(payload, &u); err != nil {
		c.logger.Warnf("Malformed user-connected dropped: %v", err)
		return
	}
	u.Online = true

	c.mu.Lock()
	c.presence[identity.Normalize(u.Username)] = u
	c.mu.Unlock()
}

func (c *Client) onUserDisconnected(payload []byte) {
	var gone struct {
		Username string    `json:"username"`
		LastSeen time.Time `json:"lastSeen"`
	}
	if err := json.Unmarshal(payload, &gone); err != nil {
		c.logger.Warnf("Malformed user-disconnected dropped: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := identity.Normalize(gone.Username)
	if u, ok := c.presence[key]; ok {
		u.Online = false
		u.LastSeen = gone.LastSeen
		c.presence[key] = u
	}
}

func (c *Client) onMessage(payload []byte) {
	var m storage.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		c.logger.Warnf("Malformed message dropped: %v", err)
		return
	}

	c.mu.Lock()
	names := make(map[string]string, len(c.groups))
	for id, g := range c.groups {
		names[id] = g.Name
	}

	entries, revived := chatlist.Apply(c.entries, c.username, m, c.state, c.presence, names)
	c.entries = entries
	c.mu.Unlock()

	if revived {
		key := m.GroupID
		if m.Kind == storage.KindDirect {
			key = m.FromUsername
			if identity.Equal(m.FromUsername, c.username) {
				key = m.To
			}
		}
		if err := c.local.Revive(c.username, key); err != nil {
			c.logger.Errorf("persisting revived conversation %s: %v", key, err)
		}
	}
}

func (c *Client) onGroup(payload []byte) {
	var g storage.Group
	if err := json.Unmarshal(payload, &g); err != nil {
		c.logger.Warnf("Malformed group event dropped: %v", err)
		return
	}
	if g.ID == "" {
		// failed create-group acks arrive on the same event name
		c.logger.Infof("Group creation failed: %s", payload)
		return
	}

	c.mu.Lock()
	c.groups[g.ID] = g
	c.entries = chatlist.SurfaceGroup(c.entries, g.ID, g.Name, c.state)
	c.mu.Unlock()

	if err := c.local.CacheGroup(c.username, g); err != nil {
		c.logger.Errorf("caching group %s: %v", g.ID, err)
	}

	if err := c.sendEvent(evJoinGroup, map[string]string{"groupId": g.ID}); err != nil {
		c.logger.Errorf("joining group %s: %v", g.ID, err)
	}
}

// SendDirect sends a direct message.
func (c *Client) SendDirect(to, body string) error {
	return c.sendEvent(evPrivateMsg, map[string]string{"to": to, "message": body})
}

// SendGroup sends a message to a group room.
func (c *Client) SendGroup(groupID, body string) error {
	return c.sendEvent(evGroupMsg, map[string]string{"groupId": groupID, "message": body})
}

// CreateGroup asks the server to create a group; the creator is always
// included in the membership server-side.
func (c *Client) CreateGroup(name string, members []string) error {
	return c.sendEvent(evCreateGroup, map[string]interface{}{"groupName": name, "members": members})
}

// JoinGroup binds this connection to a group room; joining twice is a no-op.
func (c *Client) JoinGroup(groupID string) error {
	return c.sendEvent(evJoinGroup, map[string]string{"groupId": groupID})
}

// RegisterUser creates a durable account.
func (c *Client) RegisterUser(username, password, avatar string) error {
	return c.sendEvent(evRegisterUser, map[string]string{"username": username, "password": password, "avatar": avatar})
}

// Login authenticates against a durable account.
func (c *Client) Login(username, password string) error {
	return c.sendEvent(evLoginUser, map[string]string{"username": username, "password": password})
}

// Keystroke reports typing input for a conversation; a stop signal is
// emitted automatically after two seconds of silence.
func (c *Client) Keystroke(to string, isGroup bool) {
	c.typing.keystroke(to, isGroup)
}

// DeleteConversation soft-deletes a chat-list entry; any new inbound message
// for the key revives it.
func (c *Client) DeleteConversation(key string) error {
	key = identity.Normalize(key)

	c.mu.Lock()
	c.state.Deleted[key] = struct{}{}
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.Key != key {
			kept = append(kept, e)
		}
	}
	c.entries = kept
	c.mu.Unlock()

	return c.local.MarkDeleted(c.username, key)
}

// Entries returns a snapshot of the reconciled chat list, most recent first.
func (c *Client) Entries() []chatlist.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chatlist.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Client) sendTyping(to string, isGroup, stop bool) {
	name := evTyping
	if stop {
		name = evStopTyping
	}
	if err := c.sendEvent(name, map[string]interface{}{"to": to, "isGroup": isGroup}); err != nil {
		c.logger.Debugf("sending %s: %v", name, err)
	}
}

func (c *Client) sendEvent(name string, data interface{}) error {
	payload, err := json.Marshal(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{name, data})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) post(path string, body interface{}, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.http.Post(c.httpURL+path, "application/json", bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := ioutil.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s: %s", path, resp.Status, bytes.TrimSpace(text))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
