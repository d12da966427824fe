package storage

import "time"

// Message kinds as stored in the log.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// Default display glyphs assigned when a client registers without one.
const (
	DefaultUserAvatar  = "👤"
	DefaultGroupAvatar = "👥"
)

type User struct {
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is one record of the append-only log. Seq is the append-order
// sequence and the stable tie-break for equal timestamps; it is not exposed
// on the wire.
type Message struct {
	Seq          int64     `json:"-"`
	ID           string    `json:"id"`
	Kind         string    `json:"type"`
	FromUsername string    `json:"fromUsername"`
	To           string    `json:"to,omitempty"`
	GroupID      string    `json:"groupId,omitempty"`
	Body         string    `json:"message"`
	SentAt       time.Time `json:"timestamp"`
}

// Group membership is fixed at creation time; the creator is always a member.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	Members   []string  `json:"members"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}
