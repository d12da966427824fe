package localstate

import (
	"database/sql"
	"encoding/json"

	"kios-chat/internal/chatlist"
	"kios-chat/internal/identity"
	"kios-chat/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

const (
	kindDeleted  = "deleted"
	kindArchived = "archived"
)

// DB persists per-username client state: the deleted/archived conversation
// filters and a cache of known groups for offline reconstruction. Rows are
// namespaced by the case-folded owner username so several accounts can share
// one file.
type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS filters (
			owner TEXT NOT NULL,
			key TEXT NOT NULL,
			kind TEXT NOT NULL,
			UNIQUE(owner, key, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			owner TEXT NOT NULL,
			group_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			UNIQUE(owner, group_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_filters_owner ON filters(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_groups_owner ON groups(owner)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// Load returns the filter state for owner. The reserved keys are always
// seeded into Deleted regardless of what is stored.
func (db *DB) Load(owner string) (chatlist.State, error) {
	state := chatlist.NewState()

	rows, err := db.conn.Query("SELECT key, kind FROM filters WHERE owner = ?", identity.Normalize(owner))
	if err != nil {
		return state, err
	}
	defer rows.Close()

	for rows.Next() {
		var key, kind string
		if err := rows.Scan(&key, &kind); err != nil {
			return state, err
		}

		switch kind {
		case kindDeleted:
			state.Deleted[key] = struct{}{}
		case kindArchived:
			state.Archived[key] = struct{}{}
		}
	}

	return state, rows.Err()
}

// MarkDeleted records a soft delete for a conversation key.
func (db *DB) MarkDeleted(owner, key string) error {
	return db.mark(owner, key, kindDeleted)
}

// Revive removes a key from the deleted filter; called when a new inbound
// message arrives for a previously deleted conversation.
func (db *DB) Revive(owner, key string) error {
	return db.unmark(owner, key, kindDeleted)
}

func (db *DB) MarkArchived(owner, key string) error {
	return db.mark(owner, key, kindArchived)
}

func (db *DB) Unarchive(owner, key string) error {
	return db.unmark(owner, key, kindArchived)
}

func (db *DB) mark(owner, key, kind string) error {
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO filters (owner, key, kind) VALUES (?, ?, ?)",
		identity.Normalize(owner), identity.Normalize(key), kind,
	)
	return err
}

func (db *DB) unmark(owner, key, kind string) error {
	_, err := db.conn.Exec(
		"DELETE FROM filters WHERE owner = ? AND key = ? AND kind = ?",
		identity.Normalize(owner), identity.Normalize(key), kind,
	)
	return err
}

// CacheGroup stores or refreshes a group record for owner.
func (db *DB) CacheGroup(owner string, g storage.Group) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(
		"INSERT INTO groups (owner, group_id, payload) VALUES (?, ?, ?) ON CONFLICT(owner, group_id) DO UPDATE SET payload = excluded.payload",
		identity.Normalize(owner), g.ID, string(payload),
	)
	return err
}

// CachedGroups returns every group cached for owner.
func (db *DB) CachedGroups(owner string) ([]storage.Group, error) {
	rows, err := db.conn.Query("SELECT payload FROM groups WHERE owner = ?", identity.Normalize(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []storage.Group
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}

		var g storage.Group
		if err := json.Unmarshal([]byte(payload), &g); err != nil {
			return nil, err
		}

		groups = append(groups, g)
	}

	return groups, rows.Err()
}
