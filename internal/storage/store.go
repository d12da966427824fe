package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"kios-chat/internal/storage/zapadapter"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrGroupExists        = errors.New("group already exists")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() {
	s.db.Close()
}

// CreateUser creates a user record with the provided plaintext password and
// avatar. Username uniqueness is case-insensitive.
func (s *Store) CreateUser(ctx context.Context, username, password, avatar string) (User, error) {
	s.logger.Debugf("Creating user (%s)", username)

	if avatar == "" {
		avatar = DefaultUserAvatar
	}

	u := User{Username: username, Avatar: avatar, CreatedAt: time.Now()}
	sql := "insert into users (username, password, avatar, online, created_at) values ($1, $2, $3, false, $4)"
	_, err := s.db.Exec(ctx, sql, username, password, avatar, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation {
				return User{}, ErrUserExists
			}
		}
		return User{}, err
	}

	s.logger.Debugf("Created user (%s)", username)

	return u, nil
}

// Authenticate verifies username/password and returns the stored user.
// Username comparison is case-insensitive; password comparison is exact.
func (s *Store) Authenticate(ctx context.Context, username, password string) (User, error) {
	var u User
	var stored string
	sql := `select username, password, avatar, online, coalesce(last_seen, created_at), created_at
			  from users
			 where lower(username) = lower($1)`
	err := s.db.QueryRow(ctx, sql, username).Scan(&u.Username, &stored, &u.Avatar, &u.Online, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	if stored != password {
		return User{}, ErrInvalidCredentials
	}

	return u, nil
}

// UpsertPresence marks the user online and refreshes last_seen and avatar.
// A user connecting for the first time gets a record created on the fly,
// matching the behaviour of session registration.
func (s *Store) UpsertPresence(ctx context.Context, username, avatar string) (User, error) {
	s.logger.Debugf("Marking user (%s) online", username)

	if avatar == "" {
		avatar = DefaultUserAvatar
	}

	now := time.Now()

	// single statement so two concurrent first-time connects cannot race an
	// update-then-insert fallback into a unique violation
	var u User
	sql := `insert into users (username, password, avatar, online, last_seen, created_at)
			values ($1, '', $2, true, $3, $3)
	   on conflict (lower(username)) do update
			   set online = true, last_seen = excluded.last_seen, avatar = excluded.avatar
		 returning username, avatar, online, last_seen, created_at`
	err := s.db.QueryRow(ctx, sql, username, avatar, now).Scan(&u.Username, &u.Avatar, &u.Online, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}

	return u, nil
}

// MarkOffline records a disconnect and returns the last_seen instant written.
func (s *Store) MarkOffline(ctx context.Context, username string) (time.Time, error) {
	s.logger.Debugf("Marking user (%s) offline", username)

	now := time.Now()
	sql := "update users set online = false, last_seen = $2 where lower(username) = lower($1)"
	_, err := s.db.Exec(ctx, sql, username, now)
	if err != nil {
		return time.Time{}, err
	}

	return now, nil
}

// Users returns all registered users ordered by username.
func (s *Store) Users(ctx context.Context) ([]User, error) {
	sql := `select username, avatar, online, coalesce(last_seen, created_at), created_at
			  from users
			 order by username`
	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		err = rows.Scan(&u.Username, &u.Avatar, &u.Online, &u.LastSeen, &u.CreatedAt)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return users, nil
}

// AppendMessage appends a message to the log unconditionally and fills in the
// append-order sequence. It is called before any fan-out so that a failed
// write aborts the whole send.
func (s *Store) AppendMessage(ctx context.Context, m *Message) error {
	s.logger.Debugf("Appending %s message (%s) from %s", m.Kind, m.ID, m.FromUsername)

	sql := `insert into messages (id, kind, from_username, to_username, group_id, body, sent_at)
			values ($1, $2, $3, $4, $5, $6, $7)
		 returning seq`
	return s.db.QueryRow(ctx, sql, m.ID, m.Kind, m.FromUsername, m.To, m.GroupID, m.Body, m.SentAt).Scan(&m.Seq)
}

const messageColumns = "seq, id, kind, from_username, coalesce(to_username, ''), coalesce(group_id, ''), body, sent_at"

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		err := rows.Scan(&m.Seq, &m.ID, &m.Kind, &m.FromUsername, &m.To, &m.GroupID, &m.Body, &m.SentAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return messages, nil
}

// ConversationMessages returns all direct messages between two users,
// case-insensitively matched, ordered from earliest to latest with append
// order as the tie-break.
func (s *Store) ConversationMessages(ctx context.Context, user, counterpart string) ([]Message, error) {
	s.logger.Debugf("Retrieving conversation %s/%s", user, counterpart)

	sql := `select ` + messageColumns + `
			  from messages
			 where kind = 'direct'
			   and ((lower(from_username) = lower($1) and lower(to_username) = lower($2))
				 or (lower(from_username) = lower($2) and lower(to_username) = lower($1)))
			 order by sent_at asc, seq asc`
	rows, err := s.db.Query(ctx, sql, user, counterpart)
	if err != nil {
		return nil, err
	}

	return scanMessages(rows)
}

// GroupMessages returns all messages of one group ordered from earliest to latest.
func (s *Store) GroupMessages(ctx context.Context, groupID string) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for group (%s)", groupID)

	sql := `select ` + messageColumns + `
			  from messages
			 where kind = 'group' and group_id = $1
			 order by sent_at asc, seq asc`
	rows, err := s.db.Query(ctx, sql, groupID)
	if err != nil {
		return nil, err
	}

	return scanMessages(rows)
}

// UserMessages returns all direct messages where the user is sender or
// recipient, newest first. This feeds the client-side chat list rebuild.
func (s *Store) UserMessages(ctx context.Context, user string) ([]Message, error) {
	s.logger.Debugf("Retrieving messages involving user (%s)", user)

	sql := `select ` + messageColumns + `
			  from messages
			 where kind = 'direct'
			   and (lower(from_username) = lower($1) or lower(to_username) = lower($1))
			 order by sent_at desc, seq desc`
	rows, err := s.db.Query(ctx, sql, user)
	if err != nil {
		return nil, err
	}

	return scanMessages(rows)
}

// CreateGroup performs a two-step transaction to persist a group
// (1. insert group record; 2. bulk insert on group_members table)
func (s *Store) CreateGroup(ctx context.Context, g Group) error {
	s.logger.Debugf("Creating group (%s) with members (%v)", g.Name, g.Members)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	sql := "insert into groups (id, name, creator, avatar, created_at) values ($1, $2, $3, $4, $5)"
	_, err = tx.Exec(ctx, sql, g.ID, g.Name, g.Creator, g.Avatar, g.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation {
				return ErrGroupExists
			}
		}
		return err
	}

	rows := make([]memberRow, 0, len(g.Members))
	for _, member := range g.Members {
		rows = append(rows, memberRow{
			groupID:  g.ID,
			username: member,
		})
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"group_members"}, []string{"group_id", "username"}, copyFromMembers(rows))
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GroupsByMember returns all groups the user belongs to, newest first.
// Membership matching is case-insensitive.
func (s *Store) GroupsByMember(ctx context.Context, username string) ([]Group, error) {
	s.logger.Debugf("Retrieving groups for member (%s)", username)

	sql := `select g.id, g.name, g.creator, g.avatar, g.created_at,
				   (select array_agg(m.username) from group_members m where m.group_id = g.id) as members
			  from groups g
			  join group_members gm
				on gm.group_id = g.id
			 where lower(gm.username) = lower($1)
			 order by g.created_at desc`
	rows, err := s.db.Query(ctx, sql, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		var members pgtype.TextArray
		err = rows.Scan(&g.ID, &g.Name, &g.Creator, &g.Avatar, &g.CreatedAt, &members)
		if err != nil {
			return nil, err
		}

		err = members.AssignTo(&g.Members)
		if err != nil {
			return nil, err
		}

		groups = append(groups, g)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d groups", len(groups))

	return groups, nil
}
