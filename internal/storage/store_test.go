package storage

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func randString() string {
	var out strings.Builder
	charSet := "abcdedfghijklmnopqrstABCDEFGHIJKLMNOP"
	length := 10
	for i := 0; i < length; i++ {
		random := rand.Intn(len(charSet))
		randomChar := charSet[random]
		out.WriteString(string(randomChar))
	}
	return out.String()
}

func bootstrap(t *testing.T) *Store {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	s, err := New(logger.Sugar(), TestConfig)
	require.NoError(t, err)

	return s
}

func directMessage(from, to, body string) *Message {
	return &Message{
		ID:           xid.New().String(),
		Kind:         KindDirect,
		FromUsername: from,
		To:           to,
		Body:         body,
		SentAt:       time.Now(),
	}
}

func TestCreateUser(t *testing.T) {
	s := bootstrap(t)

	_, err := s.CreateUser(context.Background(), randString(), "secret", "")
	require.NoError(t, err)
}

func TestCreateUserExists(t *testing.T) {
	s := bootstrap(t)

	username := randString()
	_, err := s.CreateUser(context.Background(), username, "secret", "")
	require.NoError(t, err)
	_, err = s.CreateUser(context.Background(), username, "secret", "")
	require.Equal(t, ErrUserExists, err)
}

func TestCreateUserExistsCaseInsensitive(t *testing.T) {
	s := bootstrap(t)

	username := randString()
	_, err := s.CreateUser(context.Background(), username, "secret", "")
	require.NoError(t, err)
	_, err = s.CreateUser(context.Background(), strings.ToUpper(username), "secret", "")
	require.Equal(t, ErrUserExists, err)
}

func TestAuthenticate(t *testing.T) {
	s := bootstrap(t)

	username := randString()
	_, err := s.CreateUser(context.Background(), username, "secret", "🙂")
	require.NoError(t, err)

	u, err := s.Authenticate(context.Background(), strings.ToUpper(username), "secret")
	require.NoError(t, err)
	require.Equal(t, username, u.Username)
	require.Equal(t, "🙂", u.Avatar)
}

func TestAuthenticateBadPassword(t *testing.T) {
	s := bootstrap(t)

	username := randString()
	_, err := s.CreateUser(context.Background(), username, "secret", "")
	require.NoError(t, err)

	_, err = s.Authenticate(context.Background(), username, "wrong")
	require.Equal(t, ErrInvalidCredentials, err)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	s := bootstrap(t)

	_, err := s.Authenticate(context.Background(), randString(), "secret")
	require.Equal(t, ErrInvalidCredentials, err)
}

func TestUpsertPresenceCreatesRecord(t *testing.T) {
	s := bootstrap(t)

	username := randString()
	u, err := s.UpsertPresence(context.Background(), username, "")
	require.NoError(t, err)
	require.True(t, u.Online)
	require.Equal(t, DefaultUserAvatar, u.Avatar)
}

func TestUpsertPresenceConcurrentFirstConnect(t *testing.T) {
	s := bootstrap(t)

	username := randString()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.UpsertPresence(context.Background(), username, "")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	users, err := s.Users(context.Background())
	require.NoError(t, err)
	seen := 0
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			seen++
		}
	}
	require.Equal(t, 1, seen)
}

func TestMarkOffline(t *testing.T) {
	s := bootstrap(t)

	username := randString()
	_, err := s.UpsertPresence(context.Background(), username, "")
	require.NoError(t, err)

	lastSeen, err := s.MarkOffline(context.Background(), username)
	require.NoError(t, err)
	require.False(t, lastSeen.IsZero())
}

func TestAppendAndConversationMessages(t *testing.T) {
	alice, bob := randString(), randString()
	s := bootstrap(t)

	first := directMessage(alice, bob, "hi")
	require.NoError(t, s.AppendMessage(context.Background(), first))
	second := directMessage(bob, alice, "hello")
	require.NoError(t, s.AppendMessage(context.Background(), second))

	// counterpart lookup folds case in both roles
	messages, err := s.ConversationMessages(context.Background(), strings.ToUpper(alice), bob)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, first.ID, messages[0].ID)
	require.Equal(t, second.ID, messages[1].ID)
}

func TestUserMessagesNewestFirst(t *testing.T) {
	alice, bob, carol := randString(), randString(), randString()
	s := bootstrap(t)

	first := directMessage(alice, bob, "one")
	require.NoError(t, s.AppendMessage(context.Background(), first))
	second := directMessage(carol, alice, "two")
	require.NoError(t, s.AppendMessage(context.Background(), second))

	messages, err := s.UserMessages(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, second.ID, messages[0].ID)
	require.Equal(t, first.ID, messages[1].ID)
}

func TestCreateGroupAndGroupsByMember(t *testing.T) {
	s := bootstrap(t)

	creator, member := randString(), randString()
	g := Group{
		ID:        "group_" + xid.New().String(),
		Name:      randString(),
		Creator:   creator,
		Members:   []string{creator, member},
		Avatar:    DefaultGroupAvatar,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateGroup(context.Background(), g))

	groups, err := s.GroupsByMember(context.Background(), strings.ToUpper(member))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, g.ID, groups[0].ID)
	require.ElementsMatch(t, g.Members, groups[0].Members)
}

func TestCreateGroupExists(t *testing.T) {
	s := bootstrap(t)

	creator := randString()
	g := Group{
		ID:        "group_" + xid.New().String(),
		Name:      randString(),
		Creator:   creator,
		Members:   []string{creator},
		Avatar:    DefaultGroupAvatar,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateGroup(context.Background(), g))
	require.Equal(t, ErrGroupExists, s.CreateGroup(context.Background(), g))
}

func TestGroupMessages(t *testing.T) {
	s := bootstrap(t)

	groupID := "group_" + xid.New().String()
	m := &Message{
		ID:           xid.New().String(),
		Kind:         KindGroup,
		FromUsername: randString(),
		GroupID:      groupID,
		Body:         "hi all",
		SentAt:       time.Now(),
	}
	require.NoError(t, s.AppendMessage(context.Background(), m))

	messages, err := s.GroupMessages(context.Background(), groupID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, m.ID, messages[0].ID)
}
