package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/savage-app/savage/config"
	"github.com/savage-app/savage/internal/db"
	"github.com/savage-app/savage/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	conn, err := db.Open(context.Background(), config.Config{Database: config.DatabaseConfig{
		Driver:      db.DriverSQLite,
		Path:        filepath.Join(t.TempDir(), "store.db"),
		AutoMigrate: true,
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func createUser(t *testing.T, repo *UserRepository, username string) types.User {
	t.Helper()

	user, err := repo.Create(context.Background(), types.User{
		FirstName:    "First",
		LastName:     "Last",
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		Active:       true,
	}, types.DefaultPermissions())
	require.NoError(t, err)
	return user
}

func TestUserRepositoryCreateWithPermissions(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()

	user := createUser(t, repo, "alice")
	require.NotZero(t, user.ID)

	perms, err := repo.GetPermissions(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, perms.UserID)
	assert.False(t, perms.IsAdmin)
	assert.False(t, perms.IsHeadAdmin)

	byName, err := repo.GetByIdentifier(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	byEmail, err := repo.GetByIdentifier(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)
	assert.True(t, byEmail.Active)
	assert.Equal(t, "hash", byEmail.PasswordHash)
}

func TestUserRepositoryCreateDuplicate(t *testing.T) {
	conn := newTestDB(t)
	repo := NewUserRepository(conn)
	ctx := context.Background()

	createUser(t, repo, "alice")

	_, err := repo.Create(ctx, types.User{
		FirstName: "A", LastName: "B", Username: "alice", Email: "other@example.com", PasswordHash: "x", Active: true,
	}, types.DefaultPermissions())
	assert.ErrorIs(t, err, ErrConflict)

	var users, perms int
	require.NoError(t, conn.Get(&users, `SELECT COUNT(1) FROM users`))
	require.NoError(t, conn.Get(&perms, `SELECT COUNT(1) FROM permissions`))
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, perms)
}

func TestUserRepositoryNotFound(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.GetByID(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByIdentifier(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByRememberIdentifier(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Update(ctx, types.User{ID: 42})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepositoryUpdateAndRemember(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()

	user := createUser(t, repo, "alice")
	bob := createUser(t, repo, "bob")

	user.FirstName = "Alicia"
	user.Email = "alicia@example.com"
	_, err := repo.Update(ctx, user)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", got.FirstName)
	assert.Equal(t, "alicia@example.com", got.Email)

	bob.Email = "alicia@example.com"
	_, err = repo.Update(ctx, bob)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, repo.UpdateRememberCredentials(ctx, user.ID, "ident", "digest"))
	remembered, err := repo.GetByRememberIdentifier(ctx, "ident")
	require.NoError(t, err)
	assert.Equal(t, user.ID, remembered.ID)
	assert.Equal(t, "digest", remembered.RememberToken)

	require.NoError(t, repo.UpdateRememberCredentials(ctx, user.ID, "", ""))
	_, err = repo.GetByRememberIdentifier(ctx, "ident")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepositoryListUsernames(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))

	alice := createUser(t, repo, "alice")
	bob := createUser(t, repo, "bob")

	records, err := repo.ListUsernames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.UsernameRecord{
		{ID: alice.ID, Username: "alice"},
		{ID: bob.ID, Username: "bob"},
	}, records)
}

func TestMessageRepositoryFolders(t *testing.T) {
	conn := newTestDB(t)
	users := NewUserRepository(conn)
	messages := NewMessageRepository(conn)
	ctx := context.Background()

	alice := createUser(t, users, "alice")
	bob := createUser(t, users, "bob")

	first, err := messages.Create(ctx, types.DirectMessage{SenderID: bob.ID, ReceiverID: alice.ID, Subject: "Hi", Body: "body1"})
	require.NoError(t, err)
	second, err := messages.Create(ctx, types.DirectMessage{SenderID: bob.ID, ReceiverID: alice.ID, Subject: "Again", Body: "body2"})
	require.NoError(t, err)

	inbox, err := messages.ListReceived(ctx, alice.ID, false)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, second.ID, inbox[0].ID)
	assert.Equal(t, first.ID, inbox[1].ID)
	assert.Equal(t, "bob", inbox[0].SenderUsername)
	assert.Equal(t, "alice", inbox[0].ReceiverUsername)
	assert.False(t, inbox[0].Viewed)

	unread, err := messages.CountUnread(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	require.NoError(t, messages.SetViewed(ctx, first.ID))
	require.NoError(t, messages.SetDeleted(ctx, second.ID, true))

	inbox, err = messages.ListReceived(ctx, alice.ID, false)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.True(t, inbox[0].Viewed)

	trash, err := messages.ListReceived(ctx, alice.ID, true)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, second.ID, trash[0].ID)

	unread, err = messages.CountUnread(ctx, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)

	sent, err := messages.ListSent(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, sent, 2)

	sent, err = messages.ListSent(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, sent)
}

func TestMessageRepositoryDeleteCascadesResponses(t *testing.T) {
	conn := newTestDB(t)
	users := NewUserRepository(conn)
	messages := NewMessageRepository(conn)
	responses := NewResponseRepository(conn)
	ctx := context.Background()

	alice := createUser(t, users, "alice")
	bob := createUser(t, users, "bob")

	msg, err := messages.Create(ctx, types.DirectMessage{SenderID: bob.ID, ReceiverID: alice.ID, Subject: "Hi", Body: "body"})
	require.NoError(t, err)

	_, err = responses.Create(ctx, types.DirectMessageResponse{MessageID: msg.ID, SenderID: alice.ID, Body: "first"})
	require.NoError(t, err)
	latest, err := responses.Create(ctx, types.DirectMessageResponse{MessageID: msg.ID, SenderID: bob.ID, Body: "second"})
	require.NoError(t, err)
	require.NoError(t, messages.SetHasReply(ctx, msg.ID))

	thread, err := responses.ListByMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, latest.ID, thread[0].ID)
	assert.Equal(t, "bob", thread[0].OwnerUsername)

	view, err := messages.GetView(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, view.HasReply)

	require.NoError(t, messages.Delete(ctx, msg.ID))

	_, err = messages.Get(ctx, msg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, messages.Delete(ctx, msg.ID), ErrNotFound)

	var remaining int
	require.NoError(t, conn.Get(&remaining, `SELECT COUNT(1) FROM direct_messages_responses`))
	assert.Zero(t, remaining)
}
