package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/savage-app/savage/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthFixture() (*AuthService, *fakeUsers, *fakeSyncer) {
	users := newFakeUsers()
	syncer := &fakeSyncer{}
	svc := NewAuthService(users, NewValidator(users), syncer, 14*24*time.Hour, zerolog.Nop())
	return svc, users, syncer
}

func validRegisterForm() RegisterForm {
	return RegisterForm{
		FirstName:       "Alice",
		LastName:        "Smith",
		Username:        "alice_s",
		Email:           "alice@example.com",
		Password:        "secret1",
		ConfirmPassword: "secret1",
	}
}

func TestRegisterCreatesUserWithDefaultPermissions(t *testing.T) {
	svc, users, syncer := newAuthFixture()
	ctx := context.Background()

	user, err := svc.Register(ctx, validRegisterForm())
	require.NoError(t, err)
	assert.True(t, user.Active)
	assert.NotEqual(t, "secret1", user.PasswordHash)
	assert.True(t, verifyPassword("secret1", user.PasswordHash))

	perms, err := users.GetPermissions(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Permissions{UserID: user.ID}, perms)
	assert.Equal(t, []string{SyncReasonRegistration}, syncer.calls())
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RegisterForm)
		field  string
		msg    string
	}{
		{"missing first name", func(f *RegisterForm) { f.FirstName = "" }, "first_name", "First Name is required."},
		{"long last name", func(f *RegisterForm) { f.LastName = strings.Repeat("x", 21) }, "last_name", "Last Name must be a maximum of 20 characters."},
		{"bad username", func(f *RegisterForm) { f.Username = "al ice" }, "username", "Username may only contain letters, numbers, dashes and underscores."},
		{"long username", func(f *RegisterForm) { f.Username = strings.Repeat("a", 26) }, "username", "Username must be a maximum of 25 characters."},
		{"bad email", func(f *RegisterForm) { f.Email = "nope" }, "email", "E-Mail must be a valid email address."},
		{"short password", func(f *RegisterForm) { f.Password, f.ConfirmPassword = "abc", "abc" }, "password", "Password must be a minimum of 6 characters."},
		{"mismatched confirm", func(f *RegisterForm) { f.ConfirmPassword = "other1" }, "confirm_password", "Confirm Password must match Password."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, users, _ := newAuthFixture()
			form := validRegisterForm()
			tt.mutate(&form)

			_, err := svc.Register(context.Background(), form)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.msg, verr.Get(tt.field))

			records, _ := users.ListUsernames(context.Background())
			assert.Empty(t, records)
		})
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svc, users, _ := newAuthFixture()
	ctx := context.Background()
	users.add(t, "alice_s", "secret1")

	_, err := svc.Register(ctx, validRegisterForm())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "That username is already taken.", verr.Get("username"))

	form := validRegisterForm()
	form.Username = "someone_else"
	form.Email = "alice_s@example.com"
	_, err = svc.Register(ctx, form)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "That e-mail is already in use.", verr.Get("email"))

	records, _ := users.ListUsernames(ctx)
	assert.Len(t, records, 1)
}

func TestRegisterConflictRaceIsValidationError(t *testing.T) {
	svc, users, _ := newAuthFixture()
	users.conflictOnCreate = true

	_, err := svc.Register(context.Background(), validRegisterForm())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Fields)
}

func TestLogin(t *testing.T) {
	svc, users, _ := newAuthFixture()
	ctx := context.Background()
	alice := users.add(t, "alice", "secret1")

	t.Run("by username", func(t *testing.T) {
		sess := &fakeSession{}
		result, err := svc.Login(ctx, sess, LoginForm{Identifier: "alice", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, alice.ID, sess.userID)
		assert.Nil(t, result.Remember)
	})

	t.Run("by email", func(t *testing.T) {
		sess := &fakeSession{}
		_, err := svc.Login(ctx, sess, LoginForm{Identifier: "alice@example.com", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, alice.ID, sess.userID)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.Login(ctx, &fakeSession{}, LoginForm{})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "E-mail or Username is required.", verr.Get("identifier"))
		assert.Equal(t, "Password is required.", verr.Get("password"))
	})

	t.Run("unknown identifier and wrong password look the same", func(t *testing.T) {
		sess := &fakeSession{}
		_, err := svc.Login(ctx, sess, LoginForm{Identifier: "ghost", Password: "secret1"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = svc.Login(ctx, sess, LoginForm{Identifier: "alice", Password: "wrong-password"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Zero(t, sess.userID)
	})
}

func TestLoginBannedAccount(t *testing.T) {
	svc, users, _ := newAuthFixture()
	ctx := context.Background()
	bob := users.add(t, "bob", "secret1")
	bob.Active = false
	_, err := users.Update(ctx, bob)
	require.NoError(t, err)

	sess := &fakeSession{}
	_, err = svc.Login(ctx, sess, LoginForm{Identifier: "bob", Password: "secret1"})
	assert.ErrorIs(t, err, ErrAccountBanned)
	assert.Zero(t, sess.userID)

	_, err = svc.Login(ctx, sess, LoginForm{Identifier: "bob", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRememberCookieRoundTrip(t *testing.T) {
	svc, users, _ := newAuthFixture()
	ctx := context.Background()
	alice := users.add(t, "alice", "secret1")
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	result, err := svc.Login(ctx, &fakeSession{}, LoginForm{Identifier: "alice", Password: "secret1", Remember: true})
	require.NoError(t, err)
	require.NotNil(t, result.Remember)
	assert.Equal(t, issued.Add(14*24*time.Hour), result.Remember.Expires)

	identifier, token, ok := splitRememberValue(result.Remember.Value)
	require.True(t, ok)
	assert.Len(t, identifier, rememberPartLength)
	assert.Len(t, token, rememberPartLength)
	assert.Regexp(t, `^[a-zA-Z0-9]+$`, identifier)
	assert.Regexp(t, `^[a-zA-Z0-9]+$`, token)

	stored, err := users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, identifier, stored.RememberIdentifier)
	assert.Equal(t, hashToken(token), stored.RememberToken)
	assert.NotEqual(t, token, stored.RememberToken)

	sess := &fakeSession{}
	user, err := svc.AuthenticateRemembered(ctx, sess, result.Remember.Value)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)
	assert.Equal(t, alice.ID, sess.userID)

	tampered := identifier + "." + strings.Repeat("x", rememberPartLength)
	_, err = svc.AuthenticateRemembered(ctx, &fakeSession{}, tampered)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	for _, bad := range []string{"", "no-separator", ".token", "ident."} {
		_, err = svc.AuthenticateRemembered(ctx, &fakeSession{}, bad)
		assert.ErrorIs(t, err, ErrInvalidCredentials, bad)
	}
}

func TestLogoutClearsRememberCredentials(t *testing.T) {
	svc, users, _ := newAuthFixture()
	ctx := context.Background()
	alice := users.add(t, "alice", "secret1")

	sess := &fakeSession{}
	result, err := svc.Login(ctx, sess, LoginForm{Identifier: "alice", Password: "secret1", Remember: true})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, sess, alice.ID))
	assert.Zero(t, sess.userID)

	stored, err := users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.RememberIdentifier)
	assert.Empty(t, stored.RememberToken)

	_, err = svc.AuthenticateRemembered(ctx, &fakeSession{}, result.Remember.Value)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUpdateProfile(t *testing.T) {
	svc, users, _ := newAuthFixture()
	ctx := context.Background()
	alice := users.add(t, "alice", "secret1")
	users.add(t, "bob", "secret1")

	_, err := svc.UpdateProfile(ctx, 0, ProfileForm{})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	updated, err := svc.UpdateProfile(ctx, alice.ID, ProfileForm{FirstName: "Alicia", LastName: "Smith", Email: alice.Email})
	require.NoError(t, err, "keeping the same email passes the uniqueness rule")
	assert.Equal(t, "Alicia", updated.FirstName)

	_, err = svc.UpdateProfile(ctx, alice.ID, ProfileForm{FirstName: "Alicia", LastName: "Smith", Email: "bob@example.com"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "That e-mail is already in use.", verr.Get("email"))
}

func TestUpdatePassword(t *testing.T) {
	svc, users, _ := newAuthFixture()
	ctx := context.Background()
	alice := users.add(t, "alice", "secret1")

	err := svc.UpdatePassword(ctx, 0, PasswordForm{})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	err = svc.UpdatePassword(ctx, alice.ID, PasswordForm{CurrentPassword: "wrong-one", NewPassword: "newpass1", ConfirmNewPassword: "newpass1"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Current Password does not match your current password.", verr.Get("current_password"))

	err = svc.UpdatePassword(ctx, alice.ID, PasswordForm{CurrentPassword: "secret1", NewPassword: "newpass1", ConfirmNewPassword: "different"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Confirm New Password must match New Password.", verr.Get("confirm_new_password"))

	require.NoError(t, svc.UpdatePassword(ctx, alice.ID, PasswordForm{CurrentPassword: "secret1", NewPassword: "newpass1", ConfirmNewPassword: "newpass1"}))

	_, err = svc.Login(ctx, &fakeSession{}, LoginForm{Identifier: "alice", Password: "newpass1"})
	assert.NoError(t, err)
}

func TestRegisterSyncFailureIsNotFatal(t *testing.T) {
	svc, _, syncer := newAuthFixture()
	syncer.err = errors.New("broker down")

	_, err := svc.Register(context.Background(), validRegisterForm())
	assert.NoError(t, err)
}
