package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/savage-app/savage/internal/store"
	"github.com/savage-app/savage/types"
)

// SessionBinder binds and unbinds the signed-in user on the caller's session.
type SessionBinder interface {
	SetUserID(id int)
	ClearUserID()
}

// SyncRequester asks for the username search index to be refreshed.
type SyncRequester interface {
	RequestSync(ctx context.Context, reason string) error
}

// RememberCookie is the persistent credential issued by a remembered login.
type RememberCookie struct {
	Value   string
	Expires time.Time
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	User     types.User
	Remember *RememberCookie
}

// AuthService implements sign-in, sign-up and account settings.
type AuthService struct {
	users       UserRepository
	validator   *Validator
	syncer      SyncRequester
	rememberTTL time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

func NewAuthService(users UserRepository, validator *Validator, syncer SyncRequester, rememberTTL time.Duration, log zerolog.Logger) *AuthService {
	if rememberTTL <= 0 {
		rememberTTL = 14 * 24 * time.Hour
	}
	return &AuthService{
		users:       users,
		validator:   validator,
		syncer:      syncer,
		rememberTTL: rememberTTL,
		log:         log,
		now:         time.Now,
	}
}

// Login verifies the credentials and binds the user to sess.
func (s *AuthService) Login(ctx context.Context, sess SessionBinder, form LoginForm) (LoginResult, error) {
	if err := s.validator.Validate(ctx, form); err != nil {
		return LoginResult{}, err
	}

	user, err := s.users.GetByIdentifier(ctx, form.Identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			burnPasswordCheck(form.Password)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}
	if !verifyPassword(form.Password, user.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !user.Active {
		return LoginResult{}, ErrAccountBanned
	}

	sess.SetUserID(user.ID)
	result := LoginResult{User: user}
	if !form.Remember {
		return result, nil
	}

	identifier, err := genAlnumString(rememberPartLength)
	if err != nil {
		return LoginResult{}, fmt.Errorf("generate remember identifier: %w", err)
	}
	token, err := genAlnumString(rememberPartLength)
	if err != nil {
		return LoginResult{}, fmt.Errorf("generate remember token: %w", err)
	}
	if err := s.users.UpdateRememberCredentials(ctx, user.ID, identifier, hashToken(token)); err != nil {
		return LoginResult{}, fmt.Errorf("store remember credentials: %w", err)
	}

	result.Remember = &RememberCookie{
		Value:   identifier + rememberSeparator + token,
		Expires: s.now().Add(s.rememberTTL),
	}
	return result, nil
}

// AuthenticateRemembered re-establishes a session from a remember cookie.
// Every failure is reported as ErrInvalidCredentials.
func (s *AuthService) AuthenticateRemembered(ctx context.Context, sess SessionBinder, cookieValue string) (types.User, error) {
	identifier, token, ok := splitRememberValue(cookieValue)
	if !ok {
		return types.User{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByRememberIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, fmt.Errorf("lookup remember identifier: %w", err)
	}
	if !tokenMatches(token, user.RememberToken) || !user.Active {
		return types.User{}, ErrInvalidCredentials
	}

	sess.SetUserID(user.ID)
	return user, nil
}

// Logout unbinds the session and revokes any outstanding remember cookie.
func (s *AuthService) Logout(ctx context.Context, sess SessionBinder, userID int) error {
	sess.ClearUserID()
	if userID < 1 {
		return nil
	}
	if err := s.users.UpdateRememberCredentials(ctx, userID, "", ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("clear remember credentials: %w", err)
	}
	return nil
}

// Register creates the account and its default permissions.
func (s *AuthService) Register(ctx context.Context, form RegisterForm) (types.User, error) {
	if err := s.validator.Validate(ctx, form); err != nil {
		return types.User{}, err
	}

	hashed, err := hashPassword(form.Password)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, types.User{
		FirstName:    form.FirstName,
		LastName:     form.LastName,
		Username:     form.Username,
		Email:        form.Email,
		PasswordHash: hashed,
		Active:       true,
	}, types.DefaultPermissions())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost a race with a concurrent registration.
			if verr := s.validator.Validate(ctx, form); verr != nil {
				return types.User{}, verr
			}
			return types.User{}, newValidationError("username", "That username is already taken.")
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	s.requestSync(ctx, SyncReasonRegistration)
	return user, nil
}

// UpdateProfile changes the names and email of the signed-in user.
func (s *AuthService) UpdateProfile(ctx context.Context, userID int, form ProfileForm) (types.User, error) {
	user, err := s.actor(ctx, userID)
	if err != nil {
		return types.User{}, err
	}
	if err := s.validator.Validate(WithActor(ctx, user), form); err != nil {
		return types.User{}, err
	}

	user.FirstName = form.FirstName
	user.LastName = form.LastName
	user.Email = form.Email
	updated, err := s.users.Update(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, newValidationError("email", "That e-mail is already in use.")
		}
		return types.User{}, fmt.Errorf("update profile: %w", err)
	}
	return updated, nil
}

// UpdatePassword replaces the password after checking the current one.
func (s *AuthService) UpdatePassword(ctx context.Context, userID int, form PasswordForm) error {
	user, err := s.actor(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.validator.Validate(WithActor(ctx, user), form); err != nil {
		return err
	}

	hashed, err := hashPassword(form.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hashed
	if _, err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *AuthService) actor(ctx context.Context, userID int) (types.User, error) {
	if userID < 1 {
		return types.User{}, ErrNotAuthenticated
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrNotAuthenticated
		}
		return types.User{}, err
	}
	return user, nil
}

func (s *AuthService) requestSync(ctx context.Context, reason string) {
	if s.syncer == nil {
		return
	}
	if err := s.syncer.RequestSync(ctx, reason); err != nil {
		s.log.Warn().Err(err).Str("reason", reason).Msg("username sync request failed")
	}
}
