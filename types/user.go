package types

import "time"

// User represents an account in the system.
// It contains identity, profile, credential, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// FirstName is the user's given name.
	FirstName string `json:"first_name" db:"first_name"`

	// LastName is the user's family name.
	LastName string `json:"last_name" db:"last_name"`

	// Username is the unique handle used for login and message addressing.
	Username string `json:"username" db:"username"`

	// Email is the user's unique email address, also accepted at login.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in responses.
	PasswordHash string `json:"-" db:"password"`

	// Active is false when the account has been banned.
	Active bool `json:"active" db:"active"`

	// RememberIdentifier is the plaintext half of the remember-me
	// credential pair. Empty when no remember cookie is outstanding.
	RememberIdentifier string `json:"-" db:"remember_identifier"`

	// RememberToken is the SHA-256 hex digest of the secret half of the
	// remember-me credential pair.
	RememberToken string `json:"-" db:"remember_token"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FullName joins the first and last name for display.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Permissions holds the authorization flags of a user. Exactly one row
// exists per user, created together with the account.
type Permissions struct {
	// UserID is the identifier of the user these flags belong to.
	UserID int `json:"user_id" db:"user_id"`

	// IsAdmin grants access to administrative functions.
	IsAdmin bool `json:"is_admin" db:"is_admin"`

	// IsHeadAdmin grants management of other administrators.
	IsHeadAdmin bool `json:"is_head_admin" db:"is_head_admin"`
}

// DefaultPermissions returns the flags assigned at registration.
func DefaultPermissions() Permissions {
	return Permissions{IsAdmin: false, IsHeadAdmin: false}
}

// UsernameRecord is the projection of a user pushed to the search index.
type UsernameRecord struct {
	ID       int    `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
}
