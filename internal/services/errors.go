package services

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials covers both an unknown identifier and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountBanned is returned when the password matched an inactive account.
	ErrAccountBanned = errors.New("account banned")
	// ErrNotAuthenticated is returned by operations that need a signed-in user.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNotFound hides both missing messages and messages the user may not see.
	ErrNotFound = errors.New("not found")
	// ErrRecipientNotFound is returned when a validated recipient vanished before send.
	ErrRecipientNotFound = errors.New("recipient not found")
)

// ValidationError carries the first failing rule message for each form field,
// keyed by the form field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "validation failed: " + strings.Join(names, ", ")
}

// Get returns the message for field, or an empty string.
func (e *ValidationError) Get(field string) string {
	if e == nil {
		return ""
	}
	return e.Fields[field]
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}
