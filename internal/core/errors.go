package core

import "errors"

var (
	// ErrInvalidCredentials covers unknown identifiers, wrong passwords, and
	// local login attempts against OAuth-only accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrWrongOldPassword is returned when the old password given to a
	// password change does not match.
	ErrWrongOldPassword = errors.New("old password does not match")
	// ErrInvalidSender is returned for message sender roles other than
	// "user" and "assistant".
	ErrInvalidSender = errors.New("sender must be 'user' or 'assistant'")
)
