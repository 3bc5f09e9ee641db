package session

import "errors"

var (
	// ErrInvalidCredentials is returned when the server rejects a login.
	// User-correctable; does not touch any existing session.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNoRefreshToken is returned when a refresh is attempted with nothing
	// stored. It immediately forces a logout and issues no HTTP call.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrSessionExpired is returned when the server definitively rejects the
	// refresh token. The session is dead; a logout has been forced.
	ErrSessionExpired = errors.New("session expired")

	// ErrTransientNetwork is returned for transport failures. The session is
	// kept; retrying is at the caller's discretion (the refresh timer rearms
	// itself).
	ErrTransientNetwork = errors.New("transient network error")
)
