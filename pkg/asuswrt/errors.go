package asuswrt

import "errors"

var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginBlocked       = errors.New("login temporarily blocked by the router")
	ErrSessionExpired     = errors.New("session expired")

	// Protocol errors
	ErrUnexpectedResponse = errors.New("unexpected response from router")
)
