package models

import "errors"

// Errors surfaced to clients as structured failure responses. The
// connection always stays open; these only mark the request as failed.
var (
	ErrUsernameTooShort    = errors.New("username must be at least 2 characters")
	ErrUsernameTaken       = errors.New("username already in use")
	ErrNotRegistered       = errors.New("no username registered on this connection")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionFull         = errors.New("session is full")
	ErrAlreadyStarted      = errors.New("game already started")
	ErrNotHost             = errors.New("only the host can perform this action")
	ErrInsufficientPlayers = errors.New("at least 2 players required to start")
	ErrCapacityReached     = errors.New("server session limit reached")
	ErrAlreadyInSession    = errors.New("connection is already in a session")
)
