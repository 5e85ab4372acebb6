package domain

import "errors"

var (
	ErrInvalidSchedule = errors.New("scheduled start must be in the future")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionFull     = errors.New("session full")
	ErrSessionClosed   = errors.New("session closed")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrInvalidState    = errors.New("invalid session state")
	ErrUnknownTarget   = errors.New("unknown target participant")
	ErrNotInitiator    = errors.New("only the initiator may do this")
)
