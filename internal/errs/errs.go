package errs

import "errors"

// Domain sentinel errors, mapped to HTTP codes in handlers and to
// error-event codes on the WebSocket channel.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExists       = errors.New("session already has live state")
	ErrSessionFinished     = errors.New("session already finished")
	ErrNotAParticipant     = errors.New("connection is not a participant of any session")
	ErrPermissionDenied    = errors.New("caller lacks authority for this action")
	ErrTargetNotFound      = errors.New("target participant not found in session")
	ErrTooManyParticipants = errors.New("session has maximum participants")
)
