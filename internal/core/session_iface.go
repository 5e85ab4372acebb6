package core

import "github.com/conveycall/convey/internal/domain"

// Endpoint pairs a participant record with its transport endpoint.
// This is what the coordinator fans out to.
type Endpoint struct {
	Part *domain.Participant
	Conn SignalConnection
}

// EmptySessionFunc is invoked by the registry when the last active
// participant leaves a session.
type EmptySessionFunc func(domain.SessionID)
