// Package domain contains entities without logic, just meta-data and guards.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type (
	SessionID  string
	IdentityID string
)

type SessionState string

const (
	StateScheduled SessionState = "scheduled"
	StateActive    SessionState = "active"
	StateEnded     SessionState = "ended"
	StateCancelled SessionState = "cancelled"
)

// Terminal reports whether no transition may leave the state.
func (s SessionState) Terminal() bool {
	return s == StateEnded || s == StateCancelled
}

type SessionKind string

const (
	KindPeerToPeer SessionKind = "p2p"
	KindGroup      SessionKind = "group"
)

const (
	MaxPeerToPeerParticipants = 2
	DefaultGroupParticipants  = 20
)

// Session is one logical call. All mutation goes through the registry
// under the per-session guard; nothing outside holds a writable reference.
type Session struct {
	ID          SessionID
	Kind        SessionKind
	State       SessionState
	CreatedAt   time.Time
	ScheduledAt time.Time // zero when the call starts immediately
	StartedAt   time.Time
	EndedAt     time.Time
	Initiator   IdentityID
	Invited     []IdentityID
	MaxMembers  int
}

// NewSession allocates a session in Scheduled or Active state.
// A non-zero scheduledAt must be strictly in the future.
func NewSession(initiator IdentityID, invited []IdentityID, kind SessionKind, scheduledAt time.Time, maxMembers int) (*Session, error) {
	now := time.Now()
	if maxMembers <= 0 {
		maxMembers = DefaultGroupParticipants
	}
	if kind == KindPeerToPeer {
		maxMembers = MaxPeerToPeerParticipants
	}
	s := &Session{
		ID:         SessionID(uuid.NewString()),
		Kind:       kind,
		State:      StateActive,
		CreatedAt:  now,
		StartedAt:  now,
		Initiator:  initiator,
		Invited:    invited,
		MaxMembers: maxMembers,
	}
	if !scheduledAt.IsZero() {
		if !scheduledAt.After(now) {
			return nil, ErrInvalidSchedule
		}
		s.State = StateScheduled
		s.ScheduledAt = scheduledAt
		s.StartedAt = time.Time{}
	}
	return s, nil
}

// IsScheduled reports whether the session still waits for its start time.
func (s *Session) IsScheduled() bool { return s.State == StateScheduled }
