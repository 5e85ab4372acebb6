package domain

import (
	"time"

	"github.com/google/uuid"
)

type ParticipantID string

// Participant is a session membership record. It never exists without a
// referencing session; the registry owns the record, the signal adapter
// owns the connection bound to it.
type Participant struct {
	ID       ParticipantID
	Identity IdentityID
	JoinedAt time.Time
	LeftAt   time.Time // zero while the membership is active
}

func NewParticipant(identity IdentityID) *Participant {
	return &Participant{
		ID:       ParticipantID(uuid.NewString()),
		Identity: identity,
		JoinedAt: time.Now(),
	}
}

// Active reports whether the participant has not left yet.
func (p *Participant) Active() bool { return p.LeftAt.IsZero() }
