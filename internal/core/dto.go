package core

import (
	"time"

	"github.com/conveycall/convey/internal/domain"
)

// ParticipantDTO is a read-only view for APIs (no transport fields).
type ParticipantDTO struct {
	ID       domain.ParticipantID `json:"id"`
	Identity domain.IdentityID    `json:"identity"`
	JoinedAt time.Time            `json:"joinedAt"`
	Quality  float64              `json:"quality"`
	Band     domain.QualityBand   `json:"band"`
}

// SessionSnapshot is the pull-style dashboard view of one session.
type SessionSnapshot struct {
	ID           domain.SessionID    `json:"id"`
	Kind         domain.SessionKind  `json:"kind"`
	State        domain.SessionState `json:"state"`
	ScheduledAt  *time.Time          `json:"scheduledAt,omitempty"`
	MemberCount  int                 `json:"memberCount"`
	MaxMembers   int                 `json:"maxMembers"`
	Participants []ParticipantDTO    `json:"participants"`
}
