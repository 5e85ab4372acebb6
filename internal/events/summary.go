package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/domain"
)

// SessionSummary is the single final event emitted when a call ends.
// Consumed by the call-history collaborator; the core never blocks on it.
type SessionSummary struct {
	SessionID    domain.SessionID    `json:"sessionId"`
	Kind         domain.SessionKind  `json:"kind"`
	StartedAt    time.Time           `json:"startedAt"`
	EndedAt      time.Time           `json:"endedAt"`
	DurationMs   int64               `json:"durationMs"`
	Participants []domain.IdentityID `json:"participants"`
	PeakQuality  float64             `json:"peakQuality"`
}

type SummaryPublisher struct {
	pub message.Publisher
}

func NewSummaryPublisher(pub message.Publisher) *SummaryPublisher {
	return &SummaryPublisher{pub: pub}
}

// Publish emits the summary fire-and-forget; failures are logged, never
// surfaced to the lifecycle transition that produced them.
func (p *SummaryPublisher) Publish(s SessionSummary) {
	b, err := json.Marshal(s)
	if err != nil {
		log.Error().Err(err).Str("module", "events.summary").Msg("marshal summary")
		return
	}
	msg := message.NewMessage(uuid.NewString(), b)
	if err := p.pub.Publish(TopicSummary, msg); err != nil {
		log.Warn().Err(err).Str("module", "events.summary").
			Str("session", string(s.SessionID)).Msg("summary publish failed")
		return
	}
	log.Info().Str("module", "events.summary").Str("session", string(s.SessionID)).
		Int64("duration_ms", s.DurationMs).Msg("session summary published")
}
