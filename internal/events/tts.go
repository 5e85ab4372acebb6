package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/domain"
)

// SpeakRequest asks the external TTS collaborator to voice an accepted label.
type SpeakRequest struct {
	SessionID     domain.SessionID     `json:"sessionId"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	Text          string               `json:"text"`
}

// TTSPublisher forwards accepted caption labels fire-and-forget. Failures
// never block or affect caption display.
type TTSPublisher struct {
	pub message.Publisher
}

func NewTTSPublisher(pub message.Publisher) *TTSPublisher {
	return &TTSPublisher{pub: pub}
}

func (p *TTSPublisher) Speak(sid domain.SessionID, pid domain.ParticipantID, text string) {
	b, err := json.Marshal(SpeakRequest{SessionID: sid, ParticipantID: pid, Text: text})
	if err != nil {
		log.Error().Err(err).Str("module", "events.tts").Msg("marshal speak request")
		return
	}
	if err := p.pub.Publish(TopicTTS, message.NewMessage(uuid.NewString(), b)); err != nil {
		log.Warn().Err(err).Str("module", "events.tts").Msg("tts publish failed")
	}
}
