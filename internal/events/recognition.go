package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/domain"
)

// RecognitionMessage is the wire shape of one recognition event on the bus.
// SourceTimestampMs is when the underlying video frame was captured,
// ArrivalTimestampMs when the ingress adapter received the prediction.
type RecognitionMessage struct {
	SessionID          domain.SessionID     `json:"sessionId"`
	ParticipantID      domain.ParticipantID `json:"participantId"`
	Label              string               `json:"label"`
	Confidence         float64              `json:"confidence"`
	SourceTimestampMs  int64                `json:"sourceTimestampMs"`
	ArrivalTimestampMs int64                `json:"arrivalTimestampMs"`
}

// PublishRecognition puts one recognition event on the bus.
func PublishRecognition(pub message.Publisher, rm RecognitionMessage) error {
	b, err := json.Marshal(rm)
	if err != nil {
		return err
	}
	return pub.Publish(TopicRecognition, message.NewMessage(uuid.NewString(), b))
}

// CaptionFeeder is the piece of the caption pipeline the consumer feeds.
type CaptionFeeder interface {
	Offer(sid domain.SessionID, pid domain.ParticipantID, ev domain.RecognitionEvent)
}

// RecognitionConsumer pumps recognition messages off the bus into the
// caption pipeline of the session they belong to.
type RecognitionConsumer struct {
	sub   message.Subscriber
	pipes CaptionFeeder
}

func NewRecognitionConsumer(sub message.Subscriber, pipes CaptionFeeder) *RecognitionConsumer {
	return &RecognitionConsumer{sub: sub, pipes: pipes}
}

func (c *RecognitionConsumer) Run(ctx context.Context) error {
	msgs, err := c.sub.Subscribe(ctx, TopicRecognition)
	if err != nil {
		return err
	}
	go func() {
		for msg := range msgs {
			c.process(msg)
		}
	}()
	return nil
}

func (c *RecognitionConsumer) process(msg *message.Message) {
	// Always ack: a malformed recognition event is dropped, never retried.
	defer msg.Ack()

	var rm RecognitionMessage
	if err := json.Unmarshal(msg.Payload, &rm); err != nil {
		log.Warn().Err(err).Str("module", "events.recognition").Msg("bad recognition payload")
		return
	}
	ev := domain.RecognitionEvent{
		Label:       rm.Label,
		Confidence:  rm.Confidence,
		SourceTime:  time.UnixMilli(rm.SourceTimestampMs),
		ArrivalTime: time.UnixMilli(rm.ArrivalTimestampMs),
	}
	if ev.ArrivalTime.IsZero() || rm.ArrivalTimestampMs == 0 {
		ev.ArrivalTime = time.Now()
	}
	c.pipes.Offer(rm.SessionID, rm.ParticipantID, ev)
}
