package domain

import (
	"time"

	"github.com/google/uuid"
)

type CaptionID string

// RecognitionEvent is one prediction from the external sign-recognition
// collaborator. SourceTime is when the underlying video frame was captured,
// ArrivalTime when this process received the event.
type RecognitionEvent struct {
	Label       string
	Confidence  float64
	SourceTime  time.Time
	ArrivalTime time.Time
}

// Caption is the rendered, time-bounded representation of an accepted
// recognition event. Immutable once created.
type Caption struct {
	ID          CaptionID
	Text        string
	Confidence  float64
	DisplayedAt time.Time
	DisplayFor  time.Duration
}

func NewCaption(text string, confidence float64, displayFor time.Duration) Caption {
	return Caption{
		ID:          CaptionID(uuid.NewString()),
		Text:        text,
		Confidence:  confidence,
		DisplayedAt: time.Now(),
		DisplayFor:  displayFor,
	}
}
