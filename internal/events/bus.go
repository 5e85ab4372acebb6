// Package events carries the process-local event bus and the fire-and-forget
// notifications exchanged with external collaborators (call history, TTS) and
// the recognition ingress feeding the caption pipeline.
package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

const (
	// TopicRecognition carries recognition events from the ingress adapter
	// to the caption pipeline.
	TopicRecognition = "captions.recognized"
	// TopicSummary carries the single final session summary per ended call.
	TopicSummary = "calls.summary"
	// TopicTTS carries accepted caption labels to the text-to-speech collaborator.
	TopicTTS = "captions.tts"
)

// NewBus builds the in-process pub/sub. Delivery is ordered per topic, which
// the caption pipeline relies on for arrival-order processing.
func NewBus(logger zerolog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, newWatermillLogger(logger))
}

// watermillLogger bridges watermill's logging onto zerolog.
type watermillLogger struct {
	l zerolog.Logger
}

func newWatermillLogger(l zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{l: l.With().Str("module", "events.bus").Logger()}
}

func (w *watermillLogger) logFields(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logFields(w.l.Error().Err(err), fields).Msg(msg)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logFields(w.l.Info(), fields).Msg(msg)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logFields(w.l.Debug(), fields).Msg(msg)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logFields(w.l.Trace(), fields).Msg(msg)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := w.l.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &watermillLogger{l: ctx.Logger()}
}
