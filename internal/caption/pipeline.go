// Package caption turns the recognition event stream into a UI-consumable
// caption state: one current caption per session participant, a bounded
// history, and a hard source-to-display latency budget that is monitored,
// never enforced by dropping.
package caption

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/domain"
)

type Config struct {
	// MinConfidence is the inclusive acceptance threshold.
	MinConfidence float64
	// LatencyBudget is the source-to-display bound; violations display
	// anyway and are logged.
	LatencyBudget time.Duration
	// DisplayFor is the auto-hide duration of a current caption.
	DisplayFor time.Duration
	// HistoryCap bounds the per-session caption history.
	HistoryCap int
}

type UpdateKind string

const (
	UpdateSet     UpdateKind = "set"
	UpdateCleared UpdateKind = "cleared"
)

// Update is one display-state change pushed back to the session transport.
type Update struct {
	Kind          UpdateKind
	SessionID     domain.SessionID
	ParticipantID domain.ParticipantID
	Caption       domain.Caption
}

// Speaker voices accepted labels. Fire-and-forget; a nil Speaker disables TTS.
type Speaker interface {
	Speak(sid domain.SessionID, pid domain.ParticipantID, text string)
}

type ingest struct {
	pid domain.ParticipantID
	ev  domain.RecognitionEvent
}

// slot holds the current caption of one participant together with its armed
// auto-hide timer. The timer is always stopped before a replacement is set.
type slot struct {
	cap   domain.Caption
	timer *time.Timer
}

// Pipeline is the per-session caption worker. A single goroutine consumes
// the ingest channel, which serializes caption application in arrival order.
type Pipeline struct {
	sid     domain.SessionID
	cfg     Config
	tts     Speaker
	in      chan ingest
	updates chan Update

	mu      sync.Mutex
	closed  bool
	current map[domain.ParticipantID]*slot
	hist    *History
}

func NewPipeline(sid domain.SessionID, cfg Config, tts Speaker) *Pipeline {
	return &Pipeline{
		sid:     sid,
		cfg:     cfg,
		tts:     tts,
		in:      make(chan ingest, 256),
		updates: make(chan Update, 64),
		current: make(map[domain.ParticipantID]*slot),
		hist:    NewHistory(cfg.HistoryCap),
	}
}

// Updates is the display-state output channel consumed by the transport.
func (p *Pipeline) Updates() <-chan Update { return p.updates }

// Offer enqueues a recognition event without blocking. A full queue drops
// the event: a bursty recognizer must not stall the session.
func (p *Pipeline) Offer(pid domain.ParticipantID, ev domain.RecognitionEvent) {
	select {
	case p.in <- ingest{pid: pid, ev: ev}:
	default:
		log.Warn().Str("module", "caption.pipeline").Str("session", string(p.sid)).
			Str("participant", string(pid)).Msg("ingest queue full, event dropped")
	}
}

// Run consumes events until ctx is cancelled, then disarms all timers.
func (p *Pipeline) Run(ctx context.Context) {
	defer p.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-p.in:
			p.apply(it.pid, it.ev)
		}
	}
}

func (p *Pipeline) apply(pid domain.ParticipantID, ev domain.RecognitionEvent) {
	if ev.Label == "" || ev.Confidence < p.cfg.MinConfidence {
		log.Debug().Str("module", "caption.pipeline").Str("session", string(p.sid)).
			Float64("confidence", ev.Confidence).Msg("recognition event filtered")
		return
	}

	now := time.Now()
	if delay := now.Sub(ev.SourceTime); delay > p.cfg.LatencyBudget {
		// Displayed anyway: correctness over dropping. Monitored degradation.
		log.Warn().Str("module", "caption.pipeline").Str("session", string(p.sid)).
			Str("participant", string(pid)).Dur("delay", delay).
			Dur("budget", p.cfg.LatencyBudget).Msg("caption latency budget exceeded")
	}

	c := domain.NewCaption(ev.Label, ev.Confidence, p.cfg.DisplayFor)

	p.mu.Lock()
	if old, ok := p.current[pid]; ok {
		old.timer.Stop()
	}
	s := &slot{cap: c}
	s.timer = time.AfterFunc(p.cfg.DisplayFor, func() { p.autoHide(pid, c.ID) })
	p.current[pid] = s
	p.mu.Unlock()

	p.hist.Append(c)
	p.emit(Update{Kind: UpdateSet, SessionID: p.sid, ParticipantID: pid, Caption: c})

	if p.tts != nil {
		go p.tts.Speak(p.sid, pid, c.Text)
	}
}

// autoHide clears the current slot only if it still references the caption
// the timer was armed for. A fired timer whose caption was superseded is a
// no-op, not an error.
func (p *Pipeline) autoHide(pid domain.ParticipantID, id domain.CaptionID) {
	p.mu.Lock()
	s, ok := p.current[pid]
	if !ok || s.cap.ID != id {
		p.mu.Unlock()
		return
	}
	cleared := s.cap
	delete(p.current, pid)
	p.mu.Unlock()

	p.emit(Update{Kind: UpdateCleared, SessionID: p.sid, ParticipantID: pid, Caption: cleared})
}

// Current returns the participant's visible caption, if any.
func (p *Pipeline) Current(pid domain.ParticipantID) (domain.Caption, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.current[pid]
	if !ok {
		return domain.Caption{}, false
	}
	return s.cap, true
}

// History exposes the session's bounded caption history.
func (p *Pipeline) History() *History { return p.hist }

// emit holds the guard across the send so a racing shutdown cannot close
// the updates channel between the closed check and the send. A timer that
// fires during teardown lands here and must be a no-op.
func (p *Pipeline) emit(u Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.updates <- u:
	default:
		log.Warn().Str("module", "caption.pipeline").Str("session", string(p.sid)).
			Msg("update queue full, display update dropped")
	}
}

func (p *Pipeline) shutdown() {
	p.mu.Lock()
	p.closed = true
	for pid, s := range p.current {
		s.timer.Stop()
		delete(p.current, pid)
	}
	p.mu.Unlock()
	close(p.updates)
}
