package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/domain"
	"github.com/conveycall/convey/internal/events"
)

// SummarySink receives the final session summary. Implemented by the
// watermill publisher; faked in tests.
type SummarySink interface {
	Publish(events.SessionSummary)
}

// EndedFunc is told when a session reaches Ended so dependent state
// (caption pipelines) can be torn down.
type EndedFunc func(domain.SessionID)

// Lifecycle drives Scheduled -> Active -> Ended and the two terminal
// side paths. All transitions are check-then-act under the registry's
// per-session guard; terminal states are absorbing.
type Lifecycle struct {
	reg     *Registry
	summary SummarySink
	grace   time.Duration
	onEnded EndedFunc

	mu     sync.Mutex
	starts map[domain.SessionID]*time.Timer
}

func NewLifecycle(reg *Registry, summary SummarySink, grace time.Duration) *Lifecycle {
	l := &Lifecycle{
		reg:     reg,
		summary: summary,
		grace:   grace,
		starts:  make(map[domain.SessionID]*time.Timer),
	}
	reg.OnEmpty(l.onSessionEmpty)
	return l
}

// OnEnded registers the teardown hook for ended sessions.
func (l *Lifecycle) OnEnded(fn EndedFunc) { l.onEnded = fn }

// Create allocates a session. A scheduled session arms an auto-start timer
// for its start time; whichever of the timer and an explicit Start fires
// first wins, the loser is a no-op.
func (l *Lifecycle) Create(initiator domain.IdentityID, invited []domain.IdentityID, kind domain.SessionKind, scheduledAt time.Time, maxMembers int) (*domain.Session, error) {
	sess, err := l.reg.CreateSession(initiator, invited, kind, scheduledAt, maxMembers)
	if err != nil {
		return nil, err
	}
	if sess.State == domain.StateScheduled {
		sid := sess.ID
		t := time.AfterFunc(time.Until(scheduledAt), func() { l.autoStart(sid) })
		l.mu.Lock()
		l.starts[sid] = t
		l.mu.Unlock()
	}
	return sess, nil
}

func (l *Lifecycle) dropStartTimer(sid domain.SessionID) {
	l.mu.Lock()
	if t, ok := l.starts[sid]; ok {
		t.Stop()
		delete(l.starts, sid)
	}
	l.mu.Unlock()
}

func (l *Lifecycle) activate(sid domain.SessionID) error {
	err := l.reg.UpdateState(sid, func(s *domain.Session) error {
		switch s.State {
		case domain.StateScheduled:
			s.State = domain.StateActive
			s.StartedAt = time.Now()
			return nil
		case domain.StateActive:
			return domain.ErrAlreadyStarted
		default:
			return domain.ErrInvalidState
		}
	})
	if err == nil {
		l.dropStartTimer(sid)
		log.Info().Str("module", "app.lifecycle").Str("session", string(sid)).Msg("session started")
	}
	return err
}

// Start is the initiator's explicit activation of a scheduled session.
func (l *Lifecycle) Start(sid domain.SessionID, by domain.IdentityID) error {
	sess, err := l.reg.SessionView(sid)
	if err != nil {
		return err
	}
	if sess.Initiator != by {
		return domain.ErrNotInitiator
	}
	return l.activate(sid)
}

func (l *Lifecycle) autoStart(sid domain.SessionID) {
	if err := l.activate(sid); err != nil {
		log.Debug().Err(err).Str("module", "app.lifecycle").
			Str("session", string(sid)).Msg("auto start skipped")
	}
}

// End transitions Active -> Ended. Idempotent: ending an already-ended
// session returns nil and emits no second summary.
func (l *Lifecycle) End(sid domain.SessionID, by domain.IdentityID) error {
	sess, err := l.reg.SessionView(sid)
	if err != nil {
		return err
	}
	if sess.Initiator != by {
		return domain.ErrNotInitiator
	}
	return l.end(sid)
}

// end is the transition shared by the initiator path and the empty-session
// grace path. Exactly one caller observes the Active -> Ended flip and owns
// the summary emission.
func (l *Lifecycle) end(sid domain.SessionID) error {
	var view domain.Session
	err := l.reg.UpdateState(sid, func(s *domain.Session) error {
		switch s.State {
		case domain.StateActive:
			s.State = domain.StateEnded
			s.EndedAt = time.Now()
			view = *s
			return nil
		case domain.StateEnded:
			return nil // idempotent
		default:
			return domain.ErrInvalidState
		}
	})
	if err != nil || view.ID == "" {
		return err
	}

	l.dropStartTimer(sid)
	summary := events.SessionSummary{
		SessionID:   view.ID,
		Kind:        view.Kind,
		StartedAt:   view.StartedAt,
		EndedAt:     view.EndedAt,
		DurationMs:  view.EndedAt.Sub(view.StartedAt).Milliseconds(),
		PeakQuality: l.reg.PeakQuality(sid),
	}
	summary.Participants = l.reg.ParticipantIdentities(sid)
	go l.summary.Publish(summary)

	if l.onEnded != nil {
		l.onEnded(sid)
	}
	log.Info().Str("module", "app.lifecycle").Str("session", string(sid)).
		Int64("duration_ms", summary.DurationMs).Msg("session ended")
	return nil
}

// Cancel transitions Scheduled -> Cancelled. Only the initiator, only while
// still scheduled.
func (l *Lifecycle) Cancel(sid domain.SessionID, by domain.IdentityID) error {
	sess, err := l.reg.SessionView(sid)
	if err != nil {
		return err
	}
	if sess.Initiator != by {
		return domain.ErrNotInitiator
	}
	err = l.reg.UpdateState(sid, func(s *domain.Session) error {
		if s.State != domain.StateScheduled {
			return domain.ErrInvalidState
		}
		s.State = domain.StateCancelled
		return nil
	})
	if err == nil {
		l.dropStartTimer(sid)
		log.Info().Str("module", "app.lifecycle").Str("session", string(sid)).Msg("session cancelled")
	}
	return err
}

// onSessionEmpty arms the grace timer. The timer re-checks occupancy when it
// fires, so a participant reconnecting within the grace window keeps the
// session alive without any timer bookkeeping.
func (l *Lifecycle) onSessionEmpty(sid domain.SessionID) {
	time.AfterFunc(l.grace, func() {
		if l.reg.ActiveCount(sid) > 0 {
			return
		}
		sess, err := l.reg.SessionView(sid)
		if err != nil || sess.State != domain.StateActive {
			return
		}
		log.Info().Str("module", "app.lifecycle").Str("session", string(sid)).
			Dur("grace", l.grace).Msg("session empty past grace, ending")
		if err := l.end(sid); err != nil {
			log.Debug().Err(err).Str("module", "app.lifecycle").
				Str("session", string(sid)).Msg("auto end skipped")
		}
	})
}
