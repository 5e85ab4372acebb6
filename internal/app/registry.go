package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/core"
	"github.com/conveycall/convey/internal/domain"
)

// memberEntry binds a participant record to adapter-owned transport and the
// latest quality score. Live connections are closed by the adapter; only a
// superseded connection is closed here.
type memberEntry struct {
	part  *domain.Participant
	conn  core.SignalConnection
	score float64
}

// sessionEntry is the per-session unit of mutual exclusion. Participants of
// different sessions never contend on the same lock.
type sessionEntry struct {
	mu      sync.Mutex
	sess    *domain.Session
	members []*memberEntry // join order, including left members
	peak    float64
}

func (e *sessionEntry) activeCount() int {
	n := 0
	for _, m := range e.members {
		if m.part.Active() {
			n++
		}
	}
	return n
}

func (e *sessionEntry) activeByID(pid domain.ParticipantID) *memberEntry {
	for _, m := range e.members {
		if m.part.ID == pid && m.part.Active() {
			return m
		}
	}
	return nil
}

// Registry is the single source of truth for session and membership state.
// It holds no network state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionEntry
	onEmpty  core.EmptySessionFunc
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.SessionID]*sessionEntry)}
}

// OnEmpty registers the lifecycle callback fired when a session loses its
// last active participant. Must be set before traffic flows.
func (r *Registry) OnEmpty(fn core.EmptySessionFunc) { r.onEmpty = fn }

func (r *Registry) entry(sid domain.SessionID) (*sessionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	return e, ok
}

// CreateSession allocates a session in Scheduled or Active state.
func (r *Registry) CreateSession(initiator domain.IdentityID, invited []domain.IdentityID, kind domain.SessionKind, scheduledAt time.Time, maxMembers int) (*domain.Session, error) {
	sess, err := domain.NewSession(initiator, invited, kind, scheduledAt, maxMembers)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[sess.ID] = &sessionEntry{sess: sess}
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("session", string(sess.ID)).
		Str("kind", string(kind)).Str("state", string(sess.State)).Msg("session created")
	return sess, nil
}

// Admit adds an active membership for identity. An identity reconnecting while
// its previous membership is still active supersedes it: the old record is
// stamped left, its connection closed, and a fresh participant returned.
func (r *Registry) Admit(sid domain.SessionID, identity domain.IdentityID) (*domain.Participant, error) {
	e, ok := r.entry(sid)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	var staleConn core.SignalConnection
	defer func() {
		// Outside the session lock; Close may block on transport teardown.
		if staleConn != nil {
			staleConn.Close()
		}
	}()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.State.Terminal() {
		return nil, domain.ErrSessionClosed
	}
	var stale *memberEntry
	for _, m := range e.members {
		if m.part.Identity == identity && m.part.Active() {
			stale = m
			break
		}
	}
	if stale == nil && e.activeCount() >= e.sess.MaxMembers {
		return nil, domain.ErrSessionFull
	}
	if stale != nil {
		stale.part.LeftAt = time.Now()
		staleConn = stale.conn
		stale.conn = nil
		log.Info().Str("module", "app.registry").Str("session", string(sid)).
			Str("identity", string(identity)).Msg("superseded stale membership")
	}
	p := domain.NewParticipant(identity)
	e.members = append(e.members, &memberEntry{part: p})
	log.Info().Str("module", "app.registry").Str("session", string(sid)).
		Str("participant", string(p.ID)).Str("identity", string(identity)).Msg("participant admitted")
	return p, nil
}

// BindSignal attaches the adapter-owned transport to an admitted participant.
func (r *Registry) BindSignal(sid domain.SessionID, pid domain.ParticipantID, conn core.SignalConnection) bool {
	e, ok := r.entry(sid)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.activeByID(pid)
	if m == nil {
		return false
	}
	m.conn = conn
	return true
}

// Remove stamps the leave timestamp. Idempotent: removing an already-left or
// unknown participant is a no-op. Fires the empty-session callback when the
// last active participant leaves.
func (r *Registry) Remove(sid domain.SessionID, pid domain.ParticipantID) {
	e, ok := r.entry(sid)
	if !ok {
		return
	}
	e.mu.Lock()
	m := e.activeByID(pid)
	if m == nil {
		e.mu.Unlock()
		return
	}
	m.part.LeftAt = time.Now()
	m.conn = nil
	empty := e.activeCount() == 0
	e.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("session", string(sid)).
		Str("participant", string(pid)).Bool("empty", empty).Msg("participant removed")
	if empty && r.onEmpty != nil {
		r.onEmpty(sid)
	}
}

// ListActiveParticipants returns the active memberships in join order.
func (r *Registry) ListActiveParticipants(sid domain.SessionID) ([]*domain.Participant, error) {
	e, ok := r.entry(sid)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.Participant, 0, len(e.members))
	for _, m := range e.members {
		if m.part.Active() {
			out = append(out, m.part)
		}
	}
	return out, nil
}

// ActiveEndpoints returns transport endpoints for fan-out, in join order.
// Participants without a bound connection are skipped.
func (r *Registry) ActiveEndpoints(sid domain.SessionID) []core.Endpoint {
	e, ok := r.entry(sid)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.Endpoint, 0, len(e.members))
	for _, m := range e.members {
		if m.part.Active() && m.conn != nil {
			out = append(out, core.Endpoint{Part: m.part, Conn: m.conn})
		}
	}
	return out
}

// EndpointOf resolves a single active participant's endpoint.
func (r *Registry) EndpointOf(sid domain.SessionID, pid domain.ParticipantID) (core.Endpoint, bool) {
	e, ok := r.entry(sid)
	if !ok {
		return core.Endpoint{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.activeByID(pid)
	if m == nil || m.conn == nil {
		return core.Endpoint{}, false
	}
	return core.Endpoint{Part: m.part, Conn: m.conn}, true
}

// ActiveCount reports active memberships; zero for unknown sessions.
func (r *Registry) ActiveCount(sid domain.SessionID) int {
	e, ok := r.entry(sid)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCount()
}

// SetQuality overwrites the participant's latest composite score and keeps
// the session peak for the final summary. No history is retained.
func (r *Registry) SetQuality(sid domain.SessionID, pid domain.ParticipantID, score float64) {
	e, ok := r.entry(sid)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if m := e.activeByID(pid); m != nil {
		m.score = score
		if score > e.peak {
			e.peak = score
		}
	}
}

// PeakQuality returns the best composite score seen over the session's life.
func (r *Registry) PeakQuality(sid domain.SessionID) float64 {
	e, ok := r.entry(sid)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peak
}

// ParticipantIdentities lists every identity that held a membership over the
// session's life, deduplicated, in first-join order. Used for the summary.
func (r *Registry) ParticipantIdentities(sid domain.SessionID) []domain.IdentityID {
	e, ok := r.entry(sid)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[domain.IdentityID]bool, len(e.members))
	out := make([]domain.IdentityID, 0, len(e.members))
	for _, m := range e.members {
		if !seen[m.part.Identity] {
			seen[m.part.Identity] = true
			out = append(out, m.part.Identity)
		}
	}
	return out
}

// SessionLive reports whether the session exists and is not terminal.
func (r *Registry) SessionLive(sid domain.SessionID) bool {
	e, ok := r.entry(sid)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.sess.State.Terminal()
}

// ParticipantActive reports whether pid holds an active membership in a
// live session. Gates the recognition ingress.
func (r *Registry) ParticipantActive(sid domain.SessionID, pid domain.ParticipantID) bool {
	e, ok := r.entry(sid)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.sess.State.Terminal() && e.activeByID(pid) != nil
}

// UpdateState runs fn on the session under the per-session guard.
// fn must either mutate and return nil, or leave the session untouched.
func (r *Registry) UpdateState(sid domain.SessionID, fn func(*domain.Session) error) error {
	e, ok := r.entry(sid)
	if !ok {
		return domain.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.sess)
}

// SessionView returns a copy of the session record.
func (r *Registry) SessionView(sid domain.SessionID) (domain.Session, error) {
	e, ok := r.entry(sid)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.sess, nil
}

// ActiveSessionIDs lists sessions not yet in a terminal state.
func (r *Registry) ActiveSessionIDs() []domain.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SessionID, 0, len(r.sessions))
	for sid, e := range r.sessions {
		e.mu.Lock()
		terminal := e.sess.State.Terminal()
		e.mu.Unlock()
		if !terminal {
			out = append(out, sid)
		}
	}
	return out
}

// Snapshot builds the read-only dashboard view.
func (r *Registry) Snapshot(sid domain.SessionID) (core.SessionSnapshot, error) {
	e, ok := r.entry(sid)
	if !ok {
		return core.SessionSnapshot{}, domain.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := core.SessionSnapshot{
		ID:         e.sess.ID,
		Kind:       e.sess.Kind,
		State:      e.sess.State,
		MaxMembers: e.sess.MaxMembers,
	}
	if !e.sess.ScheduledAt.IsZero() {
		t := e.sess.ScheduledAt
		snap.ScheduledAt = &t
	}
	for _, m := range e.members {
		if !m.part.Active() {
			continue
		}
		snap.Participants = append(snap.Participants, core.ParticipantDTO{
			ID:       m.part.ID,
			Identity: m.part.Identity,
			JoinedAt: m.part.JoinedAt,
			Quality:  m.score,
			Band:     domain.BandOf(m.score),
		})
	}
	snap.MemberCount = len(snap.Participants)
	return snap, nil
}
