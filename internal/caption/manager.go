package caption

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/domain"
)

// DispatchFunc pushes a display update down the session transport.
type DispatchFunc func(Update)

// GateFunc reports whether a session may carry captions. Wired to the
// registry so unknown and ended sessions never get a pipeline.
type GateFunc func(domain.SessionID) bool

// Manager owns one pipeline per session. Pipelines are created lazily on the
// first recognition event and torn down when the session ends; the gate
// keeps a late event from resurrecting a torn-down pipeline.
type Manager struct {
	cfg      Config
	tts      Speaker
	ctx      context.Context
	dispatch DispatchFunc
	gate     GateFunc

	mu    sync.RWMutex
	pipes map[domain.SessionID]*pipeEntry
}

type pipeEntry struct {
	pipe   *Pipeline
	cancel context.CancelFunc
}

func NewManager(ctx context.Context, cfg Config, tts Speaker, gate GateFunc) *Manager {
	return &Manager{
		cfg:   cfg,
		tts:   tts,
		ctx:   ctx,
		gate:  gate,
		pipes: make(map[domain.SessionID]*pipeEntry),
	}
}

// SetDispatch wires the transport-side consumer. Must be set before traffic.
func (m *Manager) SetDispatch(fn DispatchFunc) { m.dispatch = fn }

func (m *Manager) getOrCreate(sid domain.SessionID) *Pipeline {
	m.mu.RLock()
	e, ok := m.pipes[sid]
	m.mu.RUnlock()
	if ok {
		return e.pipe
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.pipes[sid]; ok {
		return e.pipe
	}
	if m.gate != nil && !m.gate(sid) {
		log.Debug().Str("module", "caption.manager").Str("session", string(sid)).
			Msg("recognition event for unavailable session dropped")
		return nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	p := NewPipeline(sid, m.cfg, m.tts)
	m.pipes[sid] = &pipeEntry{pipe: p, cancel: cancel}
	go p.Run(ctx)
	go m.forward(p)
	log.Info().Str("module", "caption.manager").Str("session", string(sid)).Msg("pipeline started")
	return p
}

func (m *Manager) forward(p *Pipeline) {
	for u := range p.Updates() {
		if m.dispatch != nil {
			m.dispatch(u)
		}
	}
}

// Offer routes one recognition event to its session pipeline. Events for
// sessions the gate rejects are dropped.
func (m *Manager) Offer(sid domain.SessionID, pid domain.ParticipantID, ev domain.RecognitionEvent) {
	if p := m.getOrCreate(sid); p != nil {
		p.Offer(pid, ev)
	}
}

// Export serializes the session's caption history.
func (m *Manager) Export(sid domain.SessionID) (string, error) {
	m.mu.RLock()
	e, ok := m.pipes[sid]
	m.mu.RUnlock()
	if !ok {
		return "", domain.ErrSessionNotFound
	}
	return Export(sid, e.pipe.History().Snapshot(), time.Now()), nil
}

// Stop tears a session's pipeline down. The history goes with it.
func (m *Manager) Stop(sid domain.SessionID) {
	m.mu.Lock()
	e, ok := m.pipes[sid]
	if ok {
		delete(m.pipes, sid)
	}
	m.mu.Unlock()
	if ok {
		e.cancel()
		log.Info().Str("module", "caption.manager").Str("session", string(sid)).Msg("pipeline stopped")
	}
}
