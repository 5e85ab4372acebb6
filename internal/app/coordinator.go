package app

import (
	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/core"
	"github.com/conveycall/convey/internal/domain"
)

// Coordinator routes signaling between exactly the participants of a shared
// session. It validates membership on every operation and never interprets
// SDP/ICE payload contents. Message encoding lives in the signal adapter;
// the coordinator moves opaque frames.
type Coordinator struct {
	reg *Registry
}

func NewCoordinator(reg *Registry) *Coordinator {
	return &Coordinator{reg: reg}
}

// Join admits the identity and binds its transport. The caller broadcasts
// the joined notice afterwards; fan-out order is the recipients' join order
// because ActiveEndpoints preserves it.
func (c *Coordinator) Join(sid domain.SessionID, identity domain.IdentityID, conn core.SignalConnection) (*domain.Participant, error) {
	p, err := c.reg.Admit(sid, identity)
	if err != nil {
		return nil, err
	}
	c.reg.BindSignal(sid, p.ID, conn)
	return p, nil
}

// Leave removes the membership. Idempotent with the idle-timeout path: the
// second removal is a no-op inside the registry.
func (c *Coordinator) Leave(sid domain.SessionID, pid domain.ParticipantID) {
	c.reg.Remove(sid, pid)
}

// Relay delivers a frame to a single named participant. Both sender and
// target must be currently admitted to the session. A full target queue
// surfaces the transport's backpressure error so the adapter can warn the
// sender; the frame is dropped, never retried.
func (c *Coordinator) Relay(sid domain.SessionID, from, target domain.ParticipantID, frame core.Frame) error {
	if _, ok := c.reg.EndpointOf(sid, from); !ok {
		return domain.ErrUnknownTarget
	}
	ep, ok := c.reg.EndpointOf(sid, target)
	if !ok {
		return domain.ErrUnknownTarget
	}
	if err := ep.Conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("session", string(sid)).
			Str("from", string(from)).Str("target", string(target)).Msg("relay frame dropped")
		return err
	}
	return nil
}

// Broadcast fans a frame out to every connected participant except the
// sender, in join order. Slow recipients lose the frame; live signaling
// favors recency over completeness.
func (c *Coordinator) Broadcast(sid domain.SessionID, except domain.ParticipantID, frame core.Frame) int {
	sent := 0
	for _, ep := range c.reg.ActiveEndpoints(sid) {
		if ep.Part.ID == except {
			continue
		}
		if err := ep.Conn.TrySend(frame); err != nil {
			log.Warn().Str("module", "app.coordinator").Str("session", string(sid)).
				Str("target", string(ep.Part.ID)).Msg("broadcast frame dropped")
			continue
		}
		sent++
	}
	return sent
}

// Snapshot proxies the registry's dashboard view for the adapter.
func (c *Coordinator) Snapshot(sid domain.SessionID) (core.SessionSnapshot, error) {
	return c.reg.Snapshot(sid)
}
